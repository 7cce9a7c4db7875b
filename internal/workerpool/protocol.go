package workerpool

import "encoding/json"

// Operation is the name of a method a worker process exposes.
type Operation string

const (
	OperationGenerateToolPath Operation = "generateToolPath"
	OperationGenerateGcode    Operation = "generateGcode"
	OperationGenerateViewPath Operation = "generateViewPath"
	OperationProcessImage     Operation = "processImage"
	OperationCutModel         Operation = "cutModel"
	OperationSVGClipping      Operation = "svgClipping"
)

// MessageStatus is the kind of a call notification.
type MessageStatus string

const (
	StatusProgress MessageStatus = "progress"
	StatusComplete MessageStatus = "complete"
	StatusFail     MessageStatus = "fail"
)

// Request is the frame the pool writes to a worker process stdin, one JSON document per line.
type Request struct {
	CallID    string          `json:"callId"`
	Operation Operation       `json:"operation"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Response is the frame a worker process writes to its stdout.
type Response struct {
	CallID   string          `json:"callId"`
	Status   MessageStatus   `json:"status"`
	Progress float64         `json:"progress,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
	Error    string          `json:"error,omitempty"`
}
