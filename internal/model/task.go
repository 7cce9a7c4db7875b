package model

import (
	"encoding/json"
	"fmt"
)

// TaskType is the kind of computation a task requests.
type TaskType string

const (
	TaskTypeGenerateToolPath TaskType = "generateToolPath"
	TaskTypeGenerateGcode    TaskType = "generateGcode"
	TaskTypeGenerateViewPath TaskType = "generateViewPath"
	TaskTypeProcessImage     TaskType = "processImage"
	TaskTypeCutModel         TaskType = "cutModel"
	TaskTypeSVGClipping      TaskType = "svgClipping"
)

// TaskTypes is the closed set of supported task types.
var TaskTypes = []TaskType{
	TaskTypeGenerateToolPath,
	TaskTypeGenerateGcode,
	TaskTypeGenerateViewPath,
	TaskTypeProcessImage,
	TaskTypeCutModel,
	TaskTypeSVGClipping,
}

// ParseTaskType returns the task type for its wire name.
func ParseTaskType(s string) (TaskType, error) {
	for _, t := range TaskTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown task type %q: %w", s, ErrNotValid)
}

// HeadType is the product subsystem that issued a task.
type HeadType string

const (
	HeadTypePrinting HeadType = "printing"
	HeadTypeLaser    HeadType = "laser"
	HeadTypeCNC      HeadType = "cnc"
)

// TaskStatus represents the state of a task.
//
// Lifecycle: idle -> dispatched -> completed | failed | deprecated.
type TaskStatus string

const (
	TaskStatusIdle       TaskStatus = "idle"
	TaskStatusDispatched TaskStatus = "dispatched"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusDeprecated TaskStatus = "deprecated"
)

// Terminal returns true when no more transitions can happen from the status.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusDeprecated
}

// Task is one requested unit of background computation.
type Task struct {
	ID       string
	Type     TaskType
	HeadType HeadType
	// ModelID is the identity key used together with Type for deduplication.
	ModelID string
	// Data is forwarded untouched to the worker.
	Data json.RawMessage

	Status     TaskStatus
	Result     TaskResult
	Error      string
	FinishTime int64 // Unix milliseconds.
}

// Equal returns true when both tasks have the same identity.
func (t Task) Equal(other Task) bool {
	return t.Type == other.Type && t.ModelID == other.ModelID
}

// Snapshot returns the serializable view of the task.
func (t Task) Snapshot() TaskSnapshot {
	return TaskSnapshot{
		TaskID:     t.ID,
		TaskType:   t.Type,
		HeadType:   t.HeadType,
		ModelID:    t.ModelID,
		TaskStatus: t.Status,
		FinishTime: t.FinishTime,
		Error:      t.Error,
		TaskResult: t.Result,
	}
}

// TaskSnapshot is the transport representation of a task.
type TaskSnapshot struct {
	TaskID     string     `json:"taskId"`
	TaskType   TaskType   `json:"taskType"`
	HeadType   HeadType   `json:"headType"`
	ModelID    string     `json:"modelId,omitempty"`
	TaskStatus TaskStatus `json:"taskStatus"`
	FinishTime int64      `json:"finishTime,omitempty"`
	Error      string     `json:"error,omitempty"`
	TaskResult
}

// TaskProgress is the payload of a task progress event.
type TaskProgress struct {
	Progress float64  `json:"progress"`
	HeadType HeadType `json:"headType"`
}
