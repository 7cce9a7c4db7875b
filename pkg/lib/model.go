package lib

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/slok/taskd/internal/client"
	"github.com/slok/taskd/internal/model"
)

// Errors returned by the SDK, check them with [errors.Is].
var (
	// ErrNotFound is returned when the task does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotValid is returned for invalid input.
	ErrNotValid = errors.New("not valid")
	// ErrCancelTimeout is returned when a cancelled task doesn't report its result in time.
	ErrCancelTimeout = errors.New("cancel timeout")
)

// TaskType identifies the computation a task runs.
type TaskType string

const (
	// TaskTypeGenerateToolPath computes the tool paths of the models.
	TaskTypeGenerateToolPath TaskType = "generateToolPath"
	// TaskTypeGenerateGcode renders tool paths as a G-code file.
	TaskTypeGenerateGcode TaskType = "generateGcode"
	// TaskTypeGenerateViewPath computes the preview segments of tool paths.
	TaskTypeGenerateViewPath TaskType = "generateViewPath"
	// TaskTypeProcessImage resizes and converts an image for engraving.
	TaskTypeProcessImage TaskType = "processImage"
	// TaskTypeCutModel slices an STL model in layers.
	TaskTypeCutModel TaskType = "cutModel"
	// TaskTypeSVGClipping clips SVG shapes to a rectangle.
	TaskTypeSVGClipping TaskType = "svgClipping"
)

// HeadType is the machine head a task is for.
type HeadType string

const (
	HeadTypePrinting HeadType = "printing"
	HeadTypeLaser    HeadType = "laser"
	HeadTypeCNC      HeadType = "cnc"
)

// TaskStatus represents the lifecycle state of a task.
//
//	idle -> dispatched -> completed | failed | deprecated
type TaskStatus string

const (
	// TaskStatusIdle indicates the task is registered but not sent to a worker yet.
	TaskStatusIdle TaskStatus = "idle"
	// TaskStatusDispatched indicates a worker is running the task.
	TaskStatusDispatched TaskStatus = "dispatched"
	// TaskStatusCompleted indicates the task finished with a result.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task finished with an error or was cancelled.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusDeprecated indicates a newer task with the same identity superseded it.
	TaskStatusDeprecated TaskStatus = "deprecated"
)

// SubmitTaskOpts are the options to submit a task.
type SubmitTaskOpts struct {
	// ID correlates the task events, a random one is used when empty.
	ID string
	// Type is required.
	Type     TaskType
	HeadType HeadType
	// ModelID is the identity key, together with the type, used to supersede running tasks.
	ModelID string
	// Data is the JSON payload of the task.
	Data json.RawMessage
	// OnProgress receives the task progress in [0, 1]. Optional.
	OnProgress func(progress float64)
}

// Task is a read-only snapshot of a task returned by the SDK.
type Task struct {
	ID       string
	Type     TaskType
	HeadType HeadType
	ModelID  string
	Status   TaskStatus
	// Error is the failure reason of failed tasks.
	Error string
	// FinishedAt is zero while the task is running.
	FinishedAt time.Time
	Result     TaskResult
}

// TaskResult holds the result of a task, only the fields of its type are set.
type TaskResult struct {
	// Filenames of generateToolPath and svgClipping.
	Filenames []string
	// GcodeFile of generateGcode.
	GcodeFile *GcodeFile
	// ViewPathFile of generateViewPath.
	ViewPathFile string
	// Filename, Width and Height of processImage.
	Filename string
	Width    float64
	Height   float64
	// STLInfo and SVGInfo of cutModel, raw JSON documents.
	STLInfo json.RawMessage
	SVGInfo json.RawMessage
}

// GcodeFile describes a generated G-code file.
type GcodeFile struct {
	Name string
	Size int64
	// LastModified is the file modification time.
	LastModified time.Time
	// EstimatedTime is the estimated machine time.
	EstimatedTime time.Duration
	Thumbnail     string
	// Header has the metadata of the G-code header.
	Header map[string]string
}

// ProgressState is the state of the service progress tracking.
type ProgressState string

const (
	ProgressStateEmpty   ProgressState = "empty"
	ProgressStateRunning ProgressState = "running"
	ProgressStateSuccess ProgressState = "success"
	ProgressStateFailed  ProgressState = "failed"
)

// Progress is the progress of the logical operation running on the service.
type Progress struct {
	// Stage is the operation name, empty when nothing ran yet.
	Stage string
	State ProgressState
	// Progress is in [0, 1].
	Progress float64
	// Notice is the localized human readable status.
	Notice string
}

// Health is the service status.
type Health struct {
	Status     string
	MaxWorkers int
	Workers    int
	Busy       int
	Queued     int
}

// --- Task conversion helpers ---

func fromInternalTask(s model.TaskSnapshot) Task {
	t := Task{
		ID:       s.TaskID,
		Type:     TaskType(s.TaskType),
		HeadType: HeadType(s.HeadType),
		ModelID:  s.ModelID,
		Status:   TaskStatus(s.TaskStatus),
		Error:    s.Error,
		Result: TaskResult{
			Filenames:    s.Filenames,
			ViewPathFile: s.ViewPathFile,
			Filename:     s.Filename,
			Width:        s.Width,
			Height:       s.Height,
			STLInfo:      s.STLInfo,
			SVGInfo:      s.SVGInfo,
		},
	}

	if s.FinishTime > 0 {
		t.FinishedAt = time.UnixMilli(s.FinishTime).UTC()
	}

	if g := s.GcodeFile; g != nil {
		t.Result.GcodeFile = &GcodeFile{
			Name:          g.Name,
			Size:          g.Size,
			EstimatedTime: time.Duration(g.EstimatedTime * float64(time.Second)),
			Thumbnail:     g.Thumbnail,
			Header:        g.Header,
		}
		if g.LastModified > 0 {
			t.Result.GcodeFile.LastModified = time.UnixMilli(g.LastModified).UTC()
		}
	}

	return t
}

func fromInternalTaskList(ss []model.TaskSnapshot) []Task {
	result := make([]Task, len(ss))
	for i, s := range ss {
		result[i] = fromInternalTask(s)
	}
	return result
}

func mapError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, model.ErrNotFound):
		return joinErrors(err, ErrNotFound)
	case errors.Is(err, model.ErrNotValid):
		return joinErrors(err, ErrNotValid)
	case errors.Is(err, client.ErrCancelTimeout):
		return joinErrors(err, ErrCancelTimeout)
	default:
		return err
	}
}

func joinErrors(original, sentinel error) error {
	return &mappedError{original: original, sentinel: sentinel}
}

type mappedError struct {
	original error
	sentinel error
}

func (e *mappedError) Error() string { return e.original.Error() }

func (e *mappedError) Is(target error) bool {
	return target == e.sentinel
}

func (e *mappedError) Unwrap() error { return e.original }
