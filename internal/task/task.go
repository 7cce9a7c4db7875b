package task

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/slok/taskd/internal/gcode"
	"github.com/slok/taskd/internal/log"
	"github.com/slok/taskd/internal/model"
	"github.com/slok/taskd/internal/workerpool"
)

// Handle cancels a dispatched call.
type Handle interface {
	Terminate()
}

// Caller runs operations on workers. Implementations must not invoke the
// handler before Call returns.
type Caller interface {
	Call(op workerpool.Operation, payload any, onMessage workerpool.MessageHandler) Handle
}

// CallerFunc is a helper to use functions as Caller.
type CallerFunc func(op workerpool.Operation, payload any, onMessage workerpool.MessageHandler) Handle

// Call satisfies Caller interface.
func (f CallerFunc) Call(op workerpool.Operation, payload any, onMessage workerpool.MessageHandler) Handle {
	return f(op, payload, onMessage)
}

// NewPoolCaller returns a Caller backed by a worker pool.
func NewPoolCaller(p *workerpool.Pool) Caller {
	return CallerFunc(func(op workerpool.Operation, payload any, onMessage workerpool.MessageHandler) Handle {
		return p.Call(op, payload, onMessage)
	})
}

// Emitter sends task events to the client that committed the task.
type Emitter interface {
	Emit(event string, payload any) error
}

// Listener observes the task events. Progress of deprecated tasks is not notified.
type Listener interface {
	OnTaskProgress(t model.TaskSnapshot, progress float64)
	OnTaskFinished(t model.TaskSnapshot)
}

// ManagerConfig is the configuration for the task manager.
type ManagerConfig struct {
	Caller Caller
	// TempDir is the directory where workers leave their files.
	TempDir string
	// ParseGcodeHeader reads the header of a generated G-code file.
	ParseGcodeHeader func(path string) (map[string]string, error)
	// Listener is optional.
	Listener Listener
	Logger   log.Logger
}

func (c *ManagerConfig) defaults() error {
	if c.Caller == nil {
		return fmt.Errorf("caller is required")
	}

	if c.TempDir == "" {
		return fmt.Errorf("temp dir is required")
	}

	if c.ParseGcodeHeader == nil {
		c.ParseGcodeHeader = gcode.ParseHeaderFile
	}

	if c.Listener == nil {
		c.Listener = noopListener{}
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "task.Manager"})

	return nil
}

// entry is a registered task with its live handles.
type entry struct {
	task    model.Task
	emitter Emitter
	handle  Handle
}

// Manager schedules tasks on the workers. Tasks with the same identity
// supersede each other: only the newest one reports its result.
type Manager struct {
	caller      Caller
	tempDir     string
	parseHeader func(path string) (map[string]string, error)
	listener    Listener
	logger      log.Logger

	mu      sync.Mutex
	entries []*entry
}

// NewManager creates a new task manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Manager{
		caller:      cfg.Caller,
		tempDir:     cfg.TempDir,
		parseHeader: cfg.ParseGcodeHeader,
		listener:    cfg.Listener,
		logger:      cfg.Logger,
	}, nil
}

// AddTask registers and dispatches a task. Running tasks with the same identity
// are deprecated, they keep running but their result is not emitted.
// Events of the task are sent to emitter.
func (m *Manager) AddTask(ctx context.Context, t model.Task, emitter Emitter) error {
	logger := m.logger.WithCtxValues(ctx).WithValues(log.Kv{"task": t.ID, "type": t.Type})

	op, err := operationFor(t.Type)
	if err != nil {
		logger.Warningf("task dropped: %v", err)
		return err
	}

	if emitter == nil {
		emitter = noopEmitter{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entries {
		if e.task.Status.Terminal() || !e.task.Equal(t) {
			continue
		}
		e.task.Status = model.TaskStatusDeprecated
		logger.Debugf("task %s deprecated", e.task.ID)
	}

	e := &entry{
		task: model.Task{
			ID:       t.ID,
			Type:     t.Type,
			HeadType: t.HeadType,
			ModelID:  t.ModelID,
			Data:     t.Data,
			Status:   model.TaskStatusIdle,
		},
		emitter: emitter,
	}
	m.entries = append(m.entries, e)

	// The handle is stored before returning so a cancel right after is always valid.
	e.handle = m.caller.Call(op, e.task.Data, func(msg workerpool.Message) { m.handleMessage(e, msg) })
	e.task.Status = model.TaskStatusDispatched
	logger.Debugf("task dispatched")

	return nil
}

// CancelTask asks the worker to stop a task. The task stays registered until
// its terminal event arrives. Unknown or finished tasks are ignored.
func (m *Manager) CancelTask(ctx context.Context, taskID string) {
	m.mu.Lock()
	var handle Handle
	for _, e := range m.entries {
		if e.task.ID == taskID && !e.task.Status.Terminal() {
			handle = e.handle
			break
		}
	}
	m.mu.Unlock()

	if handle == nil {
		m.logger.WithCtxValues(ctx).Debugf("ignoring cancel of missing task %s", taskID)
		return
	}

	m.logger.WithCtxValues(ctx).Infof("cancelling task %s", taskID)
	handle.Terminate()
}

// Tasks returns the snapshots of the registered tasks.
func (m *Manager) Tasks() []model.TaskSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snaps := make([]model.TaskSnapshot, 0, len(m.entries))
	for _, e := range m.entries {
		snaps = append(snaps, e.task.Snapshot())
	}
	return snaps
}

func (m *Manager) handleMessage(e *entry, msg workerpool.Message) {
	switch msg.Status {
	case workerpool.StatusProgress:
		m.progress(e, msg.Progress)
	case workerpool.StatusComplete:
		result, err := m.shapeResult(e.task.Type, msg.Value)
		if err != nil {
			m.finish(e, model.TaskStatusFailed, model.TaskResult{}, err)
			return
		}
		m.finish(e, model.TaskStatusCompleted, result, nil)
	case workerpool.StatusFail:
		m.finish(e, model.TaskStatusFailed, model.TaskResult{}, msg.Err)
	default:
		m.logger.Warningf("unknown message status %q for task %s", msg.Status, e.task.ID)
	}
}

func (m *Manager) progress(e *entry, progress float64) {
	m.mu.Lock()
	snap := e.task.Snapshot()
	m.mu.Unlock()

	event := model.EventName(model.EventTaskProgress, snap.TaskType)
	err := e.emitter.Emit(event, model.TaskProgress{Progress: progress, HeadType: snap.HeadType})
	if err != nil {
		m.logger.Warningf("could not emit %s for task %s: %v", event, snap.TaskID, err)
	}

	if snap.TaskStatus != model.TaskStatusDeprecated {
		m.listener.OnTaskProgress(snap, progress)
	}
}

func (m *Manager) finish(e *entry, status model.TaskStatus, result model.TaskResult, taskErr error) {
	m.mu.Lock()
	deprecated := e.task.Status == model.TaskStatusDeprecated
	if !deprecated {
		e.task.Status = status
		e.task.FinishTime = time.Now().UnixMilli()
		e.task.Result = result
		if taskErr != nil {
			e.task.Error = taskErr.Error()
		}
	}
	snap := e.task.Snapshot()
	m.entries = slices.DeleteFunc(m.entries, func(x *entry) bool { return x == e })
	m.mu.Unlock()

	if deprecated {
		m.logger.Debugf("deprecated task %s finished, result discarded", snap.TaskID)
		return
	}

	if taskErr != nil {
		m.logger.Infof("task %s failed: %v", snap.TaskID, taskErr)
	} else {
		m.logger.Infof("task %s completed", snap.TaskID)
	}

	event := model.EventName(model.EventTaskCompleted, snap.TaskType)
	if err := e.emitter.Emit(event, snap); err != nil {
		m.logger.Warningf("could not emit %s for task %s: %v", event, snap.TaskID, err)
	}
	m.listener.OnTaskFinished(snap)
}

// operationFor maps every task type to its worker operation.
func operationFor(t model.TaskType) (workerpool.Operation, error) {
	switch t {
	case model.TaskTypeGenerateToolPath:
		return workerpool.OperationGenerateToolPath, nil
	case model.TaskTypeGenerateGcode:
		return workerpool.OperationGenerateGcode, nil
	case model.TaskTypeGenerateViewPath:
		return workerpool.OperationGenerateViewPath, nil
	case model.TaskTypeProcessImage:
		return workerpool.OperationProcessImage, nil
	case model.TaskTypeCutModel:
		return workerpool.OperationCutModel, nil
	case model.TaskTypeSVGClipping:
		return workerpool.OperationSVGClipping, nil
	}

	return "", fmt.Errorf("no runner for task type %q: %w", t, model.ErrNotValid)
}

// shapeResult keeps the result fields of the task type from a worker result.
func (m *Manager) shapeResult(t model.TaskType, raw json.RawMessage) (model.TaskResult, error) {
	var r model.TaskResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return model.TaskResult{}, fmt.Errorf("invalid %s result: %w", t, err)
	}

	switch t {
	case model.TaskTypeGenerateToolPath, model.TaskTypeSVGClipping:
		return model.TaskResult{Filenames: r.Filenames}, nil

	case model.TaskTypeGenerateGcode:
		if r.GcodeFile == nil || r.GcodeFile.Name == "" {
			return model.TaskResult{}, fmt.Errorf("gcode result without file: %w", model.ErrNotValid)
		}
		header, err := m.parseHeader(filepath.Join(m.tempDir, filepath.Base(r.GcodeFile.Name)))
		if err != nil {
			return model.TaskResult{}, fmt.Errorf("could not read gcode header: %w", err)
		}
		r.GcodeFile.Header = header
		return model.TaskResult{GcodeFile: r.GcodeFile}, nil

	case model.TaskTypeGenerateViewPath:
		if r.ViewPathFile == "" {
			return model.TaskResult{}, fmt.Errorf("view path result without file: %w", model.ErrNotValid)
		}
		return model.TaskResult{ViewPathFile: r.ViewPathFile}, nil

	case model.TaskTypeProcessImage:
		if r.Filename == "" {
			return model.TaskResult{}, fmt.Errorf("image result without file: %w", model.ErrNotValid)
		}
		return model.TaskResult{Filename: r.Filename, Width: r.Width, Height: r.Height}, nil

	case model.TaskTypeCutModel:
		return model.TaskResult{STLInfo: r.STLInfo, SVGInfo: r.SVGInfo}, nil
	}

	return model.TaskResult{}, fmt.Errorf("unknown task type %q: %w", t, model.ErrNotValid)
}

type noopEmitter struct{}

func (noopEmitter) Emit(string, any) error { return nil }

type noopListener struct{}

func (noopListener) OnTaskProgress(model.TaskSnapshot, float64) {}
func (noopListener) OnTaskFinished(model.TaskSnapshot)          {}

// Listeners notifies every listener in order.
type Listeners []Listener

// OnTaskProgress satisfies Listener.
func (ls Listeners) OnTaskProgress(t model.TaskSnapshot, progress float64) {
	for _, l := range ls {
		l.OnTaskProgress(t, progress)
	}
}

// OnTaskFinished satisfies Listener.
func (ls Listeners) OnTaskFinished(t model.TaskSnapshot) {
	for _, l := range ls {
		l.OnTaskFinished(t)
	}
}
