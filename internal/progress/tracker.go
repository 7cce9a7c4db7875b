package progress

import (
	"sync"

	"github.com/slok/taskd/internal/log"
	"github.com/slok/taskd/internal/model"
)

// TaskTracker drives a manager with the events of the task manager. Each task
// type reports on the step with its same name, and every model with a running
// task of a step gets an equal share of that step.
type TaskTracker struct {
	manager *Manager
	logger  log.Logger

	mu sync.Mutex
	// live has the models with an unfinished task per step. Models are the
	// task identity, a superseded task is replaced by its successor.
	live map[StepStage]map[string]struct{}
}

// NewTaskTracker returns a task listener that feeds m.
func NewTaskTracker(m *Manager, logger log.Logger) *TaskTracker {
	if logger == nil {
		logger = log.Noop
	}

	return &TaskTracker{
		manager: m,
		logger:  logger.WithValues(log.Kv{"svc": "progress.TaskTracker"}),
		live:    map[StepStage]map[string]struct{}{},
	}
}

// OnTaskProgress starts the stage when the task runs its first step and it's
// not already running, then reports the task progress.
func (t *TaskTracker) OnTaskProgress(task model.TaskSnapshot, progress float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	step := StepStage(task.TaskType)
	t.addLive(step, task.ModelID)
	if _, ok := t.track(step); !ok {
		return
	}

	t.manager.UpdateProgress(step, progress)
}

// OnTaskFinished fails the stage on a failed task, completes one share of the
// step otherwise and finishes the stage once its last step is done.
func (t *TaskTracker) OnTaskFinished(task model.TaskSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	step := StepStage(task.TaskType)
	t.addLive(step, task.ModelID)
	last, ok := t.track(step)
	delete(t.live[step], task.ModelID)
	if !ok {
		return
	}

	if task.TaskStatus != model.TaskStatusCompleted {
		t.manager.FinishProgress(false)
		return
	}

	t.manager.UpdateProgress(step, 1)
	if last && len(t.live[step]) == 0 {
		t.manager.FinishProgress(true)
		return
	}
	t.manager.StartNextStep()
}

func (t *TaskTracker) addLive(step StepStage, modelID string) {
	models, ok := t.live[step]
	if !ok {
		models = map[string]struct{}{}
		t.live[step] = models
	}
	models[modelID] = struct{}{}
}

// track makes sure the stage of step is running with one share per live model.
// It returns whether step is the last one of its stage.
func (t *TaskTracker) track(step StepStage) (last bool, ok bool) {
	started, last, ok := t.manager.EnsureStarted(step, len(t.live[step]))
	if !ok {
		t.logger.Debugf("ignoring step %s outside of a running stage", step)
		return false, false
	}
	if started {
		t.logger.Debugf("stage of step %s started", step)
	}

	return last, true
}
