// Package storage keeps the finished tasks so clients can inspect them after
// the scheduler has pruned them. Nothing survives a restart.
package storage

import (
	"context"

	"github.com/slok/taskd/internal/log"
	"github.com/slok/taskd/internal/model"
)

// Repository is the interface for finished task storage.
type Repository interface {
	SaveTask(ctx context.Context, t model.TaskSnapshot) error
	GetTask(ctx context.Context, id string) (*model.TaskSnapshot, error)
	// ListTasks returns the tasks from the newest to the oldest.
	ListTasks(ctx context.Context) ([]model.TaskSnapshot, error)
	DeleteTask(ctx context.Context, id string) error
}

// TaskRecorder saves every finished task on a repository, it satisfies the
// task manager listener.
type TaskRecorder struct {
	repo   Repository
	logger log.Logger
}

// NewTaskRecorder returns a new TaskRecorder.
func NewTaskRecorder(repo Repository, logger log.Logger) *TaskRecorder {
	if logger == nil {
		logger = log.Noop
	}

	return &TaskRecorder{
		repo:   repo,
		logger: logger.WithValues(log.Kv{"svc": "storage.TaskRecorder"}),
	}
}

// OnTaskProgress satisfies task.Listener.
func (r *TaskRecorder) OnTaskProgress(model.TaskSnapshot, float64) {}

// OnTaskFinished satisfies task.Listener.
func (r *TaskRecorder) OnTaskFinished(t model.TaskSnapshot) {
	if err := r.repo.SaveTask(context.Background(), t); err != nil {
		r.logger.Warningf("could not save task %s: %v", t.TaskID, err)
	}
}
