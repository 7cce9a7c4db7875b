package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/slok/taskd/internal/log"
	"github.com/slok/taskd/internal/model"
)

// RepositoryConfig is the configuration for the memory repository.
type RepositoryConfig struct {
	// MaxTasks is the number of tasks kept, the oldest ones are evicted.
	MaxTasks int
	Logger   log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.MaxTasks == 0 {
		c.MaxTasks = 100
	}

	if c.MaxTasks < 0 {
		return fmt.Errorf("max tasks must be positive")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.Memory"})
	return nil
}

// Repository is an in-memory implementation of storage.Repository.
type Repository struct {
	tasks    map[string]model.TaskSnapshot
	order    []string // Oldest first.
	maxTasks int
	mu       sync.RWMutex
	logger   log.Logger
}

// NewRepository creates a new memory repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{
		tasks:    make(map[string]model.TaskSnapshot),
		maxTasks: cfg.MaxTasks,
		logger:   cfg.Logger,
	}, nil
}

// SaveTask stores a task as the newest one, replacing any task with the same ID.
func (r *Repository) SaveTask(ctx context.Context, t model.TaskSnapshot) error {
	if t.TaskID == "" {
		return fmt.Errorf("task without id: %w", model.ErrNotValid)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[t.TaskID]; ok {
		r.order = slices.DeleteFunc(r.order, func(id string) bool { return id == t.TaskID })
	}
	r.tasks[t.TaskID] = t
	r.order = append(r.order, t.TaskID)

	for len(r.order) > r.maxTasks {
		evicted := r.order[0]
		r.order = r.order[1:]
		delete(r.tasks, evicted)
		r.logger.Debugf("Evicted task from repository: %s", evicted)
	}

	r.logger.Debugf("Saved task in repository: %s", t.TaskID)
	return nil
}

// GetTask retrieves a task by ID.
func (r *Repository) GetTask(ctx context.Context, id string) (*model.TaskSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}

	return &t, nil
}

// ListTasks returns all tasks, newest first.
func (r *Repository) ListTasks(ctx context.Context) ([]model.TaskSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks := make([]model.TaskSnapshot, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		tasks = append(tasks, r.tasks[r.order[i]])
	}

	return tasks, nil
}

// DeleteTask deletes a task.
func (r *Repository) DeleteTask(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; !ok {
		return fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}

	delete(r.tasks, id)
	r.order = slices.DeleteFunc(r.order, func(x string) bool { return x == id })
	r.logger.Debugf("Deleted task from repository: %s", id)

	return nil
}
