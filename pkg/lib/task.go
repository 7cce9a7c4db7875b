package lib

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/slok/taskd/internal/model"
)

// SubmitTask submits a task and blocks until the service reports its result.
//
// Returns [ErrNotValid] for an unknown task type or invalid data. A task that
// fails on the service is returned with [TaskStatusFailed] and no error.
func (c *Client) SubmitTask(ctx context.Context, opts SubmitTaskOpts) (*Task, error) {
	t, err := toInternalTask(opts)
	if err != nil {
		return nil, mapError(err)
	}

	snap, err := c.cli.SubmitTask(ctx, t, opts.OnProgress)
	if err != nil {
		return nil, mapError(err)
	}

	result := fromInternalTask(snap)
	return &result, nil
}

// ListTasks returns the tasks running on the service.
func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	tasks, err := c.cli.Tasks(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	return fromInternalTaskList(tasks), nil
}

// ListTaskHistory returns the last finished tasks, newest first.
func (c *Client) ListTaskHistory(ctx context.Context) ([]Task, error) {
	tasks, err := c.cli.History(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	return fromInternalTaskList(tasks), nil
}

// GetTask returns a running or finished task by ID.
//
// Returns [ErrNotFound] if the service doesn't know the task.
func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	if id == "" {
		return nil, fmt.Errorf("task id is required: %w", ErrNotValid)
	}

	snap, err := c.cli.Task(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}

	result := fromInternalTask(*snap)
	return &result, nil
}

func toInternalTask(opts SubmitTaskOpts) (model.Task, error) {
	t, err := model.ParseTaskType(string(opts.Type))
	if err != nil {
		return model.Task{}, err
	}

	if len(opts.Data) > 0 && !json.Valid(opts.Data) {
		return model.Task{}, fmt.Errorf("task data is not valid JSON: %w", model.ErrNotValid)
	}

	return model.Task{
		ID:       opts.ID,
		Type:     t,
		HeadType: model.HeadType(opts.HeadType),
		ModelID:  opts.ModelID,
		Data:     opts.Data,
	}, nil
}
