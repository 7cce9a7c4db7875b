// Package client talks to a running task service: it commits tasks over the
// websocket transport and reads the inspection API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/slok/taskd/internal/conventions"
	"github.com/slok/taskd/internal/log"
	"github.com/slok/taskd/internal/model"
	"github.com/slok/taskd/internal/progress"
	"github.com/slok/taskd/internal/server"
	"github.com/slok/taskd/internal/transport/websocket"
)

// ErrCancelTimeout is returned when a cancelled task doesn't report its result in time.
var ErrCancelTimeout = errors.New("task did not finish after cancelling")

// Config is the configuration of the client.
type Config struct {
	// Address is the host:port of the service.
	Address string
	// CancelWait is how long a cancelled submit waits for the task result.
	CancelWait time.Duration
	HTTPClient *http.Client
	Dialer     *gws.Dialer
	Logger     log.Logger
}

func (c *Config) defaults() error {
	if c.Address == "" {
		c.Address = conventions.DefaultAddress
	}

	if c.CancelWait == 0 {
		c.CancelWait = 10 * time.Second
	}

	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}

	if c.Dialer == nil {
		c.Dialer = gws.DefaultDialer
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "client.Client"})

	return nil
}

// Client is a task service client, safe for concurrent use.
type Client struct {
	address    string
	cancelWait time.Duration
	httpCli    *http.Client
	dialer     *gws.Dialer
	logger     log.Logger
}

// NewClient returns a new client.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Client{
		address:    cfg.Address,
		cancelWait: cfg.CancelWait,
		httpCli:    cfg.HTTPClient,
		dialer:     cfg.Dialer,
		logger:     cfg.Logger,
	}, nil
}

// SubmitTask commits a task on its own connection and blocks until the
// service reports its result, failed tasks are not an error. A random ID is
// used when the task has none. onProgress is optional.
//
// Cancelling ctx sends a cancel request for the task and waits its result.
// A task superseded by a newer one with the same identity never reports.
func (c *Client) SubmitTask(ctx context.Context, t model.Task, onProgress func(float64)) (model.TaskSnapshot, error) {
	if _, err := model.ParseTaskType(string(t.Type)); err != nil {
		return model.TaskSnapshot{}, err
	}

	if t.ID == "" {
		t.ID = ulid.Make().String()
	}

	if len(t.Data) == 0 {
		t.Data = json.RawMessage("{}")
	}

	u := url.URL{Scheme: "ws", Host: c.address, Path: conventions.WebSocketPath}
	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return model.TaskSnapshot{}, fmt.Errorf("could not connect to %s: %w", u.String(), err)
	}
	defer conn.Close()

	err = writeEvent(conn, model.EventName(model.EventTaskCommit, t.Type), websocket.CommitRequest{
		TaskID:   t.ID,
		HeadType: t.HeadType,
		ModelID:  t.ModelID,
		Data:     t.Data,
	})
	if err != nil {
		return model.TaskSnapshot{}, err
	}
	c.logger.Debugf("task %s committed", t.ID)

	results := make(chan taskResult, 1)
	go func() { results <- waitTask(conn, t.ID, onProgress) }()

	var res taskResult
	select {
	case res = <-results:
	case <-ctx.Done():
		c.logger.Infof("cancelling task %s", t.ID)
		err := writeEvent(conn, model.EventName(model.EventTaskCancel, t.Type), websocket.CancelRequest{TaskID: t.ID})
		if err != nil {
			return model.TaskSnapshot{}, err
		}

		select {
		case res = <-results:
		case <-time.After(c.cancelWait):
			return model.TaskSnapshot{}, fmt.Errorf("task %s: %w", t.ID, ErrCancelTimeout)
		}
	}

	return res.task, res.err
}

type taskResult struct {
	task model.TaskSnapshot
	err  error
}

// waitTask reads events until the task completes.
func waitTask(conn *gws.Conn, taskID string, onProgress func(float64)) taskResult {
	for {
		var env websocket.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return taskResult{err: fmt.Errorf("connection lost: %w", err)}
		}

		kind, _, _ := model.SplitEventName(env.Event)
		switch kind {
		case model.EventTaskProgress:
			var p model.TaskProgress
			if err := json.Unmarshal(env.Data, &p); err == nil && onProgress != nil {
				onProgress(p.Progress)
			}
		case model.EventTaskCompleted:
			var snap model.TaskSnapshot
			if err := json.Unmarshal(env.Data, &snap); err != nil {
				return taskResult{err: fmt.Errorf("invalid task result: %w", err)}
			}
			if snap.TaskID == taskID {
				return taskResult{task: snap}
			}
		}
	}
}

func writeEvent(conn *gws.Conn, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("could not encode %s: %w", event, err)
	}

	if err := conn.WriteJSON(websocket.Envelope{Event: event, Data: raw}); err != nil {
		return fmt.Errorf("could not send %s: %w", event, err)
	}
	return nil
}

// Tasks returns the tasks registered on the service.
func (c *Client) Tasks(ctx context.Context) ([]model.TaskSnapshot, error) {
	var tasks []model.TaskSnapshot
	if err := c.getJSON(ctx, "/api/tasks", &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// History returns the finished tasks, newest first.
func (c *Client) History(ctx context.Context) ([]model.TaskSnapshot, error) {
	var tasks []model.TaskSnapshot
	if err := c.getJSON(ctx, "/api/tasks/history", &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Task returns a registered or finished task.
func (c *Client) Task(ctx context.Context, id string) (*model.TaskSnapshot, error) {
	var t model.TaskSnapshot
	if err := c.getJSON(ctx, "/api/tasks/"+id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Progress returns the progress of the operation running on the service.
func (c *Client) Progress(ctx context.Context) (progress.Snapshot, error) {
	var s progress.Snapshot
	err := c.getJSON(ctx, "/api/progress", &s)
	return s, err
}

// Health returns the service health and worker pool usage.
func (c *Client) Health(ctx context.Context) (server.Health, error) {
	var h server.Health
	err := c.getJSON(ctx, "/api/healthz", &h)
	return h, err
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	u := url.URL{Scheme: "http", Host: c.address, Path: path}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}

	resp, err := c.httpCli.Do(req)
	if err != nil {
		return fmt.Errorf("could not reach %s: %w", c.address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := string(body)
		var errResp errorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			msg = errResp.Error
		}

		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%s: %w", msg, model.ErrNotFound)
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid response from %s: %w", path, err)
	}

	return nil
}
