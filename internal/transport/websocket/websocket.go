// Package websocket is the client transport of the task manager. Each client
// connection commits and cancels tasks and receives the events of the tasks
// it committed.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/slok/taskd/internal/log"
	"github.com/slok/taskd/internal/model"
	"github.com/slok/taskd/internal/task"
)

// ErrClientClosed is returned when emitting to a disconnected client.
var ErrClientClosed = errors.New("client closed")

// Envelope is the frame exchanged with clients.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// CommitRequest is the data of a task commit event.
type CommitRequest struct {
	TaskID   string          `json:"taskId"`
	HeadType model.HeadType  `json:"headType"`
	ModelID  string          `json:"modelId"`
	Data     json.RawMessage `json:"data"`
}

// CancelRequest is the data of a task cancel event.
type CancelRequest struct {
	TaskID string `json:"taskId"`
}

// TaskManager schedules the tasks of the clients.
type TaskManager interface {
	AddTask(ctx context.Context, t model.Task, emitter task.Emitter) error
	CancelTask(ctx context.Context, taskID string)
}

// HandlerConfig is the configuration of the websocket handler.
type HandlerConfig struct {
	TaskManager TaskManager
	// SendBuffer is the number of frames queued per client, a client that falls
	// behind is disconnected.
	SendBuffer int
	// PongWait is how long a client can be silent, pings are sent at 9/10 of it.
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	// CheckOrigin by default accepts every origin, clients are local UIs.
	CheckOrigin func(r *http.Request) bool
	Logger      log.Logger
}

func (c *HandlerConfig) defaults() error {
	if c.TaskManager == nil {
		return fmt.Errorf("task manager is required")
	}

	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}

	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}

	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}

	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 16 << 20
	}

	if c.CheckOrigin == nil {
		c.CheckOrigin = func(*http.Request) bool { return true }
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "websocket.Handler"})

	return nil
}

// Handler upgrades HTTP requests into client connections.
type Handler struct {
	tasks          TaskManager
	upgrader       websocket.Upgrader
	sendBuffer     int
	pongWait       time.Duration
	writeWait      time.Duration
	maxMessageSize int64
	logger         log.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewHandler returns a new websocket handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Handler{
		tasks:          cfg.TaskManager,
		upgrader:       websocket.Upgrader{CheckOrigin: cfg.CheckOrigin},
		sendBuffer:     cfg.SendBuffer,
		pongWait:       cfg.PongWait,
		writeWait:      cfg.WriteWait,
		maxMessageSize: cfg.MaxMessageSize,
		logger:         cfg.Logger,
		clients:        map[*Client]struct{}{},
	}, nil
}

// ServeHTTP satisfies http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already replied with the error.
		h.logger.Warningf("could not upgrade connection: %v", err)
		return
	}

	id := ulid.Make().String()
	c := &Client{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, h.sendBuffer),
		done:   make(chan struct{}),
		logger: h.logger.WithValues(log.Kv{"client": id}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.wg.Add(2)
	h.mu.Unlock()

	c.logger.Infof("client connected from %s", r.RemoteAddr)

	ctx := h.logger.SetValuesOnCtx(context.Background(), log.Kv{"client": c.id})
	go func() {
		defer h.wg.Done()
		h.writePump(c)
	}()
	go func() {
		defer h.wg.Done()
		h.readPump(ctx, c)
	}()
}

// Clients returns the number of connected clients.
func (h *Handler) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.clients)
}

// Close disconnects all the clients and waits for their pumps to end.
func (h *Handler) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	h.wg.Wait()
}

func (h *Handler) unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()

	c.close()
}

func (h *Handler) readPump(ctx context.Context, c *Client) {
	defer func() {
		h.unregister(c)
		c.logger.Infof("client disconnected")
	}()

	c.conn.SetReadLimit(h.maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warningf("connection error: %v", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			c.logger.Warningf("ignoring invalid frame: %v", err)
			continue
		}
		h.dispatch(ctx, c, env)
	}
}

func (h *Handler) writePump(c *Client) {
	ticker := time.NewTicker(h.pongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debugf("could not write frame: %v", err)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(h.writeWait))
			return
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, c *Client, env Envelope) {
	kind, taskType, ok := model.SplitEventName(env.Event)
	if !ok {
		c.logger.Warningf("ignoring event without task type %q", env.Event)
		return
	}

	switch kind {
	case model.EventTaskCommit:
		h.commit(ctx, c, taskType, env.Data)
	case model.EventTaskCancel:
		var req CancelRequest
		if err := json.Unmarshal(env.Data, &req); err != nil || req.TaskID == "" {
			c.logger.Warningf("ignoring invalid cancel of %s", taskType)
			return
		}
		h.tasks.CancelTask(ctx, req.TaskID)
	default:
		c.logger.Warningf("ignoring unknown event %q", env.Event)
	}
}

// commit adds a task, a rejected task is reported back as failed.
func (h *Handler) commit(ctx context.Context, c *Client, rawType string, data json.RawMessage) {
	var req CommitRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.logger.Warningf("ignoring invalid commit of %s: %v", rawType, err)
		return
	}

	t := model.Task{
		ID:       req.TaskID,
		Type:     model.TaskType(rawType),
		HeadType: req.HeadType,
		ModelID:  req.ModelID,
		Data:     req.Data,
	}

	err := h.addTask(ctx, c, t)
	if err == nil {
		return
	}

	c.logger.Warningf("task %s rejected: %v", t.ID, err)
	t.Status = model.TaskStatusFailed
	t.Error = err.Error()
	t.FinishTime = time.Now().UnixMilli()
	if err := c.Emit(model.EventName(model.EventTaskCompleted, t.Type), t.Snapshot()); err != nil {
		c.logger.Debugf("could not report rejected task: %v", err)
	}
}

func (h *Handler) addTask(ctx context.Context, c *Client, t model.Task) error {
	if t.ID == "" {
		return fmt.Errorf("missing task id: %w", model.ErrNotValid)
	}

	if _, err := model.ParseTaskType(string(t.Type)); err != nil {
		return err
	}

	return h.tasks.AddTask(ctx, t, c)
}

// Client is a connected client, it receives the events of its tasks.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	logger log.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// Emit queues an event to the client. A client whose queue is full is
// disconnected.
func (c *Client) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("could not encode %s: %w", event, err)
	}
	msg, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("could not encode %s: %w", event, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}

	select {
	case c.send <- msg:
		return nil
	default:
		c.closeLocked()
		return fmt.Errorf("client too slow: %w", ErrClientClosed)
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}
