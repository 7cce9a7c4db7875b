package workerpool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/slok/taskd/internal/log"
)

var (
	// ErrCancelled is the failure of a call that was terminated by its caller.
	ErrCancelled = errors.New("call cancelled")
	// ErrWorkerFault is the failure of a call whose worker process crashed.
	ErrWorkerFault = errors.New("worker fault")
	// ErrClosed is the failure of calls made on, or running while closing, a closed pool.
	ErrClosed = errors.New("pool closed")
)

// Message is a notification about a call.
type Message struct {
	Status MessageStatus
	// Progress is set on progress messages, in [0, 1].
	Progress float64
	// Value is set on complete messages.
	Value json.RawMessage
	// Err is set on fail messages.
	Err error
}

// MessageHandler receives the messages of a call. A call gets zero or more progress
// messages followed by exactly one complete or fail message.
type MessageHandler func(Message)

// Config is the configuration of the pool.
type Config struct {
	// TempDir is the directory workers use to exchange files.
	TempDir string
	// MaxWorkers is the maximum number of worker processes, by default the number of CPUs.
	MaxWorkers int
	// Spawner starts the worker processes, by default forks the running binary.
	Spawner Spawner
	Logger  log.Logger
}

func (c *Config) defaults() error {
	if c.MaxWorkers < 0 {
		return fmt.Errorf("max workers can't be negative")
	}
	if c.MaxWorkers == 0 {
		c.MaxWorkers = runtime.NumCPU()
	}

	if c.Spawner == nil {
		if c.TempDir == "" {
			return fmt.Errorf("temp dir is required")
		}
		s, err := NewExecSpawner(ExecSpawnerConfig{
			Args:    []string{"internal-worker"},
			TempDir: c.TempDir,
		})
		if err != nil {
			return fmt.Errorf("could not create exec spawner: %w", err)
		}
		c.Spawner = s
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "workerpool.Pool"})

	return nil
}

// Pool routes calls to a lazily created set of worker processes.
type Pool struct {
	spawner    Spawner
	maxWorkers int
	logger     log.Logger

	mu       sync.Mutex
	queue    []*Call
	idle     []*worker
	workers  map[*worker]struct{}
	spawning int
	closed   bool
	readers  sync.WaitGroup
}

// NewPool returns a new pool, no worker process is started until the first call.
func NewPool(cfg Config) (*Pool, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Pool{
		spawner:    cfg.Spawner,
		maxWorkers: cfg.MaxWorkers,
		logger:     cfg.Logger,
		workers:    map[*worker]struct{}{},
	}, nil
}

type worker struct {
	id   string
	proc Process
	enc  *json.Encoder

	// Guarded by the pool mutex.
	current *Call
	killed  bool
}

// Call is an in-flight operation.
type Call struct {
	id        string
	op        Operation
	payload   json.RawMessage
	onMessage MessageHandler
	pool      *Pool

	// Guarded by the pool mutex.
	worker    *worker
	done      bool
	cancelled bool
}

// ID returns the call identifier used on the wire.
func (c *Call) ID() string { return c.id }

type assignment struct {
	w *worker
	c *Call
}

// Call queues an operation. onMessage is never invoked before Call returns.
func (p *Pool) Call(op Operation, payload any, onMessage MessageHandler) *Call {
	c := &Call{
		id:        ulid.Make().String(),
		op:        op,
		onMessage: onMessage,
		pool:      p,
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		c.done = true
		go onMessage(Message{Status: StatusFail, Err: fmt.Errorf("could not encode payload: %w", err)})
		return c
	}
	c.payload = raw

	p.mu.Lock()
	if p.closed {
		c.done = true
		p.mu.Unlock()
		go onMessage(Message{Status: StatusFail, Err: ErrClosed})
		return c
	}
	p.queue = append(p.queue, c)
	assignments := p.scheduleLocked()
	p.mu.Unlock()

	p.logger.Debugf("call %s queued for operation %s", c.id, op)
	go p.send(assignments)

	return c
}

// Terminate cancels the call. It's a no-op on a finished call and safe to call many times.
func (c *Call) Terminate() {
	p := c.pool

	p.mu.Lock()
	if c.done || c.cancelled {
		p.mu.Unlock()
		return
	}
	c.cancelled = true

	// Still queued, no worker involved.
	if c.worker == nil {
		p.queue = slices.DeleteFunc(p.queue, func(q *Call) bool { return q == c })
		c.done = true
		p.mu.Unlock()
		p.logger.Debugf("queued call %s cancelled", c.id)
		go c.onMessage(Message{Status: StatusFail, Err: ErrCancelled})
		return
	}

	// Running, the only way to stop a worker is killing it, the read loop will fail the call.
	w := c.worker
	w.killed = true
	p.mu.Unlock()

	p.logger.Debugf("killing worker %s to cancel call %s", w.id, c.id)
	if err := w.proc.Kill(); err != nil {
		p.logger.Warningf("could not kill worker %s: %v", w.id, err)
	}
}

// scheduleLocked pairs queued calls with idle workers and spawns workers if
// the pool is below its size. Must be called with the mutex held.
func (p *Pool) scheduleLocked() []assignment {
	var assignments []assignment
	for len(p.queue) > 0 && len(p.idle) > 0 {
		c := p.queue[0]
		p.queue = p.queue[1:]
		w := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]

		w.current = c
		c.worker = w
		assignments = append(assignments, assignment{w: w, c: c})
	}

	need := len(p.queue) - p.spawning
	capacity := p.maxWorkers - len(p.workers) - p.spawning
	for i := 0; i < min(need, capacity); i++ {
		p.spawning++
		go p.spawn()
	}

	return assignments
}

func (p *Pool) send(assignments []assignment) {
	for _, a := range assignments {
		req := Request{CallID: a.c.id, Operation: a.c.op, Payload: a.c.payload}
		if err := a.w.enc.Encode(req); err != nil {
			// The read loop will notice the dead worker and fail the call.
			p.logger.Warningf("could not send call %s to worker %s: %v", a.c.id, a.w.id, err)
			_ = a.w.proc.Kill()
			continue
		}
		p.logger.Debugf("call %s dispatched to worker %s", a.c.id, a.w.id)
	}
}

func (p *Pool) spawn() {
	proc, err := p.spawner.Spawn(context.Background())

	p.mu.Lock()
	p.spawning--

	if err != nil {
		// Without any worker nobody will ever serve the queued calls.
		var failed []*Call
		if len(p.workers) == 0 && p.spawning == 0 {
			failed = p.queue
			p.queue = nil
			for _, c := range failed {
				c.done = true
			}
		}
		p.mu.Unlock()

		p.logger.Errorf("could not spawn worker: %v", err)
		for _, c := range failed {
			c.onMessage(Message{Status: StatusFail, Err: fmt.Errorf("%w: could not spawn worker: %w", ErrWorkerFault, err)})
		}
		return
	}

	if p.closed {
		p.mu.Unlock()
		_ = proc.Kill()
		_ = proc.Wait()
		return
	}

	w := &worker{
		id:   ulid.Make().String(),
		proc: proc,
		enc:  json.NewEncoder(proc.Stdin()),
	}
	p.workers[w] = struct{}{}
	p.idle = append(p.idle, w)
	p.readers.Add(1)
	assignments := p.scheduleLocked()
	p.mu.Unlock()

	p.logger.Debugf("worker %s spawned", w.id)
	go p.readLoop(w)
	p.send(assignments)
}

func (p *Pool) readLoop(w *worker) {
	defer p.readers.Done()

	dec := json.NewDecoder(w.proc.Stdout())
	for {
		var resp Response
		if err := dec.Decode(&resp); err != nil {
			_ = w.proc.Kill()
			p.workerExited(w, err)
			return
		}
		p.handleResponse(w, resp)
	}
}

func (p *Pool) handleResponse(w *worker, resp Response) {
	p.mu.Lock()
	c := w.current
	if c == nil || c.id != resp.CallID || c.done {
		p.mu.Unlock()
		p.logger.Debugf("ignoring %s frame of stale call %s from worker %s", resp.Status, resp.CallID, w.id)
		return
	}

	switch resp.Status {
	case StatusProgress:
		p.mu.Unlock()
		c.onMessage(Message{Status: StatusProgress, Progress: resp.Progress})
		return
	case StatusComplete, StatusFail:
	default:
		p.mu.Unlock()
		p.logger.Warningf("unknown frame status %q from worker %s", resp.Status, w.id)
		return
	}

	c.done = true
	w.current = nil
	if !w.killed {
		p.idle = append(p.idle, w)
	}
	assignments := p.scheduleLocked()
	p.mu.Unlock()

	if resp.Status == StatusComplete {
		c.onMessage(Message{Status: StatusComplete, Value: resp.Value})
	} else {
		c.onMessage(Message{Status: StatusFail, Err: errors.New(resp.Error)})
	}
	p.send(assignments)
}

func (p *Pool) workerExited(w *worker, cause error) {
	p.mu.Lock()
	delete(p.workers, w)
	p.idle = slices.DeleteFunc(p.idle, func(i *worker) bool { return i == w })
	c := w.current
	w.current = nil
	if c != nil {
		c.done = true
	}
	closed := p.closed
	var assignments []assignment
	if !closed {
		assignments = p.scheduleLocked()
	}
	p.mu.Unlock()

	if c != nil {
		var err error
		switch {
		case c.cancelled:
			err = ErrCancelled
		case closed:
			err = ErrClosed
		default:
			err = fmt.Errorf("%w: %w", ErrWorkerFault, cause)
			p.logger.Warningf("worker %s died while running call %s: %v", w.id, c.id, cause)
		}
		c.onMessage(Message{Status: StatusFail, Err: err})
	}

	if err := w.proc.Wait(); err != nil {
		p.logger.Debugf("worker %s exited: %v", w.id, err)
	}
	p.send(assignments)
}

// Close fails the queued calls and kills every worker.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	queued := p.queue
	p.queue = nil
	for _, c := range queued {
		c.done = true
	}
	workers := make([]*worker, 0, len(p.workers))
	for w := range p.workers {
		w.killed = true
		workers = append(workers, w)
	}
	p.mu.Unlock()

	for _, c := range queued {
		c.onMessage(Message{Status: StatusFail, Err: ErrClosed})
	}
	for _, w := range workers {
		if err := w.proc.Kill(); err != nil {
			p.logger.Warningf("could not kill worker %s: %v", w.id, err)
		}
	}

	done := make(chan struct{})
	go func() {
		p.readers.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Infof("worker pool closed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for workers to exit: %w", ctx.Err())
	}
}

// Stats is a point in time view of the pool.
type Stats struct {
	MaxWorkers int `json:"maxWorkers"`
	Workers    int `json:"workers"`
	Busy       int `json:"busy"`
	Queued     int `json:"queued"`
}

// Stats returns the current pool usage.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	busy := 0
	for w := range p.workers {
		if w.current != nil {
			busy++
		}
	}

	return Stats{
		MaxWorkers: p.maxWorkers,
		Workers:    len(p.workers),
		Busy:       busy,
		Queued:     len(p.queue),
	}
}
