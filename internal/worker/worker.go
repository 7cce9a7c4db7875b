// Package worker is the runtime of a worker process: it reads call requests
// from the pool, runs the requested operation and streams the notifications back.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/slok/taskd/internal/log"
	"github.com/slok/taskd/internal/workerpool"
)

// Reporter receives the progress of an operation in [0, 1].
type Reporter func(progress float64)

// Func runs an operation. The returned value is encoded as the call result.
type Func func(ctx context.Context, payload json.RawMessage, report Reporter) (any, error)

// Operations is the method table of a worker.
type Operations map[workerpool.Operation]Func

// ServerConfig is the configuration of the worker server.
type ServerConfig struct {
	Operations Operations
	Logger     log.Logger
}

func (c *ServerConfig) defaults() error {
	if len(c.Operations) == 0 {
		return fmt.Errorf("at least one operation is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "worker.Server"})

	return nil
}

// Server serves calls, one at a time.
type Server struct {
	ops    Operations
	logger log.Logger
}

// NewServer returns a new worker server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Server{
		ops:    cfg.Operations,
		logger: cfg.Logger,
	}, nil
}

// Serve reads requests from in and writes responses to out until in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	dec := json.NewDecoder(in)
	enc := &encoder{enc: json.NewEncoder(out)}

	for {
		var req workerpool.Request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("could not read request: %w", err)
		}

		if err := s.handle(ctx, req, enc); err != nil {
			return err
		}
	}
}

func (s *Server) handle(ctx context.Context, req workerpool.Request, enc *encoder) error {
	logger := s.logger.WithValues(log.Kv{"call": req.CallID, "operation": req.Operation})

	fn, ok := s.ops[req.Operation]
	if !ok {
		logger.Warningf("unknown operation")
		return enc.write(workerpool.Response{
			CallID: req.CallID,
			Status: workerpool.StatusFail,
			Error:  fmt.Sprintf("unknown operation %q", req.Operation),
		})
	}

	logger.Debugf("running call")
	report := func(progress float64) {
		err := enc.write(workerpool.Response{
			CallID:   req.CallID,
			Status:   workerpool.StatusProgress,
			Progress: min(max(progress, 0), 1),
		})
		if err != nil {
			logger.Debugf("could not report progress: %v", err)
		}
	}

	value, err := run(ctx, fn, req.Payload, report)
	if err != nil {
		logger.Infof("call failed: %v", err)
		return enc.write(workerpool.Response{CallID: req.CallID, Status: workerpool.StatusFail, Error: err.Error()})
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return enc.write(workerpool.Response{
			CallID: req.CallID,
			Status: workerpool.StatusFail,
			Error:  fmt.Sprintf("could not encode result: %s", err),
		})
	}

	return enc.write(workerpool.Response{CallID: req.CallID, Status: workerpool.StatusComplete, Value: raw})
}

// run executes the operation converting a panic into an error.
func run(ctx context.Context, fn Func, payload json.RawMessage, report Reporter) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()

	return fn(ctx, payload, report)
}

// encoder serializes frame writes, operations may report from their own goroutines.
type encoder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (e *encoder) write(r workerpool.Response) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.enc.Encode(r); err != nil {
		return fmt.Errorf("could not write response: %w", err)
	}
	return nil
}
