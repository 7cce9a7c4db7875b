package lib

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/slok/taskd/internal/client"
	"github.com/slok/taskd/internal/conventions"
	"github.com/slok/taskd/internal/log"
)

// Config configures the SDK client.
//
// All fields are optional, an empty Config{} connects to a local service on
// the default address.
type Config struct {
	// Address is the host:port of the taskd service.
	// Default: 127.0.0.1:8090.
	Address string

	// CancelWait is how long a cancelled task submission waits for the task result.
	// Default: 10s.
	CancelWait time.Duration

	// HTTPClient is used for the inspection requests.
	// Default: http.DefaultClient.
	HTTPClient *http.Client

	// Logger receives structured log output from the SDK.
	// Default: noop (silent). See the log sub-package for the interface.
	Logger log.Logger
}

func (c *Config) defaults() error {
	if c.Address == "" {
		c.Address = conventions.DefaultAddress
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Client is the main SDK entry point to run tasks programmatically.
//
// Create a Client with [New]. A Client is safe for concurrent use.
type Client struct {
	cli *client.Client
}

// New creates a new SDK client. No connection is made until a method is called.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cli, err := client.NewClient(client.Config{
		Address:    cfg.Address,
		CancelWait: cfg.CancelWait,
		HTTPClient: cfg.HTTPClient,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create client: %w", err)
	}

	return &Client{cli: cli}, nil
}

// Health returns the service status and its worker pool usage.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	h, err := c.cli.Health(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	return &Health{
		Status:     h.Status,
		MaxWorkers: h.Pool.MaxWorkers,
		Workers:    h.Pool.Workers,
		Busy:       h.Pool.Busy,
		Queued:     h.Pool.Queued,
	}, nil
}

// GetProgress returns the progress of the operation running on the service.
func (c *Client) GetProgress(ctx context.Context) (*Progress, error) {
	p, err := c.cli.Progress(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	return &Progress{
		Stage:    string(p.Stage),
		State:    ProgressState(p.State),
		Progress: p.Progress,
		Notice:   p.Notice,
	}, nil
}
