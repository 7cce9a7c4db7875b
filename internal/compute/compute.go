// Package compute has the operations the worker processes run. All of them
// read their inputs from and write their outputs to the temp directory, the
// results only carry file names relative to it.
package compute

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/slok/taskd/internal/log"
	"github.com/slok/taskd/internal/model"
	"github.com/slok/taskd/internal/worker"
	"github.com/slok/taskd/internal/workerpool"
)

// Config is the configuration of the operations.
type Config struct {
	TempDir string
	Logger  log.Logger
}

func (c *Config) defaults() error {
	if c.TempDir == "" {
		return fmt.Errorf("temp dir is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "compute.Operations"})

	return nil
}

// Operations returns the method table of the worker processes.
func Operations(cfg Config) (worker.Operations, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create temp dir: %w", err)
	}

	fs := files{dir: cfg.TempDir}
	return worker.Operations{
		workerpool.OperationGenerateToolPath: toolPathGenerator{files: fs, logger: cfg.Logger}.Run,
		workerpool.OperationGenerateGcode:    gcodeGenerator{files: fs, logger: cfg.Logger}.Run,
		workerpool.OperationGenerateViewPath: viewPathGenerator{files: fs, logger: cfg.Logger}.Run,
		workerpool.OperationProcessImage:     imageProcessor{files: fs, logger: cfg.Logger}.Run,
		workerpool.OperationCutModel:         modelCutter{files: fs, logger: cfg.Logger}.Run,
		workerpool.OperationSVGClipping:      svgClipper{files: fs, logger: cfg.Logger}.Run,
	}, nil
}

// files resolves names inside the temp dir.
type files struct {
	dir string
}

// path returns the path of a file name, names can't escape the directory.
func (f files) path(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("missing file name: %w", model.ErrNotValid)
	}
	base := filepath.Base(filepath.Clean(name))
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return "", fmt.Errorf("invalid file name %q: %w", name, model.ErrNotValid)
	}

	return filepath.Join(f.dir, base), nil
}

// newName returns a new unique file name with the extension.
func (f files) newName(prefix, ext string) string {
	return fmt.Sprintf("%s_%s.%s", prefix, strings.ToLower(ulid.Make().String()), ext)
}

func (f files) create(name string) (*os.File, error) {
	p, err := f.path(name)
	if err != nil {
		return nil, err
	}

	file, err := os.Create(p)
	if err != nil {
		return nil, fmt.Errorf("could not create %s: %w", name, err)
	}
	return file, nil
}

func (f files) open(name string) (*os.File, error) {
	p, err := f.path(name)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", name, err)
	}
	return file, nil
}

func (f files) writeJSON(name string, v any) error {
	file, err := f.create(name)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := json.NewEncoder(file).Encode(v); err != nil {
		return fmt.Errorf("could not write %s: %w", name, err)
	}
	return file.Close()
}

func (f files) readJSON(name string, v any) error {
	file, err := f.open(name)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(v); err != nil {
		return fmt.Errorf("could not read %s: %w", name, err)
	}
	return nil
}

func decodePayload(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return fmt.Errorf("missing payload: %w", model.ErrNotValid)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("invalid payload: %w: %w", model.ErrNotValid, err)
	}
	return nil
}

// stepReporter reports the progress of step i of n given the local progress
// of the step, only when it advanced at least one percent.
type stepReporter struct {
	report worker.Reporter
	last   float64
}

func newStepReporter(report worker.Reporter) *stepReporter {
	if report == nil {
		report = func(float64) {}
	}
	return &stepReporter{report: report, last: -1}
}

func (s *stepReporter) step(i, n int, local float64) {
	if n <= 0 {
		return
	}
	p := (float64(i) + min(max(local, 0), 1)) / float64(n)
	if p-s.last < 0.01 && p < 1 {
		return
	}
	s.last = p
	s.report(p)
}

func checkCtx(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("operation interrupted: %w", err)
	}
	return nil
}
