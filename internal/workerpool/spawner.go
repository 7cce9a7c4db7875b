package workerpool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// TempDirEnv is the environment variable used to forward the temp directory to worker processes.
const TempDirEnv = "TASKD_TMP_DIR"

// Process is a running worker.
type Process interface {
	// Stdin receives request frames.
	Stdin() io.Writer
	// Stdout emits response frames, it returns an error or EOF once the process is gone.
	Stdout() io.Reader
	// Kill stops the process, it's safe to call on an exited process.
	Kill() error
	// Wait releases the process resources once Stdout has been drained.
	Wait() error
}

// Spawner knows how to start worker processes.
type Spawner interface {
	Spawn(ctx context.Context) (Process, error)
}

// SpawnerFunc is a helper to use functions as Spawner.
type SpawnerFunc func(ctx context.Context) (Process, error)

// Spawn satisfies Spawner interface.
func (f SpawnerFunc) Spawn(ctx context.Context) (Process, error) { return f(ctx) }

// ExecSpawnerConfig is the configuration of the OS process spawner.
type ExecSpawnerConfig struct {
	// Path is the worker binary, by default the running executable.
	Path string
	// Args are the arguments that make the binary serve as a worker.
	Args []string
	// TempDir is forwarded to the worker using TempDirEnv.
	TempDir string
	// Stderr receives the worker logs.
	Stderr io.Writer
}

func (c *ExecSpawnerConfig) defaults() error {
	if c.Path == "" {
		p, err := os.Executable()
		if err != nil {
			return fmt.Errorf("could not get executable path: %w", err)
		}
		c.Path = p
	}

	if c.TempDir == "" {
		return fmt.Errorf("temp dir is required")
	}

	if c.Stderr == nil {
		c.Stderr = os.Stderr
	}

	return nil
}

// ExecSpawner spawns worker processes forking a binary.
type ExecSpawner struct {
	path    string
	args    []string
	tempDir string
	stderr  io.Writer
}

// NewExecSpawner returns a new OS process spawner.
func NewExecSpawner(cfg ExecSpawnerConfig) (*ExecSpawner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &ExecSpawner{
		path:    cfg.Path,
		args:    cfg.Args,
		tempDir: cfg.TempDir,
		stderr:  cfg.Stderr,
	}, nil
}

// Spawn starts a new worker process. The process lifetime is owned by the pool, not by ctx.
func (s *ExecSpawner) Spawn(ctx context.Context) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(s.path, s.args...)
	cmd.Env = append(os.Environ(), TempDirEnv+"="+s.tempDir)
	cmd.Stderr = s.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("could not get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("could not get stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("could not start worker process: %w", err)
	}

	return &execProcess{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (p *execProcess) Stdin() io.Writer  { return p.stdin }
func (p *execProcess) Stdout() io.Reader { return p.stdout }

func (p *execProcess) Kill() error {
	err := p.cmd.Process.Kill()
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (p *execProcess) Wait() error {
	_ = p.stdin.Close()
	return p.cmd.Wait()
}
