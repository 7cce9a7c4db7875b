package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/taskd/internal/compute"
	"github.com/slok/taskd/internal/worker"
	"github.com/slok/taskd/internal/workerpool"
)

// WorkerCommand serves calls from the worker pool over stdin and stdout.
type WorkerCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	tmpDir string
}

// NewWorkerCommand returns the worker command.
func NewWorkerCommand(rootCmd *RootCommand, app *kingpin.Application) *WorkerCommand {
	c := &WorkerCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("internal-worker", "Internal: run a worker process of the task service.").Hidden()
	c.Cmd.Flag("tmp-dir", "Directory where the operations read and write their files.").Envar(workerpool.TempDirEnv).Required().StringVar(&c.tmpDir)

	return c
}

func (c WorkerCommand) Name() string { return c.Cmd.FullCommand() }

func (c WorkerCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	ops, err := compute.Operations(compute.Config{
		TempDir: c.tmpDir,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("could not create operations: %w", err)
	}

	srv, err := worker.NewServer(worker.ServerConfig{
		Operations: ops,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create worker server: %w", err)
	}

	logger.Debugf("worker ready")
	return srv.Serve(ctx, c.rootCmd.Stdin, c.rootCmd.Stdout)
}
