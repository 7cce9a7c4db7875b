package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"
	"golang.org/x/text/language"

	"github.com/slok/taskd/internal/conventions"
	"github.com/slok/taskd/internal/log"
	"github.com/slok/taskd/internal/progress"
	"github.com/slok/taskd/internal/server"
	"github.com/slok/taskd/internal/storage"
	"github.com/slok/taskd/internal/storage/memory"
	"github.com/slok/taskd/internal/task"
	"github.com/slok/taskd/internal/transport/websocket"
	"github.com/slok/taskd/internal/workerpool"
)

const shutdownTimeout = 10 * time.Second

// ServeCommand runs the task service.
type ServeCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	listenAddress string
	tmpDir        string
	maxWorkers    int
	stagesFile    string
	lang          string
	historySize   int
}

// NewServeCommand returns the serve command.
func NewServeCommand(rootCmd *RootCommand, app *kingpin.Application) *ServeCommand {
	c := &ServeCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("serve", "Run the task service.")
	c.Cmd.Flag("listen-address", "Address the HTTP and websocket server listens on.").Default(conventions.DefaultAddress).StringVar(&c.listenAddress)
	c.Cmd.Flag("tmp-dir", "Directory where workers read and write their files.").Default(defaultTempDir()).StringVar(&c.tmpDir)
	c.Cmd.Flag("max-workers", "Maximum number of worker processes (0 uses the number of CPUs).").Default("0").IntVar(&c.maxWorkers)
	c.Cmd.Flag("stages-file", "YAML file with the progress stages, the embedded stages by default.").StringVar(&c.stagesFile)
	c.Cmd.Flag("lang", "Language of the progress notices.").Default("en").StringVar(&c.lang)
	c.Cmd.Flag("history-size", "Number of finished tasks kept for inspection.").Default("100").IntVar(&c.historySize)

	return c
}

func (c ServeCommand) Name() string { return c.Cmd.FullCommand() }

func (c ServeCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	if err := os.MkdirAll(c.tmpDir, 0o755); err != nil {
		return fmt.Errorf("could not create temp dir: %w", err)
	}

	progressManager, err := c.newProgressManager(logger)
	if err != nil {
		return err
	}

	// Workers are this same binary.
	spawner, err := workerpool.NewExecSpawner(workerpool.ExecSpawnerConfig{
		Args:    append(c.rootCmd.globalArgs(), "internal-worker"),
		TempDir: c.tmpDir,
		Stderr:  c.rootCmd.Stderr,
	})
	if err != nil {
		return fmt.Errorf("could not create worker spawner: %w", err)
	}

	pool, err := workerpool.NewPool(workerpool.Config{
		TempDir:    c.tmpDir,
		MaxWorkers: c.maxWorkers,
		Spawner:    spawner,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create worker pool: %w", err)
	}

	history, err := memory.NewRepository(memory.RepositoryConfig{
		MaxTasks: c.historySize,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("could not create task history: %w", err)
	}

	taskManager, err := task.NewManager(task.ManagerConfig{
		Caller:  task.NewPoolCaller(pool),
		TempDir: c.tmpDir,
		Listener: task.Listeners{
			progress.NewTaskTracker(progressManager, logger),
			storage.NewTaskRecorder(history, logger),
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("could not create task manager: %w", err)
	}

	wsHandler, err := websocket.NewHandler(websocket.HandlerConfig{
		TaskManager: taskManager,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("could not create websocket handler: %w", err)
	}

	router, err := server.NewRouter(server.Config{
		WebSocket: wsHandler,
		Tasks:     taskManager,
		History:   history,
		Progress:  progressManager,
		Pool:      pool,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("could not create router: %w", err)
	}

	srv := &http.Server{
		Addr:              c.listenAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var g run.Group

	// HTTP server.
	{
		g.Add(
			func() error {
				logger.Infof("listening on %s", c.listenAddress)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			},
			func(_ error) {
				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()

				wsHandler.Close()
				if err := srv.Shutdown(ctx); err != nil {
					logger.Warningf("could not shutdown HTTP server: %v", err)
				}
				if err := pool.Close(ctx); err != nil {
					logger.Warningf("could not close worker pool: %v", err)
				}
			},
		)
	}

	// Context cancellation (from parent signal handling).
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				<-ctx.Done()
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}

func (c ServeCommand) newProgressManager(logger log.Logger) (*progress.Manager, error) {
	lang, err := language.Parse(c.lang)
	if err != nil {
		return nil, fmt.Errorf("invalid language %q: %w", c.lang, err)
	}

	stages, err := progress.LoadStagesFile(c.stagesFile)
	if err != nil {
		return nil, err
	}

	catalog, err := stages.Catalog()
	if err != nil {
		return nil, err
	}

	m, err := progress.NewManager(progress.ManagerConfig{
		Language: lang,
		Catalog:  catalog,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create progress manager: %w", err)
	}

	if err := stages.Register(m); err != nil {
		return nil, fmt.Errorf("could not register progress stages: %w", err)
	}

	return m, nil
}
