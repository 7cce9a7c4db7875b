package lib_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskd/internal/compute"
	"github.com/slok/taskd/internal/progress"
	"github.com/slok/taskd/internal/server"
	"github.com/slok/taskd/internal/storage"
	"github.com/slok/taskd/internal/storage/memory"
	"github.com/slok/taskd/internal/task"
	"github.com/slok/taskd/internal/transport/websocket"
	"github.com/slok/taskd/internal/worker"
	"github.com/slok/taskd/internal/workerpool"
	"github.com/slok/taskd/pkg/lib"
)

const toolPathData = `{
	"headType": "laser",
	"models": [{"modelId": "m1", "width": 10, "height": 2, "lineSpacing": 1, "workSpeed": 600, "jogSpeed": 600}]
}`

// newTestClient runs a whole service with in-process workers and returns a client for it.
func newTestClient(t *testing.T) *lib.Client {
	t.Helper()

	tmpDir := t.TempDir()

	ops, err := compute.Operations(compute.Config{TempDir: tmpDir})
	require.NoError(t, err)
	srv, err := worker.NewServer(worker.ServerConfig{Operations: ops})
	require.NoError(t, err)

	pool, err := workerpool.NewPool(workerpool.Config{
		TempDir:    tmpDir,
		MaxWorkers: 2,
		Spawner:    worker.InProcessSpawner(srv),
	})
	require.NoError(t, err)

	stages, err := progress.DefaultStages()
	require.NoError(t, err)
	cat, err := stages.Catalog()
	require.NoError(t, err)
	progressManager, err := progress.NewManager(progress.ManagerConfig{Catalog: cat})
	require.NoError(t, err)
	require.NoError(t, stages.Register(progressManager))

	history, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(t, err)

	taskManager, err := task.NewManager(task.ManagerConfig{
		Caller:  task.NewPoolCaller(pool),
		TempDir: tmpDir,
		Listener: task.Listeners{
			progress.NewTaskTracker(progressManager, nil),
			storage.NewTaskRecorder(history, nil),
		},
	})
	require.NoError(t, err)

	ws, err := websocket.NewHandler(websocket.HandlerConfig{TaskManager: taskManager})
	require.NoError(t, err)

	router, err := server.NewRouter(server.Config{
		WebSocket: ws,
		Tasks:     taskManager,
		History:   history,
		Progress:  progressManager,
		Pool:      pool,
	})
	require.NoError(t, err)

	httpSrv := httptest.NewServer(router)
	t.Cleanup(func() {
		ws.Close()
		httpSrv.Close()
		_ = pool.Close(context.Background())
	})

	client, err := lib.New(context.Background(), lib.Config{
		Address: strings.TrimPrefix(httpSrv.URL, "http://"),
	})
	require.NoError(t, err)

	return client
}

func TestSubmitTask(t *testing.T) {
	tests := map[string]struct {
		opts        lib.SubmitTaskOpts
		expStatus   lib.TaskStatus
		expFiles    int
		expProgress bool
		expErr      bool
		expIs       error
	}{
		"Submitting a valid tool path task should complete.": {
			opts: lib.SubmitTaskOpts{
				Type:     lib.TaskTypeGenerateToolPath,
				HeadType: lib.HeadTypeLaser,
				ModelID:  "m1",
				Data:     []byte(toolPathData),
			},
			expStatus:   lib.TaskStatusCompleted,
			expFiles:    1,
			expProgress: true,
		},

		"Submitting a task the worker rejects should return a failed task.": {
			opts: lib.SubmitTaskOpts{
				Type:     lib.TaskTypeGenerateToolPath,
				HeadType: lib.HeadTypeLaser,
				Data:     []byte(`{"models": []}`),
			},
			expStatus: lib.TaskStatusFailed,
		},

		"Submitting an unknown task type should fail.": {
			opts: lib.SubmitTaskOpts{
				Type: "render",
			},
			expErr: true,
			expIs:  lib.ErrNotValid,
		},

		"Submitting invalid JSON data should fail.": {
			opts: lib.SubmitTaskOpts{
				Type: lib.TaskTypeGenerateGcode,
				Data: []byte(`{nope`),
			},
			expErr: true,
			expIs:  lib.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			client := newTestClient(t)

			var reports []float64
			test.opts.OnProgress = func(p float64) { reports = append(reports, p) }

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			got, err := client.SubmitTask(ctx, test.opts)
			if test.expErr {
				assert.Error(err)
				if test.expIs != nil {
					assert.True(errors.Is(err, test.expIs), "expected error %v, got: %v", test.expIs, err)
				}
				return
			}

			require.NoError(err)
			assert.NotEmpty(got.ID)
			assert.Equal(test.expStatus, got.Status)
			assert.Len(got.Result.Filenames, test.expFiles)
			if test.expStatus == lib.TaskStatusFailed {
				assert.NotEmpty(got.Error)
			} else {
				assert.False(got.FinishedAt.IsZero())
			}
			if test.expProgress {
				assert.NotEmpty(reports)
			}
		})
	}
}

func TestGetTask(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)
	client := newTestClient(t)
	ctx := context.Background()

	submitted, err := client.SubmitTask(ctx, lib.SubmitTaskOpts{
		ID:       "task-1",
		Type:     lib.TaskTypeGenerateToolPath,
		HeadType: lib.HeadTypeLaser,
		Data:     []byte(toolPathData),
	})
	require.NoError(err)

	// The history is saved after the result is sent.
	assert.Eventually(func() bool {
		got, err := client.GetTask(ctx, "task-1")
		return err == nil && got.Status == submitted.Status
	}, 5*time.Second, 10*time.Millisecond)

	_, err = client.GetTask(ctx, "missing")
	assert.True(errors.Is(err, lib.ErrNotFound), "got %v", err)

	_, err = client.GetTask(ctx, "")
	assert.True(errors.Is(err, lib.ErrNotValid), "got %v", err)
}

func TestListTaskHistory(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)
	client := newTestClient(t)
	ctx := context.Background()

	for _, id := range []string{"t1", "t2"} {
		_, err := client.SubmitTask(ctx, lib.SubmitTaskOpts{
			ID:   id,
			Type: lib.TaskTypeGenerateToolPath,
			Data: []byte(toolPathData),
		})
		require.NoError(err)
	}

	var ids []string
	assert.Eventually(func() bool {
		tasks, err := client.ListTaskHistory(ctx)
		if err != nil || len(tasks) != 2 {
			return false
		}
		ids = []string{tasks[0].ID, tasks[1].ID}
		return true
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal([]string{"t2", "t1"}, ids)

	running, err := client.ListTasks(ctx)
	require.NoError(err)
	assert.Empty(running)
}

func TestProgressAndHealth(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)
	client := newTestClient(t)
	ctx := context.Background()

	p, err := client.GetProgress(ctx)
	require.NoError(err)
	assert.Equal(lib.ProgressStateEmpty, p.State)

	_, err = client.SubmitTask(ctx, lib.SubmitTaskOpts{
		Type: lib.TaskTypeGenerateToolPath,
		Data: []byte(toolPathData),
	})
	require.NoError(err)

	// The tool path is the first step of its stage, the stage keeps running.
	assert.Eventually(func() bool {
		p, err := client.GetProgress(ctx)
		return err == nil && p.State == lib.ProgressStateRunning && p.Progress == 0.5
	}, 5*time.Second, 10*time.Millisecond)

	h, err := client.Health(ctx)
	require.NoError(err)
	assert.Equal("ok", h.Status)
	assert.Equal(2, h.MaxWorkers)
	assert.Equal(1, h.Workers)
	assert.Zero(h.Busy)
}
