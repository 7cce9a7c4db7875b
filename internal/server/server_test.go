package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskd/internal/model"
	"github.com/slok/taskd/internal/progress"
	"github.com/slok/taskd/internal/server"
	"github.com/slok/taskd/internal/storage/memory"
	"github.com/slok/taskd/internal/workerpool"
)

type fakeTasks []model.TaskSnapshot

func (f fakeTasks) Tasks() []model.TaskSnapshot { return f }

type fakeProgress progress.Snapshot

func (f fakeProgress) Snapshot() progress.Snapshot { return progress.Snapshot(f) }

type fakePool workerpool.Stats

func (f fakePool) Stats() workerpool.Stats { return workerpool.Stats(f) }

func TestNewRouter(t *testing.T) {
	_, err := server.NewRouter(server.Config{})
	assert.Error(t, err)
}

func TestRouter(t *testing.T) {
	tests := map[string]struct {
		method  string
		path    string
		expCode int
		expBody string
	}{
		"Listing tasks should return the task snapshots.": {
			method:  http.MethodGet,
			path:    "/api/tasks",
			expCode: http.StatusOK,
			expBody: `[{"taskId":"t1","taskType":"cutModel","headType":"printing","modelId":"m1","taskStatus":"dispatched"}]`,
		},
		"Listing the history should return the finished tasks.": {
			method:  http.MethodGet,
			path:    "/api/tasks/history",
			expCode: http.StatusOK,
			expBody: `[{"taskId":"t0","taskType":"processImage","headType":"laser","taskStatus":"failed","finishTime":1700000000000,"error":"boom"}]`,
		},
		"Getting a registered task should return it.": {
			method:  http.MethodGet,
			path:    "/api/tasks/t1",
			expCode: http.StatusOK,
			expBody: `{"taskId":"t1","taskType":"cutModel","headType":"printing","modelId":"m1","taskStatus":"dispatched"}`,
		},
		"Getting a finished task should return it from the history.": {
			method:  http.MethodGet,
			path:    "/api/tasks/t0",
			expCode: http.StatusOK,
			expBody: `{"taskId":"t0","taskType":"processImage","headType":"laser","taskStatus":"failed","finishTime":1700000000000,"error":"boom"}`,
		},
		"Getting a missing task should not be found.": {
			method:  http.MethodGet,
			path:    "/api/tasks/missing",
			expCode: http.StatusNotFound,
			expBody: `{"error":"task missing not found"}`,
		},
		"Getting the progress should return the progress snapshot.": {
			method:  http.MethodGet,
			path:    "/api/progress",
			expCode: http.StatusOK,
			expBody: `{"stage":"cutModel","state":"running","progress":0.5,"notice":"Slicing model... 50%"}`,
		},
		"The health check should return the pool usage.": {
			method:  http.MethodGet,
			path:    "/api/healthz",
			expCode: http.StatusOK,
			expBody: `{"status":"ok","pool":{"maxWorkers":4,"workers":2,"busy":1,"queued":0}}`,
		},
		"The websocket route should use the websocket handler.": {
			method:  http.MethodGet,
			path:    "/ws",
			expCode: http.StatusTeapot,
		},
		"Unknown routes should not be found.": {
			method:  http.MethodGet,
			path:    "/api/missing",
			expCode: http.StatusNotFound,
		},
		"Wrong methods should not be allowed.": {
			method:  http.MethodPost,
			path:    "/api/tasks",
			expCode: http.StatusMethodNotAllowed,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			assert := assert.New(t)

			history, err := memory.NewRepository(memory.RepositoryConfig{})
			require.NoError(err)
			err = history.SaveTask(context.TODO(), model.TaskSnapshot{
				TaskID:     "t0",
				TaskType:   model.TaskTypeProcessImage,
				HeadType:   model.HeadTypeLaser,
				TaskStatus: model.TaskStatusFailed,
				FinishTime: 1700000000000,
				Error:      "boom",
			})
			require.NoError(err)

			h, err := server.NewRouter(server.Config{
				WebSocket: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusTeapot)
				}),
				Tasks: fakeTasks{{
					TaskID:     "t1",
					TaskType:   model.TaskTypeCutModel,
					HeadType:   model.HeadTypePrinting,
					ModelID:    "m1",
					TaskStatus: model.TaskStatusDispatched,
				}},
				History:  history,
				Progress: fakeProgress{Stage: "cutModel", State: progress.StateRunning, Progress: 0.5, Notice: "Slicing model... 50%"},
				Pool:     fakePool{MaxWorkers: 4, Workers: 2, Busy: 1},
			})
			require.NoError(err)

			req := httptest.NewRequest(test.method, test.path, nil)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Equal(test.expCode, rr.Code)
			if test.expBody != "" {
				assert.Equal("application/json", rr.Header().Get("Content-Type"))
				assert.JSONEq(test.expBody, rr.Body.String())
			}
		})
	}
}
