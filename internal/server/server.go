// Package server sets up the HTTP routes of the task service: the client
// websocket endpoint and the inspection API.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/slok/taskd/internal/conventions"
	"github.com/slok/taskd/internal/log"
	"github.com/slok/taskd/internal/model"
	"github.com/slok/taskd/internal/progress"
	"github.com/slok/taskd/internal/storage"
	"github.com/slok/taskd/internal/workerpool"
)

// TaskLister lists the registered tasks.
type TaskLister interface {
	Tasks() []model.TaskSnapshot
}

// ProgressReader returns the progress of the running operation.
type ProgressReader interface {
	Snapshot() progress.Snapshot
}

// PoolStater returns the worker pool usage.
type PoolStater interface {
	Stats() workerpool.Stats
}

// Config is the configuration of the router.
type Config struct {
	// WebSocket is the handler of the client connections.
	WebSocket http.Handler
	Tasks     TaskLister
	// History has the finished tasks.
	History  storage.Repository
	Progress ProgressReader
	Pool     PoolStater
	Logger   log.Logger
}

func (c *Config) defaults() error {
	if c.WebSocket == nil {
		return fmt.Errorf("websocket handler is required")
	}

	if c.Tasks == nil {
		return fmt.Errorf("task lister is required")
	}

	if c.History == nil {
		return fmt.Errorf("history repository is required")
	}

	if c.Progress == nil {
		return fmt.Errorf("progress reader is required")
	}

	if c.Pool == nil {
		return fmt.Errorf("pool is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "server.Router"})

	return nil
}

type router struct {
	tasks    TaskLister
	history  storage.Repository
	progress ProgressReader
	pool     PoolStater
	logger   log.Logger
}

// NewRouter returns the HTTP handler of the service.
func NewRouter(cfg Config) (http.Handler, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	rt := router{
		tasks:    cfg.Tasks,
		history:  cfg.History,
		progress: cfg.Progress,
		pool:     cfg.Pool,
		logger:   cfg.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(rt.logRequests)
	r.Use(middleware.Recoverer)

	r.Handle(conventions.WebSocketPath, cfg.WebSocket)
	r.Route("/api", func(r chi.Router) {
		r.Get("/tasks", rt.handleListTasks)
		r.Get("/tasks/history", rt.handleListHistory)
		r.Get("/tasks/{id}", rt.handleGetTask)
		r.Get("/progress", rt.handleGetProgress)
		r.Get("/healthz", rt.handleHealthz)
	})

	return r, nil
}

func (rt router) handleListTasks(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, rt.tasks.Tasks())
}

func (rt router) handleListHistory(w http.ResponseWriter, r *http.Request) {
	tasks, err := rt.history.ListTasks(r.Context())
	if err != nil {
		rt.logger.Errorf("could not list task history: %v", err)
		respondWithError(w, http.StatusInternalServerError, "could not list task history")
		return
	}

	respondWithJSON(w, http.StatusOK, tasks)
}

// handleGetTask looks for the task in the registered tasks first and in the
// finished ones after.
func (rt router) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, t := range rt.tasks.Tasks() {
		if t.TaskID == id {
			respondWithJSON(w, http.StatusOK, t)
			return
		}
	}

	t, err := rt.history.GetTask(r.Context(), id)
	switch {
	case errors.Is(err, model.ErrNotFound):
		respondWithError(w, http.StatusNotFound, fmt.Sprintf("task %s not found", id))
	case err != nil:
		rt.logger.Errorf("could not get task %s: %v", id, err)
		respondWithError(w, http.StatusInternalServerError, "could not get task")
	default:
		respondWithJSON(w, http.StatusOK, t)
	}
}

func (rt router) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, rt.progress.Snapshot())
}

// Health is the response of the health check.
type Health struct {
	Status string           `json:"status"`
	Pool   workerpool.Stats `json:"pool"`
}

func (rt router) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, Health{Status: "ok", Pool: rt.pool.Stats()})
}

// logRequests logs the served requests with the service logger.
func (rt router) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		rt.logger.WithValues(log.Kv{
			"request-id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
		}).Debugf("request served")
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to marshal response")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
