package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"contentfactory/internal/domain"
	"contentfactory/internal/infra"
	"contentfactory/internal/orchestrator"
)

// TaskService is the orchestrator surface used by the handlers.
type TaskService interface {
	CreateTask(ctx context.Context, inputs domain.TaskInputs) (string, error)
	Get(ctx context.Context, id string) (*domain.Task, error)
}

// EventSource hands out per-task update subscriptions.
type EventSource interface {
	Subscribe(taskID string) (<-chan orchestrator.Update, func())
}

// Pinger reports backing store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type App struct {
	Tasks  TaskService
	Events EventSource
	DB     Pinger
	Logger infra.Logger

	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
}

func NewApp(tasks TaskService, events EventSource, db Pinger, logger *infra.Logger) *App {
	return &App{
		Tasks:     tasks,
		Events:    events,
		DB:        db,
		Logger:    infra.LoggerOrDiscard(logger),
		Heartbeat: 15 * time.Second,
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]string{"error": errCode, "message": message})
}
