package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"contentfactory/internal/domain"
	"contentfactory/internal/middleware"
	"contentfactory/internal/orchestrator"
)

const maxTaskBody = 1 << 20

type createTaskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

type taskResponse struct {
	ID              string             `json:"id"`
	Status          domain.TaskStatus  `json:"status"`
	Progress        int                `json:"progress"`
	ProgressMessage string             `json:"progress_message,omitempty"`
	Inputs          domain.TaskInputs  `json:"inputs"`
	Result          *domain.TaskResult `json:"result,omitempty"`
	Error           string             `json:"error,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

func newTaskResponse(t *domain.Task) taskResponse {
	return taskResponse{
		ID:              t.ID,
		Status:          t.Status,
		Progress:        t.Progress,
		ProgressMessage: t.ProgressMessage,
		Inputs:          t.Inputs,
		Result:          t.Result,
		Error:           t.Error,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

// CreateTask enqueues a task and answers 202 without waiting for it.
func (a *App) CreateTask(w http.ResponseWriter, r *http.Request) {
	var in domain.TaskInputs
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTaskBody)).Decode(&in); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	id, err := a.Tasks.CreateTask(r.Context(), in)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			a.error(w, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
		a.Logger.Error().Err(err).Str("request_id", middleware.RequestIDFromContext(r.Context())).Msg("tasks: create failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue task")
		return
	}
	w.Header().Set("Location", "/v1/tasks/"+id)
	a.json(w, http.StatusAccepted, createTaskResponse{TaskID: id, Status: string(domain.TaskStatusPending)})
}

// GetTask returns the current task snapshot for polling clients.
func (a *App) GetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "id required")
		return
	}
	task, err := a.Tasks.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		a.Logger.Error().Err(err).Str("task_id", id).Msg("tasks: load failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load task")
		return
	}
	a.json(w, http.StatusOK, newTaskResponse(task))
}

// TaskEvents streams progress as server-sent events until the task reaches
// a terminal status or the client goes away.
func (a *App) TaskEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	flusher, ok := w.(http.Flusher)
	if !ok || a.Events == nil {
		a.error(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	// subscribe before reading the snapshot so no update falls in between
	updates, unsubscribe := a.Events.Subscribe(id)
	defer unsubscribe()

	task, err := a.Tasks.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to load task")
		return
	}

	// the stream outlives the server write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	snapshot := updateFromTask(task)
	lastProgress := snapshot.Progress
	writeEvent(w, snapshot)
	flusher.Flush()
	if snapshot.Terminal() {
		return
	}

	heartbeat := a.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			// the store is authoritative when updates are published elsewhere
			if task, err := a.Tasks.Get(r.Context(), id); err == nil && (task.Status.IsTerminal() || task.Progress > lastProgress) {
				u := updateFromTask(task)
				lastProgress = u.Progress
				writeEvent(w, u)
				flusher.Flush()
				if u.Terminal() {
					return
				}
				continue
			}
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case u, ok := <-updates:
			if !ok {
				return
			}
			if !u.Terminal() && u.Progress < lastProgress {
				continue
			}
			lastProgress = u.Progress
			writeEvent(w, u)
			flusher.Flush()
			if u.Terminal() {
				return
			}
		}
	}
}

func updateFromTask(task *domain.Task) orchestrator.Update {
	return orchestrator.Update{
		TaskID:   task.ID,
		Status:   task.Status,
		Progress: task.Progress,
		Message:  task.ProgressMessage,
		Result:   task.Result,
		Error:    task.Error,
		At:       task.UpdatedAt,
	}
}

func writeEvent(w http.ResponseWriter, u orchestrator.Update) {
	payload, err := json.Marshal(u)
	if err != nil {
		return
	}
	event := "progress"
	if u.Terminal() {
		event = "done"
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}
