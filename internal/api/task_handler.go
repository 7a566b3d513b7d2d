package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/phrazzld/mailpipe/internal/api/shared"
	"github.com/phrazzld/mailpipe/internal/domain"
	"github.com/phrazzld/mailpipe/internal/platform/logger"
	"github.com/phrazzld/mailpipe/internal/redact"
)

// TaskService is the subset of task.Service the handlers use.
type TaskService interface {
	Enqueue(ctx context.Context, params domain.NewTaskParams) (*domain.ExtractionTask, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.ExtractionTask, error)
	ListByEmail(ctx context.Context, emailID uuid.UUID) ([]*domain.ExtractionTask, error)
	Cancel(ctx context.Context, id uuid.UUID) (*domain.ExtractionTask, error)
	Retry(ctx context.Context, id uuid.UUID) (*domain.ExtractionTask, error)
}

// TaskHandler serves the extraction task routes.
type TaskHandler struct {
	tasks  TaskService
	logger *slog.Logger
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(tasks TaskService, log *slog.Logger) *TaskHandler {
	if log == nil {
		// ALLOW-PANIC: constructor enforcing required dependency
		panic("logger cannot be nil for TaskHandler")
	}
	return &TaskHandler{
		tasks:  tasks,
		logger: log.With(slog.String("component", "task_handler")),
	}
}

// Enqueue handles POST /api/tasks.
func (h *TaskHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req EnqueueTaskRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		log.Warn("invalid request format", slog.String("error", redact.Error(err)))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		HandleValidationError(w, r, err)
		return
	}

	t, err := h.tasks.Enqueue(r.Context(), req.toParams())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to enqueue task")
		return
	}

	log.Debug("task enqueued via api",
		slog.String("task_id", t.ID.String()),
		slog.String("operator", operatorOf(r)))
	shared.RespondWithJSON(w, r, http.StatusCreated, taskToResponse(t))
}

// Get handles GET /api/tasks/{id}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	t, err := h.tasks.Get(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get task")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t))
}

// ListByEmail handles GET /api/emails/{id}/tasks.
func (h *TaskHandler) ListByEmail(w http.ResponseWriter, r *http.Request) {
	emailID, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	tasks, err := h.tasks.ListByEmail(r.Context(), emailID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list tasks")
		return
	}

	resp := TaskListResponse{
		EmailID: emailID.String(),
		Tasks:   make([]TaskResponse, 0, len(tasks)),
	}
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, taskToResponse(t))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// Cancel handles POST /api/tasks/{id}/cancel.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "cancel", h.tasks.Cancel)
}

// Retry handles POST /api/tasks/{id}/retry.
func (h *TaskHandler) Retry(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "retry", h.tasks.Retry)
}

func (h *TaskHandler) transition(
	w http.ResponseWriter,
	r *http.Request,
	action string,
	fn func(context.Context, uuid.UUID) (*domain.ExtractionTask, error),
) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	t, err := fn(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			log.Info("task "+action+" rejected",
				slog.String("task_id", id.String()),
				slog.String("error", err.Error()))
		}
		HandleAPIError(w, r, err, "Failed to "+action+" task")
		return
	}

	log.Info("task "+action+" requested",
		slog.String("task_id", id.String()),
		slog.String("operator", operatorOf(r)),
		slog.String("status", string(t.Status)))
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t))
}

func operatorOf(r *http.Request) string {
	subject, _ := shared.GetOperator(r.Context())
	return subject
}
