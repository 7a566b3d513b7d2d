package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/phrazzld/mailpipe/internal/api/shared"
	"github.com/phrazzld/mailpipe/internal/domain"
	"github.com/phrazzld/mailpipe/internal/platform/logger"
)

// WebhookEventService is the subset of outbox.Service the handlers use.
type WebhookEventService interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error)
	List(ctx context.Context, status domain.WebhookEventStatus, limit int) ([]*domain.WebhookEvent, error)
	Retry(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error)
}

// WebhookHandler serves the webhook outbox routes.
type WebhookHandler struct {
	events WebhookEventService
	logger *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(events WebhookEventService, log *slog.Logger) *WebhookHandler {
	if log == nil {
		// ALLOW-PANIC: constructor enforcing required dependency
		panic("logger cannot be nil for WebhookHandler")
	}
	return &WebhookHandler{
		events: events,
		logger: log.With(slog.String("component", "webhook_handler")),
	}
}

// List handles GET /api/webhook-events?status=&limit=.
func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	var status domain.WebhookEventStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := domain.ParseWebhookEventStatus(raw)
		if err != nil {
			HandleAPIError(w, r, err, "")
			return
		}
		status = parsed
	}

	limit, err := getQueryInt(r, "limit")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	events, err := h.events.List(r.Context(), status, limit)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list webhook events")
		return
	}

	resp := WebhookEventListResponse{Events: make([]WebhookEventResponse, 0, len(events))}
	for _, e := range events {
		resp.Events = append(resp.Events, webhookEventToResponse(e))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// Get handles GET /api/webhook-events/{id}.
func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	e, err := h.events.Get(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get webhook event")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, webhookEventToResponse(e))
}

// Retry handles POST /api/webhook-events/{id}/retry.
func (h *WebhookHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	e, err := h.events.Retry(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to retry webhook event")
		return
	}

	logger.FromContextOrDefault(r.Context(), h.logger).Info("webhook event retry requested",
		slog.String("event_id", id.String()),
		slog.String("operator", operatorOf(r)))
	shared.RespondWithJSON(w, r, http.StatusOK, webhookEventToResponse(e))
}
