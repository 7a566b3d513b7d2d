package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/mailpipe/internal/domain"
	"github.com/phrazzld/mailpipe/internal/platform/logger"
	"github.com/phrazzld/mailpipe/internal/store"
)

// DefaultListLimit caps List when the caller passes no limit.
const DefaultListLimit = 100

// Service exposes outbox inspection and manual retry to operators.
type Service struct {
	events store.WebhookEventStore
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a Service.
func NewService(events store.WebhookEventStore, log *slog.Logger) (*Service, error) {
	if events == nil {
		return nil, ErrNilEventStore
	}
	if log == nil {
		return nil, ErrNilLogger
	}
	return &Service{
		events: events,
		logger: log.With(slog.String("component", "outbox_service")),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Get returns an event by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error) {
	e, err := s.events.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}
	return e, nil
}

// List returns events with the given status, newest first. An empty status
// lists every event.
func (s *Service) List(ctx context.Context, status domain.WebhookEventStatus, limit int) ([]*domain.WebhookEvent, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown webhook event status %q", domain.ErrValidation, status)
	}
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}

	events, err := s.events.List(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook events: %w", err)
	}
	return events, nil
}

// Retry makes a FAILED event deliverable again with a fresh attempt budget.
// Retrying an event in any other status returns domain.ErrInvalidTransition.
func (s *Service) Retry(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error) {
	e, err := s.events.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}

	guard := store.EventGuardOf(e)
	if err := e.ResetForRetry(s.now()); err != nil {
		return nil, err
	}
	if err := s.events.UpdateState(ctx, e, guard); err != nil {
		return nil, fmt.Errorf("failed to retry webhook event: %w", err)
	}

	logger.FromContextOrDefault(ctx, s.logger).Info("webhook event reset for retry",
		slog.String("event_id", e.ID.String()),
		slog.String("event_type", e.EventType))
	return e, nil
}
