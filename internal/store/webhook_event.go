package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/mailpipe/internal/domain"
)

// EventGuard describes the row state a conditional event update expects to
// find. LastAttemptAt distinguishes one claim of an event from the next.
type EventGuard struct {
	Status        domain.WebhookEventStatus
	LastAttemptAt *time.Time
}

// EventGuardOf captures the current state of e for a later conditional update.
func EventGuardOf(e *domain.WebhookEvent) EventGuard {
	g := EventGuard{Status: e.Status}
	if e.LastAttemptAt != nil {
		attempted := *e.LastAttemptAt
		g.LastAttemptAt = &attempted
	}
	return g
}

// WebhookEventStore is the transactional outbox.
type WebhookEventStore interface {
	// Create inserts event unless one already exists for the same entity and
	// event type. It reports whether a row was written.
	Create(ctx context.Context, event *domain.WebhookEvent) (bool, error)

	// GetByID returns the event or ErrWebhookEventNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error)

	// List returns events, newest first. An empty status matches all.
	List(ctx context.Context, status domain.WebhookEventStatus, limit int) ([]*domain.WebhookEvent, error)

	// ClaimDeliverable atomically moves up to limit due PENDING events to
	// SENDING, incrementing their attempts.
	ClaimDeliverable(ctx context.Context, now time.Time, limit int) ([]*domain.WebhookEvent, error)

	// RecoverStale returns SENDING events whose last attempt started before
	// cutoff to PENDING, or to FAILED when no attempts remain.
	RecoverStale(ctx context.Context, cutoff, now time.Time) (int64, error)

	// UpdateState persists the mutable fields of event if the stored row
	// still matches guard. Returns ErrConflict otherwise.
	UpdateState(ctx context.Context, event *domain.WebhookEvent, guard EventGuard) error

	// WithTx returns a WebhookEventStore bound to tx.
	WithTx(tx *sql.Tx) WebhookEventStore
}
