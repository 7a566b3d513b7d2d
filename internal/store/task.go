package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/mailpipe/internal/domain"
)

// TaskGuard describes the row state a conditional task update expects to
// find. StartedAt distinguishes one claim of a task from the next.
type TaskGuard struct {
	Status    domain.TaskStatus
	StartedAt *time.Time
}

// GuardOf captures the current state of t for a later conditional update.
func GuardOf(t *domain.ExtractionTask) TaskGuard {
	g := TaskGuard{Status: t.Status}
	if t.StartedAt != nil {
		started := *t.StartedAt
		g.StartedAt = &started
	}
	return g
}

// TaskStore is the durable extraction task queue.
type TaskStore interface {
	// Create inserts a new task. Returns ErrAttachmentQueued when a task for
	// the same attachment already exists.
	Create(ctx context.Context, task *domain.ExtractionTask) error

	// GetByID returns the task or ErrTaskNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ExtractionTask, error)

	// ListByEmail returns every task of the email, oldest first.
	ListByEmail(ctx context.Context, emailID uuid.UUID) ([]*domain.ExtractionTask, error)

	// ClaimRunnable atomically moves up to limit runnable tasks to PROCESSING,
	// incrementing their attempts and stamping started_at. Tasks claimed by
	// one caller are never returned to another concurrent caller.
	ClaimRunnable(ctx context.Context, now time.Time, limit int) ([]*domain.ExtractionTask, error)

	// FindStuck returns PROCESSING tasks whose started_at is before cutoff.
	FindStuck(ctx context.Context, cutoff time.Time) ([]*domain.ExtractionTask, error)

	// UpdateState persists the mutable fields of task if the stored row still
	// matches guard. Returns ErrConflict otherwise.
	UpdateState(ctx context.Context, task *domain.ExtractionTask, guard TaskGuard) error

	// WithTx returns a TaskStore bound to tx.
	WithTx(tx *sql.Tx) TaskStore
}
