package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/mailpipe/internal/domain"
	"github.com/phrazzld/mailpipe/internal/platform/logger"
	"github.com/phrazzld/mailpipe/internal/store"
)

const webhookEventColumns = `id, tenant_id, event_type, entity_type, entity_id, payload, status,
	attempts, max_attempts, last_error, last_attempt_at, sent_at, next_retry_at, created_at, updated_at`

const claimWebhookEventsQuery = `
	UPDATE webhook_events AS w
	SET status = 'SENDING',
		attempts = w.attempts + 1,
		last_attempt_at = $1,
		next_retry_at = NULL,
		updated_at = $1
	WHERE w.id IN (
		SELECT id FROM webhook_events
		WHERE status = 'PENDING'
			AND (next_retry_at IS NULL OR next_retry_at <= $1)
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	)
	RETURNING w.id, w.tenant_id, w.event_type, w.entity_type, w.entity_id, w.payload, w.status,
		w.attempts, w.max_attempts, w.last_error, w.last_attempt_at, w.sent_at, w.next_retry_at,
		w.created_at, w.updated_at`

// Events already at their attempt limit fail instead of re-entering the queue.
const recoverStaleWebhookEventsQuery = `
	UPDATE webhook_events
	SET status = CASE WHEN attempts >= max_attempts THEN 'FAILED' ELSE 'PENDING' END,
		last_error = 'delivery interrupted before a result was recorded',
		next_retry_at = NULL,
		updated_at = $2
	WHERE status = 'SENDING' AND last_attempt_at < $1`

// PostgresWebhookEventStore implements store.WebhookEventStore.
type PostgresWebhookEventStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresWebhookEventStore creates an outbox store. A nil logger uses the default.
func NewPostgresWebhookEventStore(db store.DBTX, log *slog.Logger) *PostgresWebhookEventStore {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresWebhookEventStore{
		db:     db,
		logger: log.With(slog.String("component", "webhook_event_store")),
	}
}

var _ store.WebhookEventStore = (*PostgresWebhookEventStore)(nil)

// WithTx implements store.WebhookEventStore.
func (s *PostgresWebhookEventStore) WithTx(tx *sql.Tx) store.WebhookEventStore {
	return &PostgresWebhookEventStore{db: tx, logger: s.logger}
}

// Create implements store.WebhookEventStore.
func (s *PostgresWebhookEventStore) Create(ctx context.Context, e *domain.WebhookEvent) (bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := e.Validate(); err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (id, tenant_id, event_type, entity_type, entity_id, payload,
			status, attempts, max_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (entity_type, entity_id, event_type) DO NOTHING`,
		e.ID,
		e.TenantID,
		e.EventType,
		e.EntityType,
		e.EntityID,
		[]byte(e.Payload),
		string(e.Status),
		e.Attempts,
		e.MaxAttempts,
		e.CreatedAt,
		e.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create webhook event",
			slog.String("event_type", e.EventType),
			slog.String("entity_id", e.EntityID.String()),
			slog.String("error", err.Error()))
		return false, store.NewStoreError("webhook_event", "create", "insert failed", MapError(err))
	}

	n, err := rowsAffected(result)
	if err != nil {
		return false, err
	}
	if n == 0 {
		log.Info("webhook event already recorded",
			slog.String("event_type", e.EventType),
			slog.String("entity_type", e.EntityType),
			slog.String("entity_id", e.EntityID.String()))
		return false, nil
	}
	return true, nil
}

// GetByID implements store.WebhookEventStore.
func (s *PostgresWebhookEventStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+webhookEventColumns+` FROM webhook_events WHERE id = $1`, id)
	e, err := scanWebhookEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrWebhookEventNotFound
		}
		return nil, store.NewStoreError("webhook_event", "get", "query failed", MapError(err))
	}
	return e, nil
}

// List implements store.WebhookEventStore.
func (s *PostgresWebhookEventStore) List(
	ctx context.Context,
	status domain.WebhookEventStatus,
	limit int,
) ([]*domain.WebhookEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+webhookEventColumns+` FROM webhook_events
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, store.NewStoreError("webhook_event", "list", "query failed", MapError(err))
	}
	events, err := scanWebhookEvents(rows)
	if err != nil {
		return nil, store.NewStoreError("webhook_event", "list", "scan failed", err)
	}
	return events, nil
}

// ClaimDeliverable implements store.WebhookEventStore.
func (s *PostgresWebhookEventStore) ClaimDeliverable(
	ctx context.Context,
	now time.Time,
	limit int,
) ([]*domain.WebhookEvent, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, claimWebhookEventsQuery, now.UTC(), limit)
	if err != nil {
		return nil, store.NewStoreError("webhook_event", "claim", "query failed", MapError(err))
	}
	events, err := scanWebhookEvents(rows)
	if err != nil {
		return nil, store.NewStoreError("webhook_event", "claim", "scan failed", err)
	}
	return events, nil
}

// RecoverStale implements store.WebhookEventStore.
func (s *PostgresWebhookEventStore) RecoverStale(ctx context.Context, cutoff, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, recoverStaleWebhookEventsQuery, cutoff.UTC(), now.UTC())
	if err != nil {
		return 0, store.NewStoreError("webhook_event", "recover_stale", "exec failed", MapError(err))
	}
	return rowsAffected(result)
}

// UpdateState implements store.WebhookEventStore.
func (s *PostgresWebhookEventStore) UpdateState(
	ctx context.Context,
	e *domain.WebhookEvent,
	guard store.EventGuard,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx, `
		UPDATE webhook_events
		SET status = $1,
			attempts = $2,
			last_error = $3,
			last_attempt_at = $4,
			sent_at = $5,
			next_retry_at = $6,
			updated_at = $7
		WHERE id = $8 AND status = $9 AND last_attempt_at IS NOT DISTINCT FROM $10`,
		string(e.Status),
		e.Attempts,
		nullString(e.LastError),
		nullTime(e.LastAttemptAt),
		nullTime(e.SentAt),
		nullTime(e.NextRetryAt),
		e.UpdatedAt.UTC(),
		e.ID,
		string(guard.Status),
		nullTime(guard.LastAttemptAt),
	)
	if err != nil {
		log.Error("failed to update webhook event",
			slog.String("event_id", e.ID.String()),
			slog.String("error", err.Error()))
		return store.NewStoreError("webhook_event", "update", "exec failed", MapError(err))
	}

	if err := requireOneRow(result, store.ErrConflict); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("webhook event %s: %w", e.ID, store.ErrConflict)
		}
		return err
	}
	return nil
}

func scanWebhookEvent(row rowScanner) (*domain.WebhookEvent, error) {
	var (
		e             domain.WebhookEvent
		status        string
		payload       []byte
		lastError     sql.NullString
		lastAttemptAt sql.NullTime
		sentAt        sql.NullTime
		nextRetryAt   sql.NullTime
	)

	err := row.Scan(
		&e.ID,
		&e.TenantID,
		&e.EventType,
		&e.EntityType,
		&e.EntityID,
		&payload,
		&status,
		&e.Attempts,
		&e.MaxAttempts,
		&lastError,
		&lastAttemptAt,
		&sentAt,
		&nextRetryAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Status = domain.WebhookEventStatus(status)
	e.Payload = payload
	e.LastError = lastError.String
	e.LastAttemptAt = timePtr(lastAttemptAt)
	e.SentAt = timePtr(sentAt)
	e.NextRetryAt = timePtr(nextRetryAt)
	return &e, nil
}

func scanWebhookEvents(rows *sql.Rows) ([]*domain.WebhookEvent, error) {
	defer func() { _ = rows.Close() }()

	var events []*domain.WebhookEvent
	for rows.Next() {
		e, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
