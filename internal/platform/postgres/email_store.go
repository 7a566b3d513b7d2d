package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/mailpipe/internal/domain"
	"github.com/phrazzld/mailpipe/internal/store"
)

// Email statuses written by the queue. processed marks a closed completion
// group; processing marks one reopened by a manual task retry.
const (
	emailStatusProcessed  = "processed"
	emailStatusProcessing = "processing"
)

// PostgresEmailStore implements store.EmailStore over the emails,
// attachments and tenants tables.
type PostgresEmailStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresEmailStore creates an email store. A nil logger uses the default.
func NewPostgresEmailStore(db store.DBTX, log *slog.Logger) *PostgresEmailStore {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresEmailStore{
		db:     db,
		logger: log.With(slog.String("component", "email_store")),
	}
}

var _ store.EmailStore = (*PostgresEmailStore)(nil)

// WithTx implements store.EmailStore.
func (s *PostgresEmailStore) WithTx(tx *sql.Tx) store.EmailStore {
	return &PostgresEmailStore{db: tx, logger: s.logger}
}

// GetEmail implements store.EmailStore.
func (s *PostgresEmailStore) GetEmail(ctx context.Context, id uuid.UUID) (*domain.EmailInfo, error) {
	var e domain.EmailInfo
	err := s.db.QueryRowContext(ctx, `
		SELECT e.id, e.tenant_id, t.code, e.sender_email, e.subject, e.correlation_id
		FROM emails e
		JOIN tenants t ON t.id = e.tenant_id
		WHERE e.id = $1`, id).Scan(
		&e.ID,
		&e.TenantID,
		&e.TenantCode,
		&e.SenderEmail,
		&e.Subject,
		&e.CorrelationID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrEmailNotFound
		}
		return nil, store.NewStoreError("email", "get", "query failed", MapError(err))
	}
	return &e, nil
}

// AttachmentFilenames implements store.EmailStore.
func (s *PostgresEmailStore) AttachmentFilenames(ctx context.Context, emailID uuid.UUID) (map[uuid.UUID]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, filename FROM attachments WHERE email_id = $1`, emailID)
	if err != nil {
		return nil, store.NewStoreError("attachment", "list", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	names := make(map[uuid.UUID]string)
	for rows.Next() {
		var (
			id   uuid.UUID
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, store.NewStoreError("attachment", "list", "scan failed", err)
		}
		names[id] = name
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("attachment", "list", "rows failed", err)
	}
	return names, nil
}

// MarkProcessed implements store.EmailStore.
func (s *PostgresEmailStore) MarkProcessed(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE emails SET status = $2, processed_at = $3
		WHERE id = $1 AND status <> $2`, id, emailStatusProcessed, now.UTC())
	if err != nil {
		return false, store.NewStoreError("email", "mark_processed", "exec failed", MapError(err))
	}
	n, err := rowsAffected(result)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Reopen implements store.EmailStore.
func (s *PostgresEmailStore) Reopen(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE emails SET status = $2, processed_at = NULL
		WHERE id = $1 AND status = $3`, id, emailStatusProcessing, emailStatusProcessed)
	if err != nil {
		return false, store.NewStoreError("email", "reopen", "exec failed", MapError(err))
	}
	n, err := rowsAffected(result)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
