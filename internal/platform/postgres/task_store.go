package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/mailpipe/internal/domain"
	"github.com/phrazzld/mailpipe/internal/platform/logger"
	"github.com/phrazzld/mailpipe/internal/store"
)

const taskColumns = `id, attachment_id, email_id, tenant_id, pdf_path, source, status, priority,
	result_path, raw_result, error_message, attempts, max_attempts,
	created_at, started_at, completed_at, next_retry_at`

// The claim is a single statement so the status change is persisted before
// the caller does any work, and SKIP LOCKED keeps concurrent claimers apart.
const claimTasksQuery = `
	UPDATE extraction_tasks AS t
	SET status = 'PROCESSING',
		attempts = t.attempts + 1,
		started_at = $1,
		next_retry_at = NULL,
		updated_at = $1
	WHERE t.id IN (
		SELECT id FROM extraction_tasks
		WHERE status = 'PENDING'
			OR (status = 'RETRYING' AND next_retry_at <= $1)
		ORDER BY priority DESC, created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	)
	RETURNING t.id, t.attachment_id, t.email_id, t.tenant_id, t.pdf_path, t.source, t.status, t.priority,
		t.result_path, t.raw_result, t.error_message, t.attempts, t.max_attempts,
		t.created_at, t.started_at, t.completed_at, t.next_retry_at`

// PostgresTaskStore implements store.TaskStore.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a task store. A nil logger uses the default.
func NewPostgresTaskStore(db store.DBTX, log *slog.Logger) *PostgresTaskStore {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresTaskStore{
		db:     db,
		logger: log.With(slog.String("component", "task_store")),
	}
}

var _ store.TaskStore = (*PostgresTaskStore)(nil)

// WithTx implements store.TaskStore.
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{db: tx, logger: s.logger}
}

// Create implements store.TaskStore.
func (s *PostgresTaskStore) Create(ctx context.Context, t *domain.ExtractionTask) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO extraction_tasks (id, attachment_id, email_id, tenant_id, pdf_path, source,
			status, priority, attempts, max_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`,
		t.ID,
		t.AttachmentID,
		t.EmailID,
		t.TenantID,
		t.PDFPath,
		t.Source,
		string(t.Status),
		t.Priority,
		t.Attempts,
		t.MaxAttempts,
		t.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			log.Debug("attachment already queued",
				slog.String("attachment_id", t.AttachmentID.String()))
			return fmt.Errorf("%w: %s", store.ErrAttachmentQueued, t.AttachmentID)
		}
		log.Error("failed to create extraction task",
			slog.String("task_id", t.ID.String()),
			slog.String("error", err.Error()))
		return store.NewStoreError("extraction_task", "create", "insert failed", MapError(err))
	}

	return nil
}

// GetByID implements store.TaskStore.
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.ExtractionTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM extraction_tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, store.NewStoreError("extraction_task", "get", "query failed", MapError(err))
	}
	return t, nil
}

// ListByEmail implements store.TaskStore.
func (s *PostgresTaskStore) ListByEmail(ctx context.Context, emailID uuid.UUID) ([]*domain.ExtractionTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM extraction_tasks
		WHERE email_id = $1
		ORDER BY created_at ASC, id ASC`, emailID)
	if err != nil {
		return nil, store.NewStoreError("extraction_task", "list", "query failed", MapError(err))
	}
	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, store.NewStoreError("extraction_task", "list", "scan failed", err)
	}
	return tasks, nil
}

// ClaimRunnable implements store.TaskStore. Claimed tasks are returned in
// priority order, highest first, then oldest first.
func (s *PostgresTaskStore) ClaimRunnable(ctx context.Context, now time.Time, limit int) ([]*domain.ExtractionTask, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, claimTasksQuery, now.UTC(), limit)
	if err != nil {
		return nil, store.NewStoreError("extraction_task", "claim", "query failed", MapError(err))
	}
	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, store.NewStoreError("extraction_task", "claim", "scan failed", err)
	}

	slices.SortStableFunc(tasks, func(a, b *domain.ExtractionTask) int {
		if a.Priority != b.Priority {
			return b.Priority - a.Priority
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return tasks, nil
}

// FindStuck implements store.TaskStore.
func (s *PostgresTaskStore) FindStuck(ctx context.Context, cutoff time.Time) ([]*domain.ExtractionTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM extraction_tasks
		WHERE status = 'PROCESSING' AND started_at < $1
		ORDER BY started_at ASC`, cutoff.UTC())
	if err != nil {
		return nil, store.NewStoreError("extraction_task", "find_stuck", "query failed", MapError(err))
	}
	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, store.NewStoreError("extraction_task", "find_stuck", "scan failed", err)
	}
	return tasks, nil
}

// UpdateState implements store.TaskStore.
func (s *PostgresTaskStore) UpdateState(ctx context.Context, t *domain.ExtractionTask, guard store.TaskGuard) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx, `
		UPDATE extraction_tasks
		SET status = $1,
			attempts = $2,
			result_path = $3,
			raw_result = $4,
			error_message = $5,
			started_at = $6,
			completed_at = $7,
			next_retry_at = $8,
			updated_at = $9
		WHERE id = $10 AND status = $11 AND started_at IS NOT DISTINCT FROM $12`,
		string(t.Status),
		t.Attempts,
		nullString(t.ResultPath),
		nullJSON(t.RawResult),
		nullString(t.ErrorMessage),
		nullTime(t.StartedAt),
		nullTime(t.CompletedAt),
		nullTime(t.NextRetryAt),
		time.Now().UTC(),
		t.ID,
		string(guard.Status),
		nullTime(guard.StartedAt),
	)
	if err != nil {
		log.Error("failed to update extraction task",
			slog.String("task_id", t.ID.String()),
			slog.String("status", string(t.Status)),
			slog.String("error", err.Error()))
		return store.NewStoreError("extraction_task", "update", "exec failed", MapError(err))
	}

	if err := requireOneRow(result, store.ErrConflict); err != nil {
		if errors.Is(err, store.ErrConflict) {
			log.Warn("extraction task changed concurrently",
				slog.String("task_id", t.ID.String()),
				slog.String("expected_status", string(guard.Status)))
			return fmt.Errorf("task %s: %w", t.ID, store.ErrConflict)
		}
		return err
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.ExtractionTask, error) {
	var (
		t           domain.ExtractionTask
		status      string
		resultPath  sql.NullString
		rawResult   []byte
		errorMsg    sql.NullString
		startedAt   sql.NullTime
		completedAt sql.NullTime
		nextRetryAt sql.NullTime
	)

	err := row.Scan(
		&t.ID,
		&t.AttachmentID,
		&t.EmailID,
		&t.TenantID,
		&t.PDFPath,
		&t.Source,
		&status,
		&t.Priority,
		&resultPath,
		&rawResult,
		&errorMsg,
		&t.Attempts,
		&t.MaxAttempts,
		&t.CreatedAt,
		&startedAt,
		&completedAt,
		&nextRetryAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = domain.TaskStatus(status)
	t.ResultPath = resultPath.String
	if len(rawResult) > 0 {
		t.RawResult = json.RawMessage(rawResult)
	}
	t.ErrorMessage = errorMsg.String
	t.StartedAt = timePtr(startedAt)
	t.CompletedAt = timePtr(completedAt)
	t.NextRetryAt = timePtr(nextRetryAt)
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*domain.ExtractionTask, error) {
	defer func() { _ = rows.Close() }()

	var tasks []*domain.ExtractionTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
