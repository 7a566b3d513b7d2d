package task

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/mailpipe/internal/domain"
	"github.com/phrazzld/mailpipe/internal/platform/logger"
	"github.com/phrazzld/mailpipe/internal/redact"
	"github.com/phrazzld/mailpipe/internal/store"
)

// ServiceDeps are the collaborators of a Service.
type ServiceDeps struct {
	Tasks      store.TaskStore
	Emails     store.EmailStore
	Tx         store.Transactor
	Aggregator GroupAggregator
}

// Service is the operator and intake facing API of the task queue.
type Service struct {
	tasks       store.TaskStore
	emails      store.EmailStore
	tx          store.Transactor
	aggregator  GroupAggregator
	maxAttempts int
	logger      *slog.Logger
	now         func() time.Time
}

// NewService creates a Service. maxAttempts applies to tasks enqueued
// without an explicit limit.
func NewService(deps ServiceDeps, maxAttempts int, log *slog.Logger) (*Service, error) {
	switch {
	case deps.Tasks == nil:
		return nil, ErrNilTaskStore
	case deps.Emails == nil:
		return nil, ErrNilEmailStore
	case deps.Tx == nil:
		return nil, ErrNilTransactor
	case deps.Aggregator == nil:
		return nil, ErrNilAggregator
	case log == nil:
		return nil, ErrNilLogger
	}
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultTaskMaxAttempts
	}

	return &Service{
		tasks:       deps.Tasks,
		emails:      deps.Emails,
		tx:          deps.Tx,
		aggregator:  deps.Aggregator,
		maxAttempts: maxAttempts,
		logger:      log.With(slog.String("component", "task_service")),
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// Enqueue creates a PENDING task. It returns store.ErrAttachmentQueued when
// the attachment already has a task.
func (s *Service) Enqueue(ctx context.Context, params domain.NewTaskParams) (*domain.ExtractionTask, error) {
	if params.MaxAttempts <= 0 {
		params.MaxAttempts = s.maxAttempts
	}

	t, err := domain.NewExtractionTask(params, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	if err := s.tasks.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	logger.FromContextOrDefault(ctx, s.logger).Info("task enqueued",
		slog.String("task_id", t.ID.String()),
		slog.String("email_id", t.EmailID.String()),
		slog.String("source", t.Source),
		slog.Int("priority", t.Priority))
	return t, nil
}

// Get returns a task by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.ExtractionTask, error) {
	t, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// ListByEmail returns the tasks of an email.
func (s *Service) ListByEmail(ctx context.Context, emailID uuid.UUID) ([]*domain.ExtractionTask, error) {
	tasks, err := s.tasks.ListByEmail(ctx, emailID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// Cancel moves a PENDING or RETRYING task to CANCELLED and closes its
// completion group if it was the last open task. A task held by a worker
// cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*domain.ExtractionTask, error) {
	t, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	guard := store.GuardOf(t)
	if err := t.Cancel(s.now()); err != nil {
		return nil, err
	}
	if err := s.tasks.UpdateState(ctx, t, guard); err != nil {
		return nil, fmt.Errorf("failed to cancel task: %w", err)
	}

	log := logger.FromContextOrDefault(ctx, s.logger).With(slog.String("task_id", t.ID.String()))
	log.Info("task cancelled")

	if err := s.aggregator.Aggregate(ctx, t.EmailID); err != nil {
		log.Error("failed to aggregate completion group", slog.String("error", redact.Error(err)))
	}
	return t, nil
}

// Retry resets a FAILED or CANCELLED task to PENDING with a fresh attempt
// budget. A closed email is reopened in the same transaction, so the group
// closes again with the new outcome and the notice is resent. The
// email.completed event stays unique per email; the retried task reports
// through its own task.completed event.
func (s *Service) Retry(ctx context.Context, id uuid.UUID) (*domain.ExtractionTask, error) {
	t, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	guard := store.GuardOf(t)
	if err := t.ResetForRetry(); err != nil {
		return nil, err
	}

	var reopened bool
	err = s.tx.RunInTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.tasks.WithTx(tx).UpdateState(ctx, t, guard); err != nil {
			return err
		}
		ok, err := s.emails.WithTx(tx).Reopen(ctx, t.EmailID)
		reopened = ok
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retry task: %w", err)
	}

	logger.FromContextOrDefault(ctx, s.logger).Info("task reset for retry",
		slog.String("task_id", t.ID.String()),
		slog.Bool("email_reopened", reopened))
	return t, nil
}
