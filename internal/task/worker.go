package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/mailpipe/internal/domain"
	"github.com/phrazzld/mailpipe/internal/platform/logger"
	"github.com/phrazzld/mailpipe/internal/redact"
	"github.com/phrazzld/mailpipe/internal/store"
	"golang.org/x/sync/errgroup"
)

// Common errors
var (
	ErrNilTaskStore   = errors.New("task store cannot be nil")
	ErrNilOutboxStore = errors.New("webhook event store cannot be nil")
	ErrNilEmailStore  = errors.New("email store cannot be nil")
	ErrNilTransactor  = errors.New("transactor cannot be nil")
	ErrNilTemplates   = errors.New("template lookup cannot be nil")
	ErrNilStorage     = errors.New("document storage cannot be nil")
	ErrNilConverter   = errors.New("converter cannot be nil")
	ErrNilExtractor   = errors.New("extractor cannot be nil")
	ErrNilWebhooks    = errors.New("webhook config lookup cannot be nil")
	ErrNilAggregator  = errors.New("aggregator cannot be nil")
	ErrNilLogger      = errors.New("logger cannot be nil")
)

// WorkerConfig holds configuration for the extraction worker.
type WorkerConfig struct {
	// BatchSize bounds the number of tasks claimed, and processed
	// concurrently, per run.
	BatchSize int

	// BaseRetryDelay is the first step of the exponential retry ladder.
	BaseRetryDelay time.Duration

	// TaskTimeout bounds the external work of one task. It applies instead
	// of the run context, so a shutdown lets in-flight tasks finish.
	TaskTimeout time.Duration
}

// DefaultWorkerConfig returns a WorkerConfig with reasonable defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		BatchSize:      5,
		BaseRetryDelay: 60 * time.Second,
		TaskTimeout:    10 * time.Minute,
	}
}

// WorkerDeps are the collaborators of an ExtractionWorker.
type WorkerDeps struct {
	Tasks      store.TaskStore
	Outbox     store.WebhookEventStore
	Emails     store.EmailStore
	Tx         store.Transactor
	Templates  TemplateLookup
	Storage    DocumentStorage
	Converter  Converter
	Extractor  Extractor
	Webhooks   WebhookConfigLookup
	Aggregator GroupAggregator
}

func (d WorkerDeps) validate() error {
	switch {
	case d.Tasks == nil:
		return ErrNilTaskStore
	case d.Outbox == nil:
		return ErrNilOutboxStore
	case d.Emails == nil:
		return ErrNilEmailStore
	case d.Tx == nil:
		return ErrNilTransactor
	case d.Templates == nil:
		return ErrNilTemplates
	case d.Storage == nil:
		return ErrNilStorage
	case d.Converter == nil:
		return ErrNilConverter
	case d.Extractor == nil:
		return ErrNilExtractor
	case d.Webhooks == nil:
		return ErrNilWebhooks
	case d.Aggregator == nil:
		return ErrNilAggregator
	}
	return nil
}

// ExtractionWorker claims runnable tasks and drives each one through
// template lookup, conversion and extraction to a persisted outcome.
type ExtractionWorker struct {
	deps   WorkerDeps
	config WorkerConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewExtractionWorker creates an ExtractionWorker.
func NewExtractionWorker(deps WorkerDeps, config WorkerConfig, log *slog.Logger) (*ExtractionWorker, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		return nil, ErrNilLogger
	}

	defaults := DefaultWorkerConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.BaseRetryDelay <= 0 {
		config.BaseRetryDelay = defaults.BaseRetryDelay
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = defaults.TaskTimeout
	}

	return &ExtractionWorker{
		deps:   deps,
		config: config,
		logger: log.With(slog.String("component", "extraction_worker")),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// RunOnce claims up to BatchSize runnable tasks and processes them
// concurrently. It returns the number of tasks claimed. Individual task
// failures are recorded on the task, not returned.
func (w *ExtractionWorker) RunOnce(ctx context.Context) (int, error) {
	claimed, err := w.deps.Tasks.ClaimRunnable(ctx, w.now(), w.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to claim runnable tasks: %w", err)
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	logger.FromContextOrDefault(ctx, w.logger).Debug("claimed tasks", slog.Int("count", len(claimed)))

	var g errgroup.Group
	g.SetLimit(w.config.BatchSize)
	for _, t := range claimed {
		g.Go(func() error {
			w.processTask(ctx, t)
			return nil
		})
	}
	_ = g.Wait()

	return len(claimed), nil
}

// processTask runs one claimed task to a persisted outcome.
func (w *ExtractionWorker) processTask(ctx context.Context, t *domain.ExtractionTask) {
	log := logger.FromContextOrDefault(ctx, w.logger).With(
		slog.String("task_id", t.ID.String()),
		slog.String("email_id", t.EmailID.String()),
		slog.Int("attempt", t.Attempts),
	)
	ctx = logger.WithContext(ctx, log)

	// A claimed task is finished rather than abandoned when the run is
	// cancelled; Runner.Stop waits for it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.config.TaskTimeout)
	defer cancel()

	// State writes must land even after the task timeout.
	persistCtx := context.WithoutCancel(ctx)
	guard := store.GuardOf(t)

	resultPath, data, err := w.execute(ctx, t)
	if err == nil {
		err = w.complete(persistCtx, t, guard, resultPath, data)
		if err == nil {
			log.Info("task completed", slog.String("result_path", resultPath))
			w.aggregate(persistCtx, t)
			return
		}
		if errors.Is(err, store.ErrConflict) {
			log.Warn("task changed while processing, dropping result")
			return
		}
	}

	w.fail(persistCtx, t, guard, err)
}

// execute performs the external work of a task and returns where the
// result was written along with the extracted data.
func (w *ExtractionWorker) execute(ctx context.Context, t *domain.ExtractionTask) (path string, data json.RawMessage, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic while processing task: %v", p)
		}
	}()

	templatePath, err := w.deps.Templates.FindActiveTemplate(ctx, t.TenantID, t.Source)
	if err != nil {
		if store.IsNotFoundError(err) {
			return "", nil, fmt.Errorf("%w: source %q", domain.ErrTemplateNotFound, t.Source)
		}
		return "", nil, fmt.Errorf("failed to look up template: %w", err)
	}

	document, err := w.deps.Storage.ReadDocument(ctx, t.PDFPath)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read document: %w", err)
	}

	structured, err := w.deps.Converter.Convert(ctx, document)
	if err != nil {
		return "", nil, classify(domain.ErrConversion, err)
	}

	result, err := w.deps.Extractor.Extract(ctx, structured, templatePath, domain.ExtractOptions{
		TaskID:   t.ID,
		TenantID: t.TenantID,
		Source:   t.Source,
	})
	if err != nil {
		return "", nil, classify(domain.ErrExtraction, err)
	}
	if v, failed := result.FirstError(); failed {
		return "", nil, fmt.Errorf("%w: %s: %s", domain.ErrValidationFailed, v.Field, v.Message)
	}

	path, err = w.deps.Storage.WriteResult(ctx, t.ID, result.Data)
	if err != nil {
		return "", nil, fmt.Errorf("failed to write result: %w", err)
	}
	return path, result.Data, nil
}

// complete persists the COMPLETED state and, when the tenant takes
// webhooks, the task.completed event in one transaction. t is only updated
// once the transaction commits.
func (w *ExtractionWorker) complete(
	ctx context.Context,
	t *domain.ExtractionTask,
	guard store.TaskGuard,
	resultPath string,
	data json.RawMessage,
) error {
	now := w.now()
	done := *t
	if err := done.Complete(now, resultPath, data); err != nil {
		return err
	}

	event, err := w.taskCompletedEvent(ctx, &done, now)
	if err != nil {
		return err
	}

	err = w.deps.Tx.RunInTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := w.deps.Tasks.WithTx(tx).UpdateState(ctx, &done, guard); err != nil {
			return err
		}
		if event == nil {
			return nil
		}
		_, err := w.deps.Outbox.WithTx(tx).Create(ctx, event)
		return err
	})
	if err != nil {
		return err
	}

	*t = done
	return nil
}

// taskCompletedEvent builds the outbox row for a completed task, or nil
// when the tenant has webhooks disabled. A missing URL is left for the
// dispatcher to record as a delivery failure.
func (w *ExtractionWorker) taskCompletedEvent(
	ctx context.Context,
	t *domain.ExtractionTask,
	now time.Time,
) (*domain.WebhookEvent, error) {
	enabled, err := w.deps.Webhooks.IsWebhookEnabled(ctx, t.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load webhook config: %w", err)
	}
	if !enabled {
		return nil, nil
	}

	email, err := w.deps.Emails.GetEmail(ctx, t.EmailID)
	if err != nil {
		return nil, fmt.Errorf("failed to load email: %w", err)
	}
	filenames, err := w.deps.Emails.AttachmentFilenames(ctx, t.EmailID)
	if err != nil {
		return nil, fmt.Errorf("failed to load attachment filenames: %w", err)
	}

	outcome := domain.OutcomeFromTask(t, filenames[t.AttachmentID])
	summary := domain.Summarize([]*domain.ExtractionTask{t})
	payload, err := json.Marshal(domain.NewCompletionPayload(
		domain.EventTypeTaskCompleted, now, *email, summary, []domain.TaskOutcome{outcome},
	))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task.completed payload: %w", err)
	}

	return domain.NewWebhookEvent(
		t.TenantID, domain.EventTypeTaskCompleted, domain.EntityTypeTask, t.ID, payload, now,
	)
}

// fail records cause on the task and moves it to RETRYING or FAILED.
func (w *ExtractionWorker) fail(ctx context.Context, t *domain.ExtractionTask, guard store.TaskGuard, cause error) {
	log := logger.FromContextOrDefault(ctx, w.logger)
	message := redact.ForStorage(cause)

	if err := t.Fail(w.now(), w.config.BaseRetryDelay, message); err != nil {
		log.Error("failed to apply task failure", slog.String("error", err.Error()))
		return
	}

	if err := w.deps.Tasks.UpdateState(ctx, t, guard); err != nil {
		if errors.Is(err, store.ErrConflict) {
			log.Warn("task changed while processing, failure not recorded")
			return
		}
		// The task stays PROCESSING; the stuck-task reaper will recover it.
		log.Error("failed to record task failure",
			slog.String("error", redact.Error(err)),
			slog.String("cause", message))
		return
	}

	if t.Status == domain.TaskStatusRetrying {
		log.Warn("task failed, retry scheduled",
			slog.String("error", message),
			slog.Time("next_retry_at", *t.NextRetryAt))
		return
	}

	log.Error("task failed permanently", slog.String("error", message))
	w.aggregate(ctx, t)
}

func (w *ExtractionWorker) aggregate(ctx context.Context, t *domain.ExtractionTask) {
	if err := w.deps.Aggregator.Aggregate(ctx, t.EmailID); err != nil {
		logger.FromContextOrDefault(ctx, w.logger).Error("failed to aggregate completion group",
			slog.String("email_id", t.EmailID.String()),
			slog.String("error", redact.Error(err)))
	}
}

// classify wraps err with sentinel unless it already carries it.
func classify(sentinel, err error) error {
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
