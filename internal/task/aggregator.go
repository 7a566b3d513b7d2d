package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/mailpipe/internal/domain"
	"github.com/phrazzld/mailpipe/internal/events"
	"github.com/phrazzld/mailpipe/internal/platform/logger"
	"github.com/phrazzld/mailpipe/internal/redact"
	"github.com/phrazzld/mailpipe/internal/store"
)

// AggregatorDeps are the collaborators of a CompletionAggregator. Emitter
// may be nil when nothing listens for finished groups.
type AggregatorDeps struct {
	Tasks    store.TaskStore
	Emails   store.EmailStore
	Outbox   store.WebhookEventStore
	Tx       store.Transactor
	Webhooks WebhookConfigLookup
	Emitter  events.EventEmitter
}

// CompletionAggregator detects when every task of an email is terminal,
// closes the email, and fans the result out to the outbox and the event bus.
type CompletionAggregator struct {
	deps   AggregatorDeps
	logger *slog.Logger
	now    func() time.Time
}

// NewCompletionAggregator creates a CompletionAggregator.
func NewCompletionAggregator(deps AggregatorDeps, log *slog.Logger) (*CompletionAggregator, error) {
	switch {
	case deps.Tasks == nil:
		return nil, ErrNilTaskStore
	case deps.Emails == nil:
		return nil, ErrNilEmailStore
	case deps.Outbox == nil:
		return nil, ErrNilOutboxStore
	case deps.Tx == nil:
		return nil, ErrNilTransactor
	case deps.Webhooks == nil:
		return nil, ErrNilWebhooks
	case log == nil:
		return nil, ErrNilLogger
	}

	return &CompletionAggregator{
		deps:   deps,
		logger: log.With(slog.String("component", "completion_aggregator")),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Aggregate closes the completion group of emailID if all of its tasks are
// terminal. It is safe to call repeatedly and concurrently: only the call
// that moves the email to processed writes the email.completed event and
// emits the group event.
func (a *CompletionAggregator) Aggregate(ctx context.Context, emailID uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, a.logger).With(slog.String("email_id", emailID.String()))

	tasks, err := a.deps.Tasks.ListByEmail(ctx, emailID)
	if err != nil {
		return fmt.Errorf("failed to list tasks of email: %w", err)
	}
	if !domain.AllTerminal(tasks) {
		return nil
	}

	email, err := a.deps.Emails.GetEmail(ctx, emailID)
	if err != nil {
		return fmt.Errorf("failed to load email: %w", err)
	}
	filenames, err := a.deps.Emails.AttachmentFilenames(ctx, emailID)
	if err != nil {
		return fmt.Errorf("failed to load attachment filenames: %w", err)
	}
	webhook, err := a.webhookConfig(ctx, email.TenantID)
	if err != nil {
		return fmt.Errorf("failed to load webhook config: %w", err)
	}

	now := a.now()
	summary := domain.Summarize(tasks)
	outcomes := make([]domain.TaskOutcome, 0, len(tasks))
	for _, t := range tasks {
		outcomes = append(outcomes, domain.OutcomeFromTask(t, filenames[t.AttachmentID]))
	}

	payload, err := json.Marshal(domain.NewCompletionPayload(
		domain.EventTypeEmailCompleted, now, *email, summary, outcomes,
	))
	if err != nil {
		return fmt.Errorf("failed to marshal email.completed payload: %w", err)
	}

	var closed bool
	err = a.deps.Tx.RunInTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		marked, err := a.deps.Emails.WithTx(tx).MarkProcessed(ctx, emailID, now)
		if err != nil {
			return err
		}
		if !marked {
			return nil
		}
		closed = true

		if !webhook.Deliverable() {
			return nil
		}
		event, err := domain.NewWebhookEvent(
			email.TenantID, domain.EventTypeEmailCompleted, domain.EntityTypeEmail, emailID, payload, now,
		)
		if err != nil {
			return err
		}
		_, err = a.deps.Outbox.WithTx(tx).Create(ctx, event)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to close completion group: %w", err)
	}
	if !closed {
		log.Debug("completion group already closed")
		return nil
	}

	log.Info("completion group closed",
		slog.Int("total", summary.Total),
		slog.Int("completed", summary.Completed),
		slog.Int("failed", summary.Failed),
		slog.Int("cancelled", summary.Cancelled),
		slog.Float64("success_rate", summary.SuccessRate),
		slog.Bool("webhook", webhook.Deliverable()))

	if a.deps.Emitter != nil {
		event := events.NewGroupCompletedEvent(*email, summary, outcomes, payload, now)
		if err := a.deps.Emitter.EmitEvent(ctx, event); err != nil {
			log.Error("failed to emit group completed event", slog.String("error", redact.Error(err)))
		}
	}
	return nil
}

// webhookConfig reads the tenant settings that decide whether the
// email.completed event is written.
func (a *CompletionAggregator) webhookConfig(ctx context.Context, tenantID uuid.UUID) (domain.WebhookConfig, error) {
	enabled, err := a.deps.Webhooks.IsWebhookEnabled(ctx, tenantID)
	if err != nil || !enabled {
		return domain.WebhookConfig{}, err
	}
	url, err := a.deps.Webhooks.GetWebhookURL(ctx, tenantID)
	if err != nil {
		return domain.WebhookConfig{}, err
	}
	return domain.WebhookConfig{Enabled: true, URL: url}, nil
}
