package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/mailpipe/internal/domain"
	"github.com/phrazzld/mailpipe/internal/platform/logger"
	"github.com/phrazzld/mailpipe/internal/redact"
	"github.com/phrazzld/mailpipe/internal/store"
	"golang.org/x/sync/errgroup"
)

// Common errors
var (
	ErrNilEventStore = errors.New("webhook event store cannot be nil")
	ErrNilWebhooks   = errors.New("webhook config lookup cannot be nil")
	ErrNilSender     = errors.New("sender cannot be nil")
	ErrNilLogger     = errors.New("logger cannot be nil")

	// ErrNoEndpoint is recorded when a tenant has no deliverable webhook.
	ErrNoEndpoint = fmt.Errorf("%w: tenant has no enabled webhook URL", domain.ErrDelivery)
)

// WebhookConfigLookup returns a tenant's outbound webhook configuration.
type WebhookConfigLookup interface {
	GetWebhookConfig(ctx context.Context, tenantID uuid.UUID) (domain.WebhookConfig, error)
}

// DispatcherConfig holds configuration for the outbox dispatcher.
type DispatcherConfig struct {
	// BatchSize bounds the events claimed, and delivered concurrently, per run.
	BatchSize int

	// BaseRetryDelay is the first step of the exponential retry ladder.
	BaseRetryDelay time.Duration

	// StaleAfter is how long an event may stay SENDING before RecoverStale
	// returns it to the queue.
	StaleAfter time.Duration
}

// DefaultDispatcherConfig returns a DispatcherConfig with reasonable defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		BatchSize:      10,
		BaseRetryDelay: 60 * time.Second,
		StaleAfter:     30 * time.Minute,
	}
}

// Dispatcher delivers outbox events to tenant webhooks with at-least-once
// semantics.
type Dispatcher struct {
	events   store.WebhookEventStore
	webhooks WebhookConfigLookup
	sender   Sender
	config   DispatcherConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(
	events store.WebhookEventStore,
	webhooks WebhookConfigLookup,
	sender Sender,
	config DispatcherConfig,
	log *slog.Logger,
) (*Dispatcher, error) {
	switch {
	case events == nil:
		return nil, ErrNilEventStore
	case webhooks == nil:
		return nil, ErrNilWebhooks
	case sender == nil:
		return nil, ErrNilSender
	case log == nil:
		return nil, ErrNilLogger
	}

	defaults := DefaultDispatcherConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.BaseRetryDelay <= 0 {
		config.BaseRetryDelay = defaults.BaseRetryDelay
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = defaults.StaleAfter
	}

	return &Dispatcher{
		events:   events,
		webhooks: webhooks,
		sender:   sender,
		config:   config,
		logger:   log.With(slog.String("component", "outbox_dispatcher")),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// RunOnce claims due events and attempts one delivery of each. It returns
// the number of events claimed.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	claimed, err := d.events.ClaimDeliverable(ctx, d.now(), d.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to claim webhook events: %w", err)
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	var g errgroup.Group
	g.SetLimit(d.config.BatchSize)
	for _, e := range claimed {
		g.Go(func() error {
			d.deliver(ctx, e)
			return nil
		})
	}
	_ = g.Wait()

	return len(claimed), nil
}

// RecoverStale returns events stuck in SENDING, left behind by a dispatcher
// that died mid-delivery, to the queue.
func (d *Dispatcher) RecoverStale(ctx context.Context) (int64, error) {
	now := d.now()
	n, err := d.events.RecoverStale(ctx, now.Add(-d.config.StaleAfter), now)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale webhook events: %w", err)
	}
	if n > 0 {
		logger.FromContextOrDefault(ctx, d.logger).Warn("recovered stale webhook events", slog.Int64("count", n))
	}
	return n, nil
}

func (d *Dispatcher) deliver(ctx context.Context, e *domain.WebhookEvent) {
	log := logger.FromContextOrDefault(ctx, d.logger).With(
		slog.String("event_id", e.ID.String()),
		slog.String("event_type", e.EventType),
		slog.Int("attempt", e.Attempts),
	)
	ctx = logger.WithContext(ctx, log)
	guard := store.EventGuardOf(e)

	err := d.send(ctx, e)

	// The outcome must be recorded even when the run is being shut down.
	persistCtx := context.WithoutCancel(ctx)
	now := d.now()

	if err == nil {
		if err := e.MarkSent(now); err != nil {
			log.Error("failed to apply delivery success", slog.String("error", err.Error()))
			return
		}
		if d.persist(persistCtx, e, guard, log) {
			log.Info("webhook delivered")
		}
		return
	}

	message := redact.ForStorage(err)
	if err := e.MarkAttemptFailed(now, d.config.BaseRetryDelay, message); err != nil {
		log.Error("failed to apply delivery failure", slog.String("error", err.Error()))
		return
	}
	if !d.persist(persistCtx, e, guard, log) {
		return
	}

	if e.Status == domain.WebhookStatusFailed {
		log.Error("webhook delivery failed permanently", slog.String("error", message))
		return
	}
	log.Warn("webhook delivery failed, retry scheduled",
		slog.String("error", message),
		slog.Time("next_retry_at", *e.NextRetryAt))
}

func (d *Dispatcher) send(ctx context.Context, e *domain.WebhookEvent) error {
	target, err := d.webhooks.GetWebhookConfig(ctx, e.TenantID)
	if err != nil {
		return fmt.Errorf("failed to load webhook config: %w", err)
	}
	if !target.Deliverable() {
		return ErrNoEndpoint
	}
	return d.sender.Send(ctx, target, e)
}

// persist writes the outcome of an attempt if the event is still held by
// the claim guard was taken from. A failure leaves the event SENDING for
// RecoverStale.
func (d *Dispatcher) persist(ctx context.Context, e *domain.WebhookEvent, guard store.EventGuard, log *slog.Logger) bool {
	if err := d.events.UpdateState(ctx, e, guard); err != nil {
		if errors.Is(err, store.ErrConflict) {
			log.Warn("webhook event changed during delivery, outcome not recorded")
			return false
		}
		log.Error("failed to record delivery outcome", slog.String("error", redact.Error(err)))
		return false
	}
	return true
}
