// Package notify tells tenants that all attachments of an email have been
// processed. It is one consumer of the group completed event.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/phrazzld/mailpipe/internal/domain"
	"github.com/phrazzld/mailpipe/internal/events"
	"github.com/phrazzld/mailpipe/internal/platform/logger"
	"github.com/phrazzld/mailpipe/internal/redact"
)

// ErrNilNotifier is returned when a Handler is built without a Notifier.
var ErrNilNotifier = errors.New("notifier cannot be nil")

// Notifier delivers a completion notice for one email.
type Notifier interface {
	Notify(ctx context.Context, email domain.EmailInfo, summary domain.CompletionSummary, outcomes []domain.TaskOutcome) error
}

// LogNotifier writes the rendered notice to the log. It is the default
// channel when no mail provider is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{logger: log.With(slog.String("component", "log_notifier"))}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(
	ctx context.Context,
	email domain.EmailInfo,
	summary domain.CompletionSummary,
	outcomes []domain.TaskOutcome,
) error {
	msg, err := Render(email, summary, outcomes)
	if err != nil {
		return err
	}
	logger.FromContextOrDefault(ctx, n.logger).InfoContext(ctx, "completion notice",
		slog.String("to", email.SenderEmail),
		slog.String("subject", msg.Subject),
		slog.String("body", msg.Body))
	return nil
}

// Handler adapts a Notifier to the event bus.
type Handler struct {
	notifier Notifier
	logger   *slog.Logger
}

var _ events.EventHandler = (*Handler)(nil)

// NewHandler creates a Handler.
func NewHandler(notifier Notifier, log *slog.Logger) (*Handler, error) {
	if notifier == nil {
		return nil, ErrNilNotifier
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{notifier: notifier, logger: log.With(slog.String("component", "notify_handler"))}, nil
}

// HandleEvent implements events.EventHandler. Notification failures are
// logged and swallowed; the webhook outbox is the durable channel.
func (h *Handler) HandleEvent(ctx context.Context, event *events.GroupCompletedEvent) error {
	if err := h.notifier.Notify(ctx, event.Email, event.Summary, event.Outcomes); err != nil {
		logger.FromContextOrDefault(ctx, h.logger).ErrorContext(ctx, "failed to send completion notice",
			slog.String("email_id", event.Email.ID.String()),
			slog.String("error", redact.Error(err)))
	}
	return nil
}
