// Package nsqbus connects mailpipe to the NSQ message bus. It consumes
// attachment-ready messages into the task queue and publishes finished
// completion groups.
package nsqbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"
	"github.com/phrazzld/mailpipe/internal/domain"
	"github.com/phrazzld/mailpipe/internal/platform/logger"
	"github.com/phrazzld/mailpipe/internal/redact"
	"github.com/phrazzld/mailpipe/internal/store"
)

// Enqueuer creates extraction tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, params domain.NewTaskParams) (*domain.ExtractionTask, error)
}

// AttachmentReadyMessage is published by the mail intake once an attachment
// has been stored and routed.
type AttachmentReadyMessage struct {
	EmailID       uuid.UUID `json:"email_id"`
	AttachmentID  uuid.UUID `json:"attachment_id"`
	TenantID      uuid.UUID `json:"tenant_id"`
	PDFPath       string    `json:"pdf_path"`
	Source        string    `json:"source"`
	Priority      int       `json:"priority"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// AttachmentReadyHandler turns attachment-ready messages into PENDING tasks.
type AttachmentReadyHandler struct {
	enqueuer Enqueuer
	logger   *slog.Logger
}

var _ nsq.Handler = (*AttachmentReadyHandler)(nil)

// NewAttachmentReadyHandler creates an AttachmentReadyHandler.
func NewAttachmentReadyHandler(enqueuer Enqueuer, log *slog.Logger) (*AttachmentReadyHandler, error) {
	if enqueuer == nil {
		return nil, errors.New("enqueuer cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &AttachmentReadyHandler{
		enqueuer: enqueuer,
		logger:   log.With(slog.String("component", "attachment_ready_consumer")),
	}, nil
}

// HandleMessage implements nsq.Handler. Returning an error requeues the
// message; malformed messages and duplicates are acknowledged.
func (h *AttachmentReadyHandler) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var msg AttachmentReadyMessage
	if err := json.Unmarshal(m.Body, &msg); err != nil {
		// Poison pill: redelivery cannot fix malformed JSON.
		h.logger.Error("poison pill: invalid json", slog.String("error", err.Error()))
		return nil
	}

	ctx := context.Background()
	if msg.CorrelationID != "" {
		ctx = logger.WithCorrelationID(ctx, msg.CorrelationID)
	}
	ctx = logger.EnsureCorrelationID(ctx)
	log := h.logger.With(
		slog.String("attachment_id", msg.AttachmentID.String()),
		slog.String("email_id", msg.EmailID.String()))
	ctx = logger.WithContext(ctx, log)

	_, err := h.enqueuer.Enqueue(ctx, domain.NewTaskParams{
		EmailID:      msg.EmailID,
		AttachmentID: msg.AttachmentID,
		TenantID:     msg.TenantID,
		PDFPath:      msg.PDFPath,
		Source:       msg.Source,
		Priority:     msg.Priority,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrDuplicate):
		log.DebugContext(ctx, "attachment already queued, acknowledging redelivery")
		return nil
	case errors.Is(err, domain.ErrValidation):
		log.ErrorContext(ctx, "poison pill: invalid attachment message", slog.String("error", err.Error()))
		return nil
	default:
		log.ErrorContext(ctx, "failed to enqueue attachment", slog.String("error", redact.Error(err)))
		return err
	}
}

// ConsumerConfig locates the intake topic.
type ConsumerConfig struct {
	LookupdAddress string
	Topic          string
	Channel        string
}

// Consumer owns the NSQ consumer for attachment-ready messages.
type Consumer struct {
	consumer *nsq.Consumer
	config   ConsumerConfig
}

// NewConsumer creates a Consumer delivering messages to handler.
func NewConsumer(cfg ConsumerConfig, handler nsq.Handler, log *slog.Logger) (*Consumer, error) {
	c, err := nsq.NewConsumer(cfg.Topic, cfg.Channel, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create nsq consumer: %w", err)
	}
	c.SetLogger(NewLogAdapter(log), nsq.LogLevelWarning)
	c.AddHandler(handler)
	return &Consumer{consumer: c, config: cfg}, nil
}

// Start connects to nsqlookupd and begins consuming.
func (c *Consumer) Start() error {
	if err := c.consumer.ConnectToNSQLookupd(c.config.LookupdAddress); err != nil {
		return fmt.Errorf("failed to connect to nsqlookupd %s: %w", c.config.LookupdAddress, err)
	}
	return nil
}

// Stop stops consuming and waits for in-flight handlers.
func (c *Consumer) Stop() {
	c.consumer.Stop()
	<-c.consumer.StopChan
}

// LogAdapter routes go-nsq's internal logging into slog.
type LogAdapter struct {
	logger *slog.Logger
}

// NewLogAdapter creates a LogAdapter.
func NewLogAdapter(log *slog.Logger) *LogAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &LogAdapter{logger: log.With(slog.String("component", "nsq"))}
}

// Output implements the go-nsq logger interface.
func (a *LogAdapter) Output(calldepth int, s string) error {
	level := slog.LevelInfo
	switch {
	case strings.HasPrefix(s, "ERR"):
		level = slog.LevelError
	case strings.HasPrefix(s, "WRN"):
		level = slog.LevelWarn
	case strings.HasPrefix(s, "DBG"):
		level = slog.LevelDebug
	}
	a.logger.Log(context.Background(), level, strings.TrimSpace(s))
	return nil
}
