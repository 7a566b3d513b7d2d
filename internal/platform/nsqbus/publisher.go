package nsqbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nsqio/go-nsq"
	"github.com/phrazzld/mailpipe/internal/events"
	"github.com/phrazzld/mailpipe/internal/platform/logger"
)

// publisher is the subset of nsq.Producer used by CompletionPublisher.
type publisher interface {
	Publish(topic string, body []byte) error
}

// CompletionPublisher forwards group completed events to an NSQ topic for
// downstream consumers. It is a second, independent consumer of the event
// next to the notifier.
type CompletionPublisher struct {
	producer publisher
	topic    string
	logger   *slog.Logger
}

var _ events.EventHandler = (*CompletionPublisher)(nil)

// NewProducer creates an nsq.Producer for nsqdAddress.
func NewProducer(nsqdAddress string, log *slog.Logger) (*nsq.Producer, error) {
	p, err := nsq.NewProducer(nsqdAddress, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create nsq producer: %w", err)
	}
	p.SetLogger(NewLogAdapter(log), nsq.LogLevelWarning)
	return p, nil
}

// NewCompletionPublisher creates a CompletionPublisher.
func NewCompletionPublisher(producer publisher, topic string, log *slog.Logger) (*CompletionPublisher, error) {
	if producer == nil {
		return nil, errors.New("producer cannot be nil")
	}
	if topic == "" {
		return nil, errors.New("topic cannot be empty")
	}
	if log == nil {
		log = slog.Default()
	}
	return &CompletionPublisher{
		producer: producer,
		topic:    topic,
		logger:   log.With(slog.String("component", "completion_publisher")),
	}, nil
}

// HandleEvent implements events.EventHandler.
func (p *CompletionPublisher) HandleEvent(ctx context.Context, event *events.GroupCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode group completed event: %w", err)
	}
	if err := p.producer.Publish(p.topic, body); err != nil {
		return fmt.Errorf("failed to publish group completed event: %w", err)
	}

	logger.FromContextOrDefault(ctx, p.logger).DebugContext(ctx, "published group completed event",
		slog.String("topic", p.topic),
		slog.String("event_id", event.ID.String()))
	return nil
}
