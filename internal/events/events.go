package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/mailpipe/internal/domain"
)

// EventTypeGroupCompleted names the event emitted when an email's tasks
// have all reached a terminal status.
const EventTypeGroupCompleted = "group.completed"

// GroupCompletedEvent describes a finished completion group.
type GroupCompletedEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type is always EventTypeGroupCompleted
	Type string `json:"type"`

	Email    domain.EmailInfo         `json:"email"`
	Summary  domain.CompletionSummary `json:"summary"`
	Outcomes []domain.TaskOutcome     `json:"outcomes"`

	// Payload is the rendered email.completed body, shared with the outbox
	Payload json.RawMessage `json:"payload"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// NewGroupCompletedEvent creates a GroupCompletedEvent.
func NewGroupCompletedEvent(
	email domain.EmailInfo,
	summary domain.CompletionSummary,
	outcomes []domain.TaskOutcome,
	payload json.RawMessage,
	now time.Time,
) *GroupCompletedEvent {
	return &GroupCompletedEvent{
		ID:        uuid.New(),
		Type:      EventTypeGroupCompleted,
		Email:     email,
		Summary:   summary,
		Outcomes:  outcomes,
		Payload:   payload,
		CreatedAt: now.UTC(),
	}
}

// EventHandler processes emitted events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	HandleEvent(ctx context.Context, event *GroupCompletedEvent) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, event *GroupCompletedEvent) error

// HandleEvent implements EventHandler.
func (f EventHandlerFunc) HandleEvent(ctx context.Context, event *GroupCompletedEvent) error {
	return f(ctx, event)
}

// EventEmitter publishes events without knowing who handles them.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *GroupCompletedEvent) error
}
