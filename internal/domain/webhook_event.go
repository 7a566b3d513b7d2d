package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// WebhookEventStatus represents the delivery state of an outbox row.
type WebhookEventStatus string

// Possible webhook event status values.
const (
	WebhookStatusPending WebhookEventStatus = "PENDING"
	WebhookStatusSending WebhookEventStatus = "SENDING"
	WebhookStatusSent    WebhookEventStatus = "SENT"
	WebhookStatusFailed  WebhookEventStatus = "FAILED"
)

// DefaultWebhookMaxAttempts is the delivery attempt limit for new events.
const DefaultWebhookMaxAttempts = 5

// Event and entity type names written to the outbox.
const (
	EventTypeTaskCompleted  = "task.completed"
	EventTypeEmailCompleted = "email.completed"

	EntityTypeTask  = "extraction_task"
	EntityTypeEmail = "email"
)

// Valid reports whether s is one of the known webhook statuses.
func (s WebhookEventStatus) Valid() bool {
	switch s {
	case WebhookStatusPending, WebhookStatusSending, WebhookStatusSent, WebhookStatusFailed:
		return true
	default:
		return false
	}
}

// ParseWebhookEventStatus converts a case-insensitive string into a status.
func ParseWebhookEventStatus(raw string) (WebhookEventStatus, error) {
	s := WebhookEventStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown webhook event status %q", ErrValidation, raw)
	}
	return s, nil
}

// Validation errors for WebhookEvent.
var (
	ErrEmptyEventType  = errors.New("webhook event type cannot be empty")
	ErrEmptyEntityType = errors.New("webhook entity type cannot be empty")
	ErrEmptyEntityID   = errors.New("webhook entity ID cannot be empty")
	ErrEmptyPayload    = errors.New("webhook payload cannot be empty")
)

// WebhookEvent is a durable outbox row describing one outbound notification.
// The payload is rendered when the event is created and sent verbatim.
type WebhookEvent struct {
	ID            uuid.UUID          `json:"id"`
	TenantID      uuid.UUID          `json:"tenant_id"`
	EventType     string             `json:"event_type"`
	EntityType    string             `json:"entity_type"`
	EntityID      uuid.UUID          `json:"entity_id"`
	Payload       json.RawMessage    `json:"payload"`
	Status        WebhookEventStatus `json:"status"`
	Attempts      int                `json:"attempts"`
	MaxAttempts   int                `json:"max_attempts"`
	LastError     string             `json:"last_error,omitempty"`
	LastAttemptAt *time.Time         `json:"last_attempt_at,omitempty"`
	SentAt        *time.Time         `json:"sent_at,omitempty"`
	NextRetryAt   *time.Time         `json:"next_retry_at,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// NewWebhookEvent creates a PENDING outbox event.
func NewWebhookEvent(
	tenantID uuid.UUID,
	eventType, entityType string,
	entityID uuid.UUID,
	payload json.RawMessage,
	now time.Time,
) (*WebhookEvent, error) {
	now = now.UTC()
	e := &WebhookEvent{
		ID:          uuid.New(),
		TenantID:    tenantID,
		EventType:   eventType,
		EntityType:  entityType,
		EntityID:    entityID,
		Payload:     payload,
		Status:      WebhookStatusPending,
		MaxAttempts: DefaultWebhookMaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate checks that the event carries all required fields.
func (e *WebhookEvent) Validate() error {
	switch {
	case e.TenantID == uuid.Nil:
		return ErrEmptyTenantID
	case e.EventType == "":
		return ErrEmptyEventType
	case e.EntityType == "":
		return ErrEmptyEntityType
	case e.EntityID == uuid.Nil:
		return ErrEmptyEntityID
	case len(e.Payload) == 0:
		return ErrEmptyPayload
	case !e.Status.Valid():
		return fmt.Errorf("%w: webhook status %q", ErrValidation, e.Status)
	}
	return nil
}

// MarkSending claims the event for a delivery attempt.
func (e *WebhookEvent) MarkSending(now time.Time) error {
	if e.Status != WebhookStatusPending {
		return e.transitionError(WebhookStatusSending)
	}

	now = now.UTC()
	e.Status = WebhookStatusSending
	e.Attempts++
	e.LastAttemptAt = &now
	e.NextRetryAt = nil
	e.UpdatedAt = now
	return nil
}

// MarkSent records a successful delivery. SENT is final.
func (e *WebhookEvent) MarkSent(now time.Time) error {
	if e.Status != WebhookStatusSending {
		return e.transitionError(WebhookStatusSent)
	}

	now = now.UTC()
	e.Status = WebhookStatusSent
	e.SentAt = &now
	e.LastError = ""
	e.NextRetryAt = nil
	e.UpdatedAt = now
	return nil
}

// MarkAttemptFailed records a failed delivery. While attempts remain the
// event returns to PENDING with a backoff; otherwise it becomes FAILED.
func (e *WebhookEvent) MarkAttemptFailed(now time.Time, baseDelay time.Duration, message string) error {
	if e.Status != WebhookStatusSending {
		return e.transitionError(WebhookStatusFailed)
	}

	now = now.UTC()
	e.LastError = message
	e.UpdatedAt = now

	if e.Attempts < e.MaxAttempts {
		next := now.Add(RetryDelay(baseDelay, e.Attempts))
		e.Status = WebhookStatusPending
		e.NextRetryAt = &next
		return nil
	}

	e.Status = WebhookStatusFailed
	e.NextRetryAt = nil
	return nil
}

// ResetForRetry makes a FAILED event deliverable again with a fresh budget.
func (e *WebhookEvent) ResetForRetry(now time.Time) error {
	if e.Status != WebhookStatusFailed {
		return e.transitionError(WebhookStatusPending)
	}

	e.Status = WebhookStatusPending
	e.Attempts = 0
	e.LastError = ""
	e.NextRetryAt = nil
	e.UpdatedAt = now.UTC()
	return nil
}

func (e *WebhookEvent) transitionError(to WebhookEventStatus) error {
	return fmt.Errorf("%w: webhook event %s cannot move from %s to %s", ErrInvalidTransition, e.ID, e.Status, to)
}
