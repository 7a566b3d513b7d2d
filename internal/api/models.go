package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/mailpipe/internal/domain"
)

// EnqueueTaskRequest is the body of POST /api/tasks.
type EnqueueTaskRequest struct {
	EmailID      string `json:"email_id"      validate:"required,uuid"`
	AttachmentID string `json:"attachment_id" validate:"required,uuid"`
	TenantID     string `json:"tenant_id"     validate:"required,uuid"`
	PDFPath      string `json:"pdf_path"      validate:"required,max=1024"`
	Source       string `json:"source"        validate:"required,max=100"`
	Priority     int    `json:"priority"      validate:"gte=0,lte=1000"`
	MaxAttempts  int    `json:"max_attempts"  validate:"gte=0,lte=20"`
}

// toParams converts a validated request into enqueue parameters.
func (r EnqueueTaskRequest) toParams() domain.NewTaskParams {
	return domain.NewTaskParams{
		EmailID:      uuid.MustParse(r.EmailID),
		AttachmentID: uuid.MustParse(r.AttachmentID),
		TenantID:     uuid.MustParse(r.TenantID),
		PDFPath:      r.PDFPath,
		Source:       r.Source,
		Priority:     r.Priority,
		MaxAttempts:  r.MaxAttempts,
	}
}

// TaskResponse is the operator view of an extraction task.
type TaskResponse struct {
	ID           string          `json:"id"`
	EmailID      string          `json:"email_id"`
	AttachmentID string          `json:"attachment_id"`
	TenantID     string          `json:"tenant_id"`
	PDFPath      string          `json:"pdf_path"`
	Source       string          `json:"source"`
	Status       string          `json:"status"`
	Priority     int             `json:"priority"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	ResultPath   string          `json:"result_path,omitempty"`
	RawResult    json.RawMessage `json:"raw_result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	NextRetryAt  *time.Time      `json:"next_retry_at,omitempty"`
}

func taskToResponse(t *domain.ExtractionTask) TaskResponse {
	return TaskResponse{
		ID:           t.ID.String(),
		EmailID:      t.EmailID.String(),
		AttachmentID: t.AttachmentID.String(),
		TenantID:     t.TenantID.String(),
		PDFPath:      t.PDFPath,
		Source:       t.Source,
		Status:       string(t.Status),
		Priority:     t.Priority,
		Attempts:     t.Attempts,
		MaxAttempts:  t.MaxAttempts,
		ResultPath:   t.ResultPath,
		RawResult:    t.RawResult,
		ErrorMessage: t.ErrorMessage,
		CreatedAt:    t.CreatedAt,
		StartedAt:    t.StartedAt,
		CompletedAt:  t.CompletedAt,
		NextRetryAt:  t.NextRetryAt,
	}
}

// TaskListResponse wraps the tasks of one email.
type TaskListResponse struct {
	EmailID string         `json:"email_id"`
	Tasks   []TaskResponse `json:"tasks"`
}

// WebhookEventResponse is the operator view of an outbox event.
type WebhookEventResponse struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id"`
	EventType     string          `json:"event_type"`
	EntityType    string          `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	Payload       json.RawMessage `json:"payload"`
	Status        string          `json:"status"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"max_attempts"`
	LastError     string          `json:"last_error,omitempty"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	SentAt        *time.Time      `json:"sent_at,omitempty"`
	NextRetryAt   *time.Time      `json:"next_retry_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func webhookEventToResponse(e *domain.WebhookEvent) WebhookEventResponse {
	return WebhookEventResponse{
		ID:            e.ID.String(),
		TenantID:      e.TenantID.String(),
		EventType:     e.EventType,
		EntityType:    e.EntityType,
		EntityID:      e.EntityID.String(),
		Payload:       e.Payload,
		Status:        string(e.Status),
		Attempts:      e.Attempts,
		MaxAttempts:   e.MaxAttempts,
		LastError:     e.LastError,
		LastAttemptAt: e.LastAttemptAt,
		SentAt:        e.SentAt,
		NextRetryAt:   e.NextRetryAt,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

// WebhookEventListResponse wraps a page of outbox events.
type WebhookEventListResponse struct {
	Events []WebhookEventResponse `json:"events"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}
