package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of an extraction task.
type TaskStatus string

// Possible task status values.
const (
	TaskStatusPending    TaskStatus = "PENDING"
	TaskStatusProcessing TaskStatus = "PROCESSING"
	TaskStatusRetrying   TaskStatus = "RETRYING"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusFailed     TaskStatus = "FAILED"
	TaskStatusCancelled  TaskStatus = "CANCELLED"
)

// DefaultTaskMaxAttempts is used when a task is created without an explicit limit.
const DefaultTaskMaxAttempts = 3

// Valid reports whether s is one of the known task statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusRetrying,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no automatic transition leaves s.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// ParseTaskStatus converts a case-insensitive string into a TaskStatus.
func ParseTaskStatus(raw string) (TaskStatus, error) {
	s := TaskStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown task status %q", ErrValidation, raw)
	}
	return s, nil
}

// Validation errors for ExtractionTask.
var (
	ErrEmptyTaskID       = errors.New("task ID cannot be empty")
	ErrEmptyEmailID      = errors.New("task email ID cannot be empty")
	ErrEmptyAttachmentID = errors.New("task attachment ID cannot be empty")
	ErrEmptyTenantID     = errors.New("task tenant ID cannot be empty")
	ErrEmptyPDFPath      = errors.New("task document path cannot be empty")
	ErrEmptySource       = errors.New("task source cannot be empty")
	ErrInvalidTaskStatus = errors.New("invalid task status")
	ErrInvalidAttempts   = errors.New("task attempts out of range")
)

// ExtractionTask is one unit of extraction work: a single PDF attachment
// belonging to an email. Tasks sharing an EmailID form a completion group.
type ExtractionTask struct {
	ID           uuid.UUID       `json:"id"`
	EmailID      uuid.UUID       `json:"email_id"`
	AttachmentID uuid.UUID       `json:"attachment_id"`
	TenantID     uuid.UUID       `json:"tenant_id"`
	PDFPath      string          `json:"pdf_path"`
	Source       string          `json:"source"`
	Status       TaskStatus      `json:"status"`
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

// NewTaskParams holds the inputs needed to enqueue an extraction task.
type NewTaskParams struct {
	EmailID      uuid.UUID
	AttachmentID uuid.UUID
	TenantID     uuid.UUID
	PDFPath      string
	Source       string
	Priority     int
	MaxAttempts  int
}

// NewExtractionTask creates a PENDING task from params.
func NewExtractionTask(params NewTaskParams, now time.Time) (*ExtractionTask, error) {
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultTaskMaxAttempts
	}

	t := &ExtractionTask{
		ID:           uuid.New(),
		EmailID:      params.EmailID,
		AttachmentID: params.AttachmentID,
		TenantID:     params.TenantID,
		PDFPath:      params.PDFPath,
		Source:       params.Source,
		Status:       TaskStatusPending,
		Priority:     params.Priority,
		MaxAttempts:  maxAttempts,
		CreatedAt:    now.UTC(),
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks that the task carries all required fields.
func (t *ExtractionTask) Validate() error {
	switch {
	case t.ID == uuid.Nil:
		return ErrEmptyTaskID
	case t.EmailID == uuid.Nil:
		return ErrEmptyEmailID
	case t.AttachmentID == uuid.Nil:
		return ErrEmptyAttachmentID
	case t.TenantID == uuid.Nil:
		return ErrEmptyTenantID
	case strings.TrimSpace(t.PDFPath) == "":
		return ErrEmptyPDFPath
	case strings.TrimSpace(t.Source) == "":
		return ErrEmptySource
	case !t.Status.Valid():
		return ErrInvalidTaskStatus
	case t.MaxAttempts < 1 || t.Attempts < 0:
		return ErrInvalidAttempts
	}
	return nil
}

// IsTerminal reports whether the task has reached a final status.
func (t *ExtractionTask) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// MarkProcessing claims the task for a worker. The attempt counter is
// incremented here, before any external work starts.
func (t *ExtractionTask) MarkProcessing(now time.Time) error {
	if t.Status != TaskStatusPending && t.Status != TaskStatusRetrying {
		return t.transitionError(TaskStatusProcessing)
	}

	started := now.UTC()
	t.Status = TaskStatusProcessing
	t.Attempts++
	t.StartedAt = &started
	t.NextRetryAt = nil
	return nil
}

// Complete records a successful extraction.
func (t *ExtractionTask) Complete(now time.Time, resultPath string, raw json.RawMessage) error {
	if t.Status != TaskStatusProcessing {
		return t.transitionError(TaskStatusCompleted)
	}

	completed := now.UTC()
	t.Status = TaskStatusCompleted
	t.ResultPath = resultPath
	t.RawResult = raw
	t.ErrorMessage = ""
	t.CompletedAt = &completed
	t.NextRetryAt = nil
	return nil
}

// Fail records a failed attempt. While attempts remain the task moves to
// RETRYING with an exponential backoff computed from the current attempt
// count; otherwise it becomes FAILED.
func (t *ExtractionTask) Fail(now time.Time, baseDelay time.Duration, message string) error {
	if t.Status != TaskStatusProcessing {
		return t.transitionError(TaskStatusFailed)
	}

	now = now.UTC()
	t.ErrorMessage = message

	if t.Attempts < t.MaxAttempts {
		next := now.Add(RetryDelay(baseDelay, t.Attempts))
		t.Status = TaskStatusRetrying
		t.NextRetryAt = &next
		return nil
	}

	t.Status = TaskStatusFailed
	t.CompletedAt = &now
	t.NextRetryAt = nil
	return nil
}

// Cancel stops a task that no worker currently owns.
func (t *ExtractionTask) Cancel(now time.Time) error {
	if t.Status != TaskStatusPending && t.Status != TaskStatusRetrying {
		return t.transitionError(TaskStatusCancelled)
	}

	completed := now.UTC()
	t.Status = TaskStatusCancelled
	t.CompletedAt = &completed
	t.NextRetryAt = nil
	return nil
}

// ResetForRetry returns a FAILED or CANCELLED task to PENDING with a fresh
// attempt budget. This is the only path that lowers Attempts.
func (t *ExtractionTask) ResetForRetry() error {
	if t.Status != TaskStatusFailed && t.Status != TaskStatusCancelled {
		return t.transitionError(TaskStatusPending)
	}

	t.Status = TaskStatusPending
	t.Attempts = 0
	t.ErrorMessage = ""
	t.ResultPath = ""
	t.RawResult = nil
	t.StartedAt = nil
	t.CompletedAt = nil
	t.NextRetryAt = nil
	return nil
}

func (t *ExtractionTask) transitionError(to TaskStatus) error {
	return fmt.Errorf("%w: task %s cannot move from %s to %s", ErrInvalidTransition, t.ID, t.Status, to)
}
