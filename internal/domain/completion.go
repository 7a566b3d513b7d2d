package domain

import (
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
)

// EmailInfo is the read-only view of an inbound email that the pipeline
// needs to build notifications. The email itself is owned elsewhere.
type EmailInfo struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	TenantCode    string
	SenderEmail   string
	Subject       string
	CorrelationID string
}

// TaskOutcome describes the final state of one task in a completion group.
// It is both the notifier input and a payload extraction entry.
type TaskOutcome struct {
	TaskID        uuid.UUID       `json:"task_id"`
	Filename      string          `json:"filename"`
	Source        string          `json:"source"`
	Status        TaskStatus      `json:"status"`
	Attempts      int             `json:"attempts"`
	ExtractedData json.RawMessage `json:"extracted_data,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
}

// OutcomeFromTask builds a TaskOutcome. Completed tasks carry their
// extracted data; every other status carries the last error.
func OutcomeFromTask(t *ExtractionTask, filename string) TaskOutcome {
	o := TaskOutcome{
		TaskID:   t.ID,
		Filename: filename,
		Source:   t.Source,
		Status:   t.Status,
		Attempts: t.Attempts,
	}
	if t.Status == TaskStatusCompleted {
		o.ExtractedData = t.RawResult
	} else {
		o.ErrorMessage = t.ErrorMessage
	}
	return o
}

// CompletionSummary counts the terminal outcomes of a completion group.
type CompletionSummary struct {
	Total       int     `json:"total"`
	Completed   int     `json:"completed"`
	Failed      int     `json:"failed"`
	Cancelled   int     `json:"cancelled"`
	SuccessRate float64 `json:"success_rate"`
}

// Summarize computes the completion summary of tasks. SuccessRate is a
// percentage rounded to two decimals, zero for an empty group.
func Summarize(tasks []*ExtractionTask) CompletionSummary {
	s := CompletionSummary{Total: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case TaskStatusCompleted:
			s.Completed++
		case TaskStatusFailed:
			s.Failed++
		case TaskStatusCancelled:
			s.Cancelled++
		}
	}
	if s.Total > 0 {
		s.SuccessRate = math.Round(float64(s.Completed)/float64(s.Total)*10000) / 100
	}
	return s
}

// AllTerminal reports whether every task is in a terminal status. An empty
// slice is not considered complete.
func AllTerminal(tasks []*ExtractionTask) bool {
	if len(tasks) == 0 {
		return false
	}
	for _, t := range tasks {
		if !t.IsTerminal() {
			return false
		}
	}
	return true
}

// EmailCompletedPayload is the JSON body POSTed to tenant webhooks. The
// task.completed event uses the same envelope with a single extraction.
type EmailCompletedPayload struct {
	EventType      string        `json:"event_type"`
	Timestamp      time.Time     `json:"timestamp"`
	CorrelationID  string        `json:"correlation_id"`
	SenderEmail    string        `json:"sender_email"`
	Subject        string        `json:"subject"`
	TenantCode     string        `json:"tenant_code"`
	TotalFiles     int           `json:"total_files"`
	ExtractedFiles int           `json:"extracted_files"`
	FailedFiles    int           `json:"failed_files"`
	SuccessRate    float64       `json:"success_rate"`
	Extractions    []TaskOutcome `json:"extractions"`
}

// NewCompletionPayload builds the webhook payload for a set of outcomes.
// FailedFiles counts every file that did not produce extracted data.
func NewCompletionPayload(
	eventType string,
	now time.Time,
	email EmailInfo,
	summary CompletionSummary,
	outcomes []TaskOutcome,
) EmailCompletedPayload {
	if outcomes == nil {
		outcomes = []TaskOutcome{}
	}
	return EmailCompletedPayload{
		EventType:      eventType,
		Timestamp:      now.UTC(),
		CorrelationID:  email.CorrelationID,
		SenderEmail:    email.SenderEmail,
		Subject:        email.Subject,
		TenantCode:     email.TenantCode,
		TotalFiles:     summary.Total,
		ExtractedFiles: summary.Completed,
		FailedFiles:    summary.Total - summary.Completed,
		SuccessRate:    summary.SuccessRate,
		Extractions:    outcomes,
	}
}

// WebhookConfig is a tenant's outbound webhook configuration.
type WebhookConfig struct {
	Enabled bool
	URL     string
	Secret  string
}

// Deliverable reports whether events should be written for the tenant.
func (c WebhookConfig) Deliverable() bool {
	return c.Enabled && c.URL != ""
}
