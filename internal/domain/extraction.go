package domain

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Validation severities reported by an extractor.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Validation is a single check reported alongside extracted data.
type Validation struct {
	Field    string `json:"field"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// ExtractionResult is the output of a field extractor.
type ExtractionResult struct {
	Data        json.RawMessage `json:"data"`
	Validations []Validation    `json:"validations,omitempty"`
}

// FirstError returns the first error-severity validation, if any.
func (r *ExtractionResult) FirstError() (Validation, bool) {
	for _, v := range r.Validations {
		if v.Severity == SeverityError {
			return v, true
		}
	}
	return Validation{}, false
}

// ExtractOptions carries per-task context for an extractor.
type ExtractOptions struct {
	TaskID   uuid.UUID
	TenantID uuid.UUID
	Source   string
}
