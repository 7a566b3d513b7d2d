package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition is returned when a state change is not legal from
	// the entity's current status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrTemplateNotFound is returned when no active extraction template
	// exists for a tenant and source.
	ErrTemplateNotFound = errors.New("extraction template not found")

	// ErrConversion is returned when a document could not be converted into
	// a structured representation.
	ErrConversion = errors.New("document conversion failed")

	// ErrExtraction is returned when field extraction fails.
	ErrExtraction = errors.New("field extraction failed")

	// ErrValidationFailed is returned when extraction succeeded but at least
	// one validation result has error severity.
	ErrValidationFailed = errors.New("extraction validation failed")

	// ErrDelivery is returned when a webhook endpoint rejects a delivery or
	// cannot be reached.
	ErrDelivery = errors.New("webhook delivery failed")
)
