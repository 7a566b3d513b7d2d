package task

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/phrazzld/mailpipe/internal/domain"
)

// TemplateLookup resolves the active extraction template for a tenant and
// source. A miss is reported as an error wrapping store.ErrNotFound.
type TemplateLookup interface {
	FindActiveTemplate(ctx context.Context, tenantID uuid.UUID, source string) (string, error)
}

// DocumentStorage reads input documents and persists extraction results.
type DocumentStorage interface {
	// ReadDocument returns the bytes of the document at path.
	ReadDocument(ctx context.Context, path string) ([]byte, error)

	// WriteResult stores the extracted data of a task and returns its path.
	WriteResult(ctx context.Context, taskID uuid.UUID, data json.RawMessage) (string, error)
}

// Converter turns a document into a structured intermediate representation.
type Converter interface {
	Convert(ctx context.Context, document []byte) (json.RawMessage, error)
}

// Extractor pulls template fields out of a converted document.
type Extractor interface {
	Extract(
		ctx context.Context,
		structured json.RawMessage,
		templatePath string,
		opts domain.ExtractOptions,
	) (*domain.ExtractionResult, error)
}

// WebhookConfigLookup reports a tenant's outbound webhook settings.
type WebhookConfigLookup interface {
	IsWebhookEnabled(ctx context.Context, tenantID uuid.UUID) (bool, error)
	GetWebhookURL(ctx context.Context, tenantID uuid.UUID) (string, error)
}

// GroupAggregator is notified after a task of an email reaches a terminal
// status.
type GroupAggregator interface {
	Aggregate(ctx context.Context, emailID uuid.UUID) error
}
