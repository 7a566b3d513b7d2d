package mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/mailpipe/internal/domain"
	"github.com/phrazzld/mailpipe/internal/store"
)

// MockTemplateLookup resolves templates from a map keyed by source.
type MockTemplateLookup struct {
	Templates map[string]string
	Err       error
}

// FindActiveTemplate implements task.TemplateLookup.
func (m *MockTemplateLookup) FindActiveTemplate(ctx context.Context, tenantID uuid.UUID, source string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	path, ok := m.Templates[source]
	if !ok {
		return "", store.ErrTemplateNotFound
	}
	return path, nil
}

// MockDocumentStorage serves documents and keeps written results in memory.
type MockDocumentStorage struct {
	mu        sync.Mutex
	Documents map[string][]byte
	Results   map[uuid.UUID]json.RawMessage

	ReadErr  error
	WriteErr error
}

// NewMockDocumentStorage creates an empty MockDocumentStorage.
func NewMockDocumentStorage() *MockDocumentStorage {
	return &MockDocumentStorage{
		Documents: make(map[string][]byte),
		Results:   make(map[uuid.UUID]json.RawMessage),
	}
}

// ReadDocument implements task.DocumentStorage.
func (m *MockDocumentStorage) ReadDocument(ctx context.Context, path string) ([]byte, error) {
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.Documents[path]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", path, store.ErrNotFound)
	}
	return doc, nil
}

// WriteResult implements task.DocumentStorage.
func (m *MockDocumentStorage) WriteResult(ctx context.Context, taskID uuid.UUID, data json.RawMessage) (string, error) {
	if m.WriteErr != nil {
		return "", m.WriteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Results[taskID] = data
	return "results/" + taskID.String() + ".json", nil
}

// MockConverter implements task.Converter.
type MockConverter struct {
	ConvertFn func(ctx context.Context, document []byte) (json.RawMessage, error)
}

// Convert implements task.Converter. Without ConvertFn it wraps the
// document text in a JSON object.
func (m *MockConverter) Convert(ctx context.Context, document []byte) (json.RawMessage, error) {
	if m.ConvertFn != nil {
		return m.ConvertFn(ctx, document)
	}
	return json.Marshal(map[string]string{"text": string(document)})
}

// MockExtractor implements task.Extractor.
type MockExtractor struct {
	ExtractFn func(
		ctx context.Context,
		structured json.RawMessage,
		templatePath string,
		opts domain.ExtractOptions,
	) (*domain.ExtractionResult, error)

	mu    sync.Mutex
	calls []domain.ExtractOptions
}

// Extract implements task.Extractor. Without ExtractFn it returns a fixed
// result.
func (m *MockExtractor) Extract(
	ctx context.Context,
	structured json.RawMessage,
	templatePath string,
	opts domain.ExtractOptions,
) (*domain.ExtractionResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, opts)
	m.mu.Unlock()

	if m.ExtractFn != nil {
		return m.ExtractFn(ctx, structured, templatePath, opts)
	}
	return &domain.ExtractionResult{Data: json.RawMessage(`{"invoice_number":"INV-1"}`)}, nil
}

// Calls returns the options of every Extract call.
func (m *MockExtractor) Calls() []domain.ExtractOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ExtractOptions(nil), m.calls...)
}

// MockWebhookConfigLookup returns per-tenant webhook configuration.
type MockWebhookConfigLookup struct {
	Configs map[uuid.UUID]domain.WebhookConfig
	Err     error
}

// GetWebhookConfig implements outbox.WebhookConfigLookup. Unknown tenants have
// webhooks disabled.
func (m *MockWebhookConfigLookup) GetWebhookConfig(ctx context.Context, tenantID uuid.UUID) (domain.WebhookConfig, error) {
	if m.Err != nil {
		return domain.WebhookConfig{}, m.Err
	}
	return m.Configs[tenantID], nil
}

// IsWebhookEnabled implements task.WebhookConfigLookup.
func (m *MockWebhookConfigLookup) IsWebhookEnabled(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	cfg, err := m.GetWebhookConfig(ctx, tenantID)
	return cfg.Enabled, err
}

// GetWebhookURL implements task.WebhookConfigLookup.
func (m *MockWebhookConfigLookup) GetWebhookURL(ctx context.Context, tenantID uuid.UUID) (string, error) {
	cfg, err := m.GetWebhookConfig(ctx, tenantID)
	return cfg.URL, err
}

// MockAggregator records Aggregate calls.
type MockAggregator struct {
	AggregateFn func(ctx context.Context, emailID uuid.UUID) error

	mu    sync.Mutex
	calls []uuid.UUID
}

// Aggregate implements task.GroupAggregator.
func (m *MockAggregator) Aggregate(ctx context.Context, emailID uuid.UUID) error {
	m.mu.Lock()
	m.calls = append(m.calls, emailID)
	m.mu.Unlock()

	if m.AggregateFn != nil {
		return m.AggregateFn(ctx, emailID)
	}
	return nil
}

// Calls returns the email ids passed to Aggregate.
func (m *MockAggregator) Calls() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.calls...)
}

// MockNotifier records Notify calls.
type MockNotifier struct {
	mu    sync.Mutex
	Calls []NotifyCall
}

// NotifyCall is one recorded Notify invocation.
type NotifyCall struct {
	Email    domain.EmailInfo
	Summary  domain.CompletionSummary
	Outcomes []domain.TaskOutcome
}

// Notify implements notify.Notifier.
func (m *MockNotifier) Notify(
	ctx context.Context,
	email domain.EmailInfo,
	summary domain.CompletionSummary,
	outcomes []domain.TaskOutcome,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, NotifyCall{Email: email, Summary: summary, Outcomes: outcomes})
	return nil
}

// CallCount returns the number of Notify calls.
func (m *MockNotifier) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
