package mocks

import (
	"context"
	"database/sql"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/mailpipe/internal/domain"
	"github.com/phrazzld/mailpipe/internal/store"
)

// MockEmailStore implements store.EmailStore in memory.
type MockEmailStore struct {
	mu          sync.Mutex
	emails      map[uuid.UUID]domain.EmailInfo
	filenames   map[uuid.UUID]map[uuid.UUID]string
	processedAt map[uuid.UUID]time.Time

	GetEmailFn      func(ctx context.Context, id uuid.UUID) (*domain.EmailInfo, error)
	MarkProcessedFn func(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
}

var _ store.EmailStore = (*MockEmailStore)(nil)

// NewMockEmailStore creates an empty MockEmailStore.
func NewMockEmailStore() *MockEmailStore {
	return &MockEmailStore{
		emails:      make(map[uuid.UUID]domain.EmailInfo),
		filenames:   make(map[uuid.UUID]map[uuid.UUID]string),
		processedAt: make(map[uuid.UUID]time.Time),
	}
}

// AddEmail registers an email and its attachment filenames.
func (m *MockEmailStore) AddEmail(email domain.EmailInfo, filenames map[uuid.UUID]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emails[email.ID] = email
	m.filenames[email.ID] = maps.Clone(filenames)
}

// IsProcessed reports whether MarkProcessed succeeded for id.
func (m *MockEmailStore) IsProcessed(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.processedAt[id]
	return ok
}

// GetEmail implements store.EmailStore.
func (m *MockEmailStore) GetEmail(ctx context.Context, id uuid.UUID) (*domain.EmailInfo, error) {
	if m.GetEmailFn != nil {
		return m.GetEmailFn(ctx, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	email, ok := m.emails[id]
	if !ok {
		return nil, store.ErrEmailNotFound
	}
	return &email, nil
}

// AttachmentFilenames implements store.EmailStore.
func (m *MockEmailStore) AttachmentFilenames(ctx context.Context, emailID uuid.UUID) (map[uuid.UUID]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := maps.Clone(m.filenames[emailID])
	if out == nil {
		out = map[uuid.UUID]string{}
	}
	return out, nil
}

// MarkProcessed implements store.EmailStore.
func (m *MockEmailStore) MarkProcessed(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	if m.MarkProcessedFn != nil {
		return m.MarkProcessedFn(ctx, id, now)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.emails[id]; !ok {
		return false, store.ErrEmailNotFound
	}
	if _, done := m.processedAt[id]; done {
		return false, nil
	}
	m.processedAt[id] = now
	return true, nil
}

// Reopen implements store.EmailStore. Like the SQL update, an unknown email
// is reported as not reopened.
func (m *MockEmailStore) Reopen(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, done := m.processedAt[id]; !done {
		return false, nil
	}
	delete(m.processedAt, id)
	return true, nil
}

// WithTx implements store.EmailStore. The mock has no transactions.
func (m *MockEmailStore) WithTx(tx *sql.Tx) store.EmailStore {
	return m
}
