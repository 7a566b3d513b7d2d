package mocks

import (
	"context"
	"database/sql"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/mailpipe/internal/domain"
	"github.com/phrazzld/mailpipe/internal/store"
)

// MockWebhookEventStore implements store.WebhookEventStore in memory.
type MockWebhookEventStore struct {
	mu     sync.Mutex
	events map[uuid.UUID]*domain.WebhookEvent

	CreateFn           func(ctx context.Context, event *domain.WebhookEvent) (bool, error)
	ClaimDeliverableFn func(ctx context.Context, now time.Time, limit int) ([]*domain.WebhookEvent, error)
	RecoverStaleFn     func(ctx context.Context, cutoff, now time.Time) (int64, error)
	UpdateStateFn      func(ctx context.Context, event *domain.WebhookEvent, guard store.EventGuard) error
}

var _ store.WebhookEventStore = (*MockWebhookEventStore)(nil)

// NewMockWebhookEventStore creates an empty MockWebhookEventStore.
func NewMockWebhookEventStore() *MockWebhookEventStore {
	return &MockWebhookEventStore{events: make(map[uuid.UUID]*domain.WebhookEvent)}
}

// Put stores a copy of each event.
func (m *MockWebhookEventStore) Put(events ...*domain.WebhookEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range events {
		m.events[e.ID] = CloneEvent(e)
	}
}

// Event returns a copy of the stored event, or nil.
func (m *MockWebhookEventStore) Event(id uuid.UUID) *domain.WebhookEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return nil
	}
	return CloneEvent(e)
}

// All returns copies of every stored event, oldest first.
func (m *MockWebhookEventStore) All() []*domain.WebhookEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.WebhookEvent, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, CloneEvent(e))
	}
	slices.SortStableFunc(out, func(a, b *domain.WebhookEvent) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

// Create implements store.WebhookEventStore.
func (m *MockWebhookEventStore) Create(ctx context.Context, event *domain.WebhookEvent) (bool, error) {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, event)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.EntityType == event.EntityType && e.EntityID == event.EntityID && e.EventType == event.EventType {
			return false, nil
		}
	}
	m.events[event.ID] = CloneEvent(event)
	return true, nil
}

// GetByID implements store.WebhookEventStore.
func (m *MockWebhookEventStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error) {
	e := m.Event(id)
	if e == nil {
		return nil, store.ErrWebhookEventNotFound
	}
	return e, nil
}

// List implements store.WebhookEventStore.
func (m *MockWebhookEventStore) List(
	ctx context.Context,
	status domain.WebhookEventStatus,
	limit int,
) ([]*domain.WebhookEvent, error) {
	all := m.All()
	slices.Reverse(all)
	out := make([]*domain.WebhookEvent, 0, len(all))
	for _, e := range all {
		if status == "" || e.Status == status {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClaimDeliverable implements store.WebhookEventStore.
func (m *MockWebhookEventStore) ClaimDeliverable(ctx context.Context, now time.Time, limit int) ([]*domain.WebhookEvent, error) {
	if m.ClaimDeliverableFn != nil {
		return m.ClaimDeliverableFn(ctx, now, limit)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*domain.WebhookEvent
	for _, e := range m.events {
		if e.Status == domain.WebhookStatusPending && (e.NextRetryAt == nil || !e.NextRetryAt.After(now)) {
			due = append(due, e)
		}
	}
	slices.SortStableFunc(due, func(a, b *domain.WebhookEvent) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*domain.WebhookEvent, 0, len(due))
	for _, e := range due {
		attempt := now
		e.Status = domain.WebhookStatusSending
		e.Attempts++
		e.LastAttemptAt = &attempt
		e.UpdatedAt = now
		claimed = append(claimed, CloneEvent(e))
	}
	return claimed, nil
}

// RecoverStale implements store.WebhookEventStore.
func (m *MockWebhookEventStore) RecoverStale(ctx context.Context, cutoff, now time.Time) (int64, error) {
	if m.RecoverStaleFn != nil {
		return m.RecoverStaleFn(ctx, cutoff, now)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.events {
		if e.Status != domain.WebhookStatusSending || e.LastAttemptAt == nil || !e.LastAttemptAt.Before(cutoff) {
			continue
		}
		e.Status = domain.WebhookStatusPending
		if e.Attempts >= e.MaxAttempts {
			e.Status = domain.WebhookStatusFailed
		}
		e.LastError = "delivery interrupted before a result was recorded"
		e.UpdatedAt = now
		n++
	}
	return n, nil
}

// UpdateState implements store.WebhookEventStore.
func (m *MockWebhookEventStore) UpdateState(
	ctx context.Context,
	event *domain.WebhookEvent,
	guard store.EventGuard,
) error {
	if m.UpdateStateFn != nil {
		return m.UpdateStateFn(ctx, event, guard)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.events[event.ID]
	if !ok || current.Status != guard.Status || !sameTime(current.LastAttemptAt, guard.LastAttemptAt) {
		return store.ErrConflict
	}
	m.events[event.ID] = CloneEvent(event)
	return nil
}

// WithTx implements store.WebhookEventStore. The mock has no transactions.
func (m *MockWebhookEventStore) WithTx(tx *sql.Tx) store.WebhookEventStore {
	return m
}

// CloneEvent returns a deep copy of e.
func CloneEvent(e *domain.WebhookEvent) *domain.WebhookEvent {
	c := *e
	c.Payload = slices.Clone(e.Payload)
	c.LastAttemptAt = cloneTime(e.LastAttemptAt)
	c.SentAt = cloneTime(e.SentAt)
	c.NextRetryAt = cloneTime(e.NextRetryAt)
	return &c
}
