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

// MockTaskStore implements store.TaskStore in memory.
type MockTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.ExtractionTask

	CreateFn        func(ctx context.Context, task *domain.ExtractionTask) error
	GetByIDFn       func(ctx context.Context, id uuid.UUID) (*domain.ExtractionTask, error)
	ListByEmailFn   func(ctx context.Context, emailID uuid.UUID) ([]*domain.ExtractionTask, error)
	ClaimRunnableFn func(ctx context.Context, now time.Time, limit int) ([]*domain.ExtractionTask, error)
	FindStuckFn     func(ctx context.Context, cutoff time.Time) ([]*domain.ExtractionTask, error)
	UpdateStateFn   func(ctx context.Context, task *domain.ExtractionTask, guard store.TaskGuard) error
}

var _ store.TaskStore = (*MockTaskStore)(nil)

// NewMockTaskStore creates an empty MockTaskStore.
func NewMockTaskStore() *MockTaskStore {
	return &MockTaskStore{tasks: make(map[uuid.UUID]*domain.ExtractionTask)}
}

// Put stores a copy of each task, replacing any task with the same id.
func (m *MockTaskStore) Put(tasks ...*domain.ExtractionTask) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tasks {
		m.tasks[t.ID] = CloneTask(t)
	}
}

// Task returns a copy of the stored task, or nil.
func (m *MockTaskStore) Task(id uuid.UUID) *domain.ExtractionTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil
	}
	return CloneTask(t)
}

// Create implements store.TaskStore.
func (m *MockTaskStore) Create(ctx context.Context, task *domain.ExtractionTask) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, task)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tasks {
		if existing.AttachmentID == task.AttachmentID {
			return store.ErrAttachmentQueued
		}
	}
	m.tasks[task.ID] = CloneTask(task)
	return nil
}

// GetByID implements store.TaskStore.
func (m *MockTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.ExtractionTask, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}

	t := m.Task(id)
	if t == nil {
		return nil, store.ErrTaskNotFound
	}
	return t, nil
}

// ListByEmail implements store.TaskStore.
func (m *MockTaskStore) ListByEmail(ctx context.Context, emailID uuid.UUID) ([]*domain.ExtractionTask, error) {
	if m.ListByEmailFn != nil {
		return m.ListByEmailFn(ctx, emailID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.ExtractionTask
	for _, t := range m.tasks {
		if t.EmailID == emailID {
			out = append(out, CloneTask(t))
		}
	}
	slices.SortStableFunc(out, func(a, b *domain.ExtractionTask) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

// ClaimRunnable implements store.TaskStore with the same selection, order
// and state change as the SQL claim.
func (m *MockTaskStore) ClaimRunnable(ctx context.Context, now time.Time, limit int) ([]*domain.ExtractionTask, error) {
	if m.ClaimRunnableFn != nil {
		return m.ClaimRunnableFn(ctx, now, limit)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var runnable []*domain.ExtractionTask
	for _, t := range m.tasks {
		switch {
		case t.Status == domain.TaskStatusPending:
			runnable = append(runnable, t)
		case t.Status == domain.TaskStatusRetrying && t.NextRetryAt != nil && !t.NextRetryAt.After(now):
			runnable = append(runnable, t)
		}
	}
	slices.SortStableFunc(runnable, func(a, b *domain.ExtractionTask) int {
		if a.Priority != b.Priority {
			return b.Priority - a.Priority
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if len(runnable) > limit {
		runnable = runnable[:limit]
	}

	claimed := make([]*domain.ExtractionTask, 0, len(runnable))
	for _, t := range runnable {
		started := now
		t.Status = domain.TaskStatusProcessing
		t.Attempts++
		t.StartedAt = &started
		t.NextRetryAt = nil
		claimed = append(claimed, CloneTask(t))
	}
	return claimed, nil
}

// FindStuck implements store.TaskStore.
func (m *MockTaskStore) FindStuck(ctx context.Context, cutoff time.Time) ([]*domain.ExtractionTask, error) {
	if m.FindStuckFn != nil {
		return m.FindStuckFn(ctx, cutoff)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.ExtractionTask
	for _, t := range m.tasks {
		if t.Status == domain.TaskStatusProcessing && t.StartedAt != nil && t.StartedAt.Before(cutoff) {
			out = append(out, CloneTask(t))
		}
	}
	return out, nil
}

// UpdateState implements store.TaskStore.
func (m *MockTaskStore) UpdateState(ctx context.Context, task *domain.ExtractionTask, guard store.TaskGuard) error {
	if m.UpdateStateFn != nil {
		return m.UpdateStateFn(ctx, task, guard)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.tasks[task.ID]
	if !ok || current.Status != guard.Status || !sameTime(current.StartedAt, guard.StartedAt) {
		return store.ErrConflict
	}
	m.tasks[task.ID] = CloneTask(task)
	return nil
}

// WithTx implements store.TaskStore. The mock has no transactions.
func (m *MockTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return m
}

// CloneTask returns a deep copy of t.
func CloneTask(t *domain.ExtractionTask) *domain.ExtractionTask {
	c := *t
	c.StartedAt = cloneTime(t.StartedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.NextRetryAt = cloneTime(t.NextRetryAt)
	if t.RawResult != nil {
		c.RawResult = slices.Clone(t.RawResult)
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
