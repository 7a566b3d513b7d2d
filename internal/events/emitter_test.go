package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/mailpipe/internal/domain"
	"github.com/stretchr/testify/assert"
)

// MockEventHandler records the events it receives.
type MockEventHandler struct {
	mu           sync.Mutex
	HandledCount int
	LastEvent    *GroupCompletedEvent
	HandlerError error
}

func (m *MockEventHandler) HandleEvent(ctx context.Context, event *GroupCompletedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HandledCount++
	m.LastEvent = event
	return m.HandlerError
}

func newTestEvent() *GroupCompletedEvent {
	return NewGroupCompletedEvent(
		domain.EmailInfo{ID: uuid.New(), TenantCode: "ACME"},
		domain.CompletionSummary{Total: 1, Completed: 1, SuccessRate: 100},
		nil,
		json.RawMessage(`{"event_type":"email.completed"}`),
		time.Now(),
	)
}

func TestInMemoryEventEmitter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("emit event with no handlers", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)
		assert.NoError(t, emitter.EmitEvent(context.Background(), newTestEvent()))
	})

	t.Run("emit event with successful handlers", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)
		handler1 := &MockEventHandler{}
		handler2 := &MockEventHandler{}
		emitter.RegisterHandler(handler1)
		emitter.RegisterHandler(handler2)

		event := newTestEvent()
		assert.NoError(t, emitter.EmitEvent(context.Background(), event))

		assert.Equal(t, 1, handler1.HandledCount)
		assert.Equal(t, 1, handler2.HandledCount)
		assert.Same(t, event, handler1.LastEvent)
		assert.Equal(t, EventTypeGroupCompleted, handler2.LastEvent.Type)
	})

	t.Run("failing handler does not stop the others", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)
		failing := &MockEventHandler{HandlerError: errors.New("handler error")}
		success := &MockEventHandler{}
		emitter.RegisterHandler(failing)
		emitter.RegisterHandler(success)

		err := emitter.EmitEvent(context.Background(), newTestEvent())
		assert.EqualError(t, err, "handler error")
		assert.Equal(t, 1, success.HandledCount)
	})

	t.Run("panicking handler is isolated", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)
		success := &MockEventHandler{}
		emitter.RegisterHandler(EventHandlerFunc(func(ctx context.Context, e *GroupCompletedEvent) error {
			panic("boom")
		}))
		emitter.RegisterHandler(success)

		err := emitter.EmitEvent(context.Background(), newTestEvent())
		assert.ErrorContains(t, err, "panicked")
		assert.Equal(t, 1, success.HandledCount)
	})

	t.Run("concurrent registration and emission", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				emitter.RegisterHandler(&MockEventHandler{})
			}()
			go func() {
				defer wg.Done()
				_ = emitter.EmitEvent(context.Background(), newTestEvent())
			}()
		}
		wg.Wait()
	})
}
