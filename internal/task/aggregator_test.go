package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/mailpipe/internal/domain"
	"github.com/phrazzld/mailpipe/internal/events"
	"github.com/phrazzld/mailpipe/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// finish moves every task to the given terminal status directly in the store.
func finish(t *testing.T, h *harness, tasks []*domain.ExtractionTask, statuses ...domain.TaskStatus) {
	t.Helper()
	require.Len(t, statuses, len(tasks))
	for i, task := range tasks {
		switch statuses[i] {
		case domain.TaskStatusCompleted:
			require.NoError(t, task.MarkProcessing(h.now))
			require.NoError(t, task.Complete(h.now, "results/x.json", []byte(`{"ok":true}`)))
		case domain.TaskStatusFailed:
			task.MaxAttempts = 1
			require.NoError(t, task.MarkProcessing(h.now))
			require.NoError(t, task.Fail(h.now, time.Minute, "converter returned status 422"))
		case domain.TaskStatusCancelled:
			require.NoError(t, task.Cancel(h.now))
		}
		h.tasks.Put(task)
	}
}

func TestCompletionAggregator_OpenGroupIsNoop(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tasks := h.seedEmail("a.pdf", "b.pdf")
	finish(t, h, tasks[:1], domain.TaskStatusCompleted)

	require.NoError(t, h.aggregator.Aggregate(context.Background(), h.email.ID))

	assert.False(t, h.emails.IsProcessed(h.email.ID))
	assert.Empty(t, h.outbox.All())
	assert.Empty(t, h.emitted)
	assert.Equal(t, 0, h.tx.Calls())
}

func TestCompletionAggregator_ClosesGroupOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tasks := h.seedEmail("a.pdf", "b.pdf", "c.pdf")
	finish(t, h, tasks, domain.TaskStatusCompleted, domain.TaskStatusFailed, domain.TaskStatusCancelled)

	for range 3 {
		require.NoError(t, h.aggregator.Aggregate(context.Background(), h.email.ID))
	}

	assert.True(t, h.emails.IsProcessed(h.email.ID))

	emailEvents := h.eventsOfType(domain.EventTypeEmailCompleted)
	require.Len(t, emailEvents, 1)
	assert.Equal(t, h.email.ID, emailEvents[0].EntityID)
	assert.Equal(t, domain.EntityTypeEmail, emailEvents[0].EntityType)
	assert.Equal(t, domain.WebhookStatusPending, emailEvents[0].Status)

	require.Len(t, h.emitted, 1)
	summary := h.emitted[0].Summary
	assert.Equal(t, domain.CompletionSummary{
		Total: 3, Completed: 1, Failed: 1, Cancelled: 1, SuccessRate: 33.33,
	}, summary)
	assert.JSONEq(t, string(emailEvents[0].Payload), string(h.emitted[0].Payload))
}

func TestCompletionAggregator_WebhookNotDeliverable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		config domain.WebhookConfig
	}{
		{"disabled", domain.WebhookConfig{Enabled: false, URL: "https://hooks.example.test/in"}},
		{"no url", domain.WebhookConfig{Enabled: true}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			h.webhooks.Configs[h.tenantID] = tc.config
			tasks := h.seedEmail("a.pdf")
			finish(t, h, tasks, domain.TaskStatusCompleted)

			require.NoError(t, h.aggregator.Aggregate(context.Background(), h.email.ID))

			assert.True(t, h.emails.IsProcessed(h.email.ID))
			assert.Empty(t, h.outbox.All())
			assert.Len(t, h.emitted, 1)
		})
	}
}

func TestCompletionAggregator_TransactionFailureLeavesGroupOpen(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tasks := h.seedEmail("a.pdf")
	finish(t, h, tasks, domain.TaskStatusCompleted)
	h.tx.Err = store.ErrTransactionFailed

	err := h.aggregator.Aggregate(context.Background(), h.email.ID)
	assert.ErrorIs(t, err, store.ErrTransactionFailed)
	assert.False(t, h.emails.IsProcessed(h.email.ID))
	assert.Empty(t, h.emitted)

	// The next trigger closes the group.
	h.tx.Err = nil
	require.NoError(t, h.aggregator.Aggregate(context.Background(), h.email.ID))
	assert.True(t, h.emails.IsProcessed(h.email.ID))
	assert.Len(t, h.emitted, 1)
}

func TestCompletionAggregator_LookupErrors(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tasks := h.seedEmail("a.pdf")
	finish(t, h, tasks, domain.TaskStatusCompleted)

	h.emails.GetEmailFn = func(context.Context, uuid.UUID) (*domain.EmailInfo, error) {
		return nil, store.ErrEmailNotFound
	}
	err := h.aggregator.Aggregate(context.Background(), h.email.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	h.emails.GetEmailFn = nil
	h.webhooks.Err = errors.New("tenant store down")
	err = h.aggregator.Aggregate(context.Background(), h.email.ID)
	assert.ErrorContains(t, err, "failed to load webhook config")
	assert.False(t, h.emails.IsProcessed(h.email.ID))
}

type failingHandler struct{}

func (failingHandler) HandleEvent(context.Context, *events.GroupCompletedEvent) error {
	return errors.New("notifier unavailable")
}

func TestCompletionAggregator_EmitterErrorIsLogged(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.emitter.RegisterHandler(failingHandler{})
	tasks := h.seedEmail("a.pdf")
	finish(t, h, tasks, domain.TaskStatusCompleted)

	require.NoError(t, h.aggregator.Aggregate(context.Background(), h.email.ID))
	assert.Contains(t, h.logs.String(), "failed to emit group completed event")
}

func TestNewCompletionAggregator_Validation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	deps := h.aggregator.deps

	missing := deps
	missing.Tx = nil
	_, err := NewCompletionAggregator(missing, h.log)
	assert.ErrorIs(t, err, ErrNilTransactor)

	optional := deps
	optional.Emitter = nil
	_, err = NewCompletionAggregator(optional, h.log)
	assert.NoError(t, err)
}
