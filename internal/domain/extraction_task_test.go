package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestTask(t *testing.T) *ExtractionTask {
	t.Helper()
	task, err := NewExtractionTask(NewTaskParams{
		EmailID:      uuid.New(),
		AttachmentID: uuid.New(),
		TenantID:     uuid.New(),
		PDFPath:      "inbox/a.pdf",
		Source:       "acme-invoice",
	}, testNow)
	require.NoError(t, err)
	return task
}

func TestNewExtractionTask(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		task := newTestTask(t)

		assert.NotEqual(t, uuid.Nil, task.ID)
		assert.Equal(t, TaskStatusPending, task.Status)
		assert.Equal(t, DefaultTaskMaxAttempts, task.MaxAttempts)
		assert.Zero(t, task.Attempts)
		assert.Equal(t, testNow, task.CreatedAt)
		assert.Nil(t, task.StartedAt)
		assert.Nil(t, task.NextRetryAt)
	})

	t.Run("missing fields", func(t *testing.T) {
		t.Parallel()
		tests := []struct {
			name   string
			params NewTaskParams
			want   error
		}{
			{"email", NewTaskParams{AttachmentID: uuid.New(), TenantID: uuid.New(), PDFPath: "a", Source: "s"}, ErrEmptyEmailID},
			{"attachment", NewTaskParams{EmailID: uuid.New(), TenantID: uuid.New(), PDFPath: "a", Source: "s"}, ErrEmptyAttachmentID},
			{"tenant", NewTaskParams{EmailID: uuid.New(), AttachmentID: uuid.New(), PDFPath: "a", Source: "s"}, ErrEmptyTenantID},
			{"path", NewTaskParams{EmailID: uuid.New(), AttachmentID: uuid.New(), TenantID: uuid.New(), Source: "s"}, ErrEmptyPDFPath},
			{"source", NewTaskParams{EmailID: uuid.New(), AttachmentID: uuid.New(), TenantID: uuid.New(), PDFPath: "a"}, ErrEmptySource},
		}
		for _, tc := range tests {
			_, err := NewExtractionTask(tc.params, testNow)
			assert.ErrorIs(t, err, tc.want, tc.name)
		}
	})
}

func TestExtractionTask_RetryLadder(t *testing.T) {
	t.Parallel()

	task := newTestTask(t)
	base := 60 * time.Second
	wantDelays := []time.Duration{60 * time.Second, 120 * time.Second}

	for i, want := range wantDelays {
		now := testNow.Add(time.Duration(i) * time.Hour)
		require.NoError(t, task.MarkProcessing(now))
		assert.Equal(t, i+1, task.Attempts)
		assert.Equal(t, TaskStatusProcessing, task.Status)

		require.NoError(t, task.Fail(now, base, "conversion failed"))
		assert.Equal(t, TaskStatusRetrying, task.Status)
		require.NotNil(t, task.NextRetryAt)
		assert.Equal(t, now.Add(want), *task.NextRetryAt)
		assert.Nil(t, task.CompletedAt)
	}

	require.NoError(t, task.MarkProcessing(testNow.Add(3*time.Hour)))
	require.NoError(t, task.Fail(testNow.Add(3*time.Hour), base, "conversion failed"))

	assert.Equal(t, TaskStatusFailed, task.Status)
	assert.Equal(t, 3, task.Attempts)
	assert.Nil(t, task.NextRetryAt)
	require.NotNil(t, task.CompletedAt)
	assert.Equal(t, "conversion failed", task.ErrorMessage)
}

func TestExtractionTask_Complete(t *testing.T) {
	t.Parallel()

	task := newTestTask(t)
	require.NoError(t, task.MarkProcessing(testNow))
	task.ErrorMessage = "previous failure"

	raw := json.RawMessage(`{"total":"12.50"}`)
	require.NoError(t, task.Complete(testNow.Add(time.Minute), "results/x.json", raw))

	assert.Equal(t, TaskStatusCompleted, task.Status)
	assert.Equal(t, "results/x.json", task.ResultPath)
	assert.JSONEq(t, string(raw), string(task.RawResult))
	assert.Empty(t, task.ErrorMessage)
	require.NotNil(t, task.CompletedAt)
	assert.True(t, task.IsTerminal())
}

func TestExtractionTask_IllegalTransitions(t *testing.T) {
	t.Parallel()

	task := newTestTask(t)

	assert.ErrorIs(t, task.Complete(testNow, "p", nil), ErrInvalidTransition)
	assert.ErrorIs(t, task.Fail(testNow, time.Minute, "x"), ErrInvalidTransition)
	assert.ErrorIs(t, task.ResetForRetry(), ErrInvalidTransition)

	require.NoError(t, task.MarkProcessing(testNow))
	assert.ErrorIs(t, task.MarkProcessing(testNow), ErrInvalidTransition)
	assert.ErrorIs(t, task.Cancel(testNow), ErrInvalidTransition)

	require.NoError(t, task.Complete(testNow, "p", nil))
	assert.ErrorIs(t, task.Cancel(testNow), ErrInvalidTransition)
	assert.ErrorIs(t, task.ResetForRetry(), ErrInvalidTransition)
}

func TestExtractionTask_CancelAndReset(t *testing.T) {
	t.Parallel()

	task := newTestTask(t)
	require.NoError(t, task.MarkProcessing(testNow))
	require.NoError(t, task.Fail(testNow, time.Minute, "boom"))
	require.Equal(t, TaskStatusRetrying, task.Status)

	require.NoError(t, task.Cancel(testNow))
	assert.Equal(t, TaskStatusCancelled, task.Status)
	assert.Nil(t, task.NextRetryAt)
	assert.NotNil(t, task.CompletedAt)

	require.NoError(t, task.ResetForRetry())
	assert.Equal(t, TaskStatusPending, task.Status)
	assert.Zero(t, task.Attempts)
	assert.Empty(t, task.ErrorMessage)
	assert.Nil(t, task.CompletedAt)
	assert.Nil(t, task.StartedAt)
}

func TestParseTaskStatus(t *testing.T) {
	t.Parallel()

	s, err := ParseTaskStatus(" failed ")
	require.NoError(t, err)
	assert.Equal(t, TaskStatusFailed, s)

	_, err = ParseTaskStatus("done")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRetryDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Minute},
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{5, 16 * time.Minute},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, RetryDelay(time.Minute, tc.attempts), "attempts=%d", tc.attempts)
	}

	assert.Equal(t, RetryDelay(time.Second, 21), RetryDelay(time.Second, 500))
}
