package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	t.Parallel()

	tasks := []*ExtractionTask{
		{ID: uuid.New(), Status: TaskStatusCompleted},
		{ID: uuid.New(), Status: TaskStatusCompleted},
		{ID: uuid.New(), Status: TaskStatusFailed},
	}

	s := Summarize(tasks)
	assert.Equal(t, CompletionSummary{Total: 3, Completed: 2, Failed: 1, SuccessRate: 66.67}, s)

	assert.Equal(t, CompletionSummary{}, Summarize(nil))

	s = Summarize([]*ExtractionTask{{Status: TaskStatusCancelled}})
	assert.Equal(t, 1, s.Cancelled)
	assert.Zero(t, s.SuccessRate)
}

func TestAllTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, AllTerminal(nil))
	assert.True(t, AllTerminal([]*ExtractionTask{
		{Status: TaskStatusCompleted},
		{Status: TaskStatusCancelled},
	}))
	assert.False(t, AllTerminal([]*ExtractionTask{
		{Status: TaskStatusCompleted},
		{Status: TaskStatusRetrying},
	}))
}

func TestNewCompletionPayload(t *testing.T) {
	t.Parallel()

	ok := &ExtractionTask{
		ID:        uuid.New(),
		Source:    "acme-invoice",
		Status:    TaskStatusCompleted,
		Attempts:  1,
		RawResult: json.RawMessage(`{"total":"10.00"}`),
	}
	failed := &ExtractionTask{
		ID:           uuid.New(),
		Source:       "acme-invoice",
		Status:       TaskStatusFailed,
		Attempts:     3,
		ErrorMessage: "document conversion failed",
	}
	email := EmailInfo{
		ID:            uuid.New(),
		TenantCode:    "ACME",
		SenderEmail:   "ap@acme.test",
		Subject:       "March invoices",
		CorrelationID: "msg-1",
	}

	outcomes := []TaskOutcome{OutcomeFromTask(ok, "a.pdf"), OutcomeFromTask(failed, "b.pdf")}
	payload := NewCompletionPayload(EventTypeEmailCompleted, testNow, email, Summarize([]*ExtractionTask{ok, failed}), outcomes)

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))

	assert.Equal(t, "email.completed", decoded["event_type"])
	assert.Equal(t, "msg-1", decoded["correlation_id"])
	assert.Equal(t, "ACME", decoded["tenant_code"])
	assert.EqualValues(t, 2, decoded["total_files"])
	assert.EqualValues(t, 1, decoded["extracted_files"])
	assert.EqualValues(t, 1, decoded["failed_files"])
	assert.EqualValues(t, 50, decoded["success_rate"])

	extractions, ok2 := decoded["extractions"].([]any)
	require.True(t, ok2)
	require.Len(t, extractions, 2)

	first := extractions[0].(map[string]any)
	assert.Equal(t, "a.pdf", first["filename"])
	assert.Contains(t, first, "extracted_data")
	assert.NotContains(t, first, "error_message")

	second := extractions[1].(map[string]any)
	assert.Equal(t, "document conversion failed", second["error_message"])
	assert.NotContains(t, second, "extracted_data")
}

func TestExtractionResult_FirstError(t *testing.T) {
	t.Parallel()

	r := &ExtractionResult{Validations: []Validation{
		{Field: "date", Message: "unusual", Severity: SeverityWarning},
		{Field: "total", Message: "missing", Severity: SeverityError},
	}}
	v, found := r.FirstError()
	require.True(t, found)
	assert.Equal(t, "total", v.Field)

	_, found = (&ExtractionResult{}).FirstError()
	assert.False(t, found)
}

func TestWebhookConfig_Deliverable(t *testing.T) {
	t.Parallel()

	assert.True(t, WebhookConfig{Enabled: true, URL: "https://x.test/hook"}.Deliverable())
	assert.False(t, WebhookConfig{Enabled: true}.Deliverable())
	assert.False(t, WebhookConfig{URL: "https://x.test/hook"}.Deliverable())
}
