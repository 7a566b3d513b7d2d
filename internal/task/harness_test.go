package task

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/mailpipe/internal/domain"
	"github.com/phrazzld/mailpipe/internal/events"
	"github.com/phrazzld/mailpipe/internal/mocks"
	"github.com/phrazzld/mailpipe/internal/platform/logger"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

// harness wires a worker, aggregator, reaper and service over in-memory
// mocks that share one clock.
type harness struct {
	t *testing.T

	now       time.Time
	tasks     *mocks.MockTaskStore
	outbox    *mocks.MockWebhookEventStore
	emails    *mocks.MockEmailStore
	tx        *mocks.MockTransactor
	templates *mocks.MockTemplateLookup
	storage   *mocks.MockDocumentStorage
	converter *mocks.MockConverter
	extractor *mocks.MockExtractor
	webhooks  *mocks.MockWebhookConfigLookup
	emitter   *events.InMemoryEventEmitter
	emitted   []*events.GroupCompletedEvent

	logs *logger.LogBuffer
	log  *slog.Logger

	worker     *ExtractionWorker
	aggregator *CompletionAggregator
	reaper     *StuckTaskReaper
	service    *Service

	tenantID uuid.UUID
	email    domain.EmailInfo
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		t:         t,
		now:       testNow,
		tasks:     mocks.NewMockTaskStore(),
		outbox:    mocks.NewMockWebhookEventStore(),
		emails:    mocks.NewMockEmailStore(),
		tx:        &mocks.MockTransactor{},
		templates: &mocks.MockTemplateLookup{Templates: map[string]string{"invoice": "templates/invoice.json"}},
		storage:   mocks.NewMockDocumentStorage(),
		converter: &mocks.MockConverter{},
		extractor: &mocks.MockExtractor{},
		tenantID:  uuid.New(),
	}
	h.logs, h.log = logger.NewBufferLogger()
	h.webhooks = &mocks.MockWebhookConfigLookup{Configs: map[uuid.UUID]domain.WebhookConfig{
		h.tenantID: {Enabled: true, URL: "https://hooks.example.test/in"},
	}}

	h.emitter = events.NewInMemoryEventEmitter(h.log)
	h.emitter.RegisterHandler(events.EventHandlerFunc(func(_ context.Context, e *events.GroupCompletedEvent) error {
		h.emitted = append(h.emitted, e)
		return nil
	}))

	h.email = domain.EmailInfo{
		ID:            uuid.New(),
		TenantID:      h.tenantID,
		TenantCode:    "ACME",
		SenderEmail:   "billing@acme.test",
		Subject:       "March invoices",
		CorrelationID: "corr-1",
	}

	clock := func() time.Time { return h.now }

	var err error
	h.aggregator, err = NewCompletionAggregator(AggregatorDeps{
		Tasks:    h.tasks,
		Emails:   h.emails,
		Outbox:   h.outbox,
		Tx:       h.tx,
		Webhooks: h.webhooks,
		Emitter:  h.emitter,
	}, h.log)
	require.NoError(t, err)
	h.aggregator.now = clock

	h.worker, err = NewExtractionWorker(WorkerDeps{
		Tasks:      h.tasks,
		Outbox:     h.outbox,
		Emails:     h.emails,
		Tx:         h.tx,
		Templates:  h.templates,
		Storage:    h.storage,
		Converter:  h.converter,
		Extractor:  h.extractor,
		Webhooks:   h.webhooks,
		Aggregator: h.aggregator,
	}, DefaultWorkerConfig(), h.log)
	require.NoError(t, err)
	h.worker.now = clock

	h.reaper, err = NewStuckTaskReaper(h.tasks, h.aggregator, DefaultReaperConfig(), h.log)
	require.NoError(t, err)
	h.reaper.now = clock

	h.service, err = NewService(ServiceDeps{
		Tasks:      h.tasks,
		Emails:     h.emails,
		Tx:         h.tx,
		Aggregator: h.aggregator,
	}, 0, h.log)
	require.NoError(t, err)
	h.service.now = clock

	return h
}

// seedEmail registers the email with one attachment per filename and
// enqueues a task for each. Tasks are created one second apart.
func (h *harness) seedEmail(filenames ...string) []*domain.ExtractionTask {
	h.t.Helper()

	names := make(map[uuid.UUID]string, len(filenames))
	tasks := make([]*domain.ExtractionTask, 0, len(filenames))
	for i, name := range filenames {
		attachmentID := uuid.New()
		names[attachmentID] = name
		path := "inbox/" + name
		h.storage.Documents[path] = []byte("%PDF " + name)

		task, err := domain.NewExtractionTask(domain.NewTaskParams{
			EmailID:      h.email.ID,
			AttachmentID: attachmentID,
			TenantID:     h.tenantID,
			PDFPath:      path,
			Source:       "invoice",
		}, h.now.Add(time.Duration(i)*time.Second))
		require.NoError(h.t, err)
		tasks = append(tasks, task)
	}
	h.emails.AddEmail(h.email, names)
	h.tasks.Put(tasks...)
	return tasks
}

func (h *harness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

func (h *harness) task(id uuid.UUID) *domain.ExtractionTask {
	h.t.Helper()
	t := h.tasks.Task(id)
	require.NotNil(h.t, t)
	return t
}

func (h *harness) eventsOfType(eventType string) []*domain.WebhookEvent {
	var out []*domain.WebhookEvent
	for _, e := range h.outbox.All() {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}
