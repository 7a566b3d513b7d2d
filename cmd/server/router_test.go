package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/phrazzld/mailpipe/internal/auth"
	"github.com/phrazzld/mailpipe/internal/config"
	"github.com/phrazzld/mailpipe/internal/domain"
	"github.com/phrazzld/mailpipe/internal/mocks"
	"github.com/phrazzld/mailpipe/internal/outbox"
	"github.com/phrazzld/mailpipe/internal/platform/logger"
	"github.com/phrazzld/mailpipe/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-long-enough-for-testing"

func newTestApp(t *testing.T) (*application, *auth.TokenService, sqlmock.Sqlmock, *mocks.MockTaskStore) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, log := logger.NewBufferLogger()
	tokens, err := auth.NewTokenService(testSecret, time.Hour)
	require.NoError(t, err)

	tasks := mocks.NewMockTaskStore()
	taskSvc, err := task.NewService(task.ServiceDeps{
		Tasks:      tasks,
		Emails:     mocks.NewMockEmailStore(),
		Tx:         &mocks.MockTransactor{},
		Aggregator: &mocks.MockAggregator{},
	}, 3, log)
	require.NoError(t, err)
	eventSvc, err := outbox.NewService(mocks.NewMockWebhookEventStore(), log)
	require.NoError(t, err)

	app := &application{
		config:         &config.Config{},
		logger:         log,
		db:             db,
		taskService:    taskSvc,
		webhookService: eventSvc,
		tokens:         tokens,
	}
	return app, tokens, mock, tasks
}

func TestRouter_RequiresOperatorToken(t *testing.T) {
	t.Parallel()

	app, tokens, _, tasks := newTestApp(t)
	router := app.setupRouter()

	stored := &domain.ExtractionTask{
		ID:          uuid.New(),
		EmailID:     uuid.New(),
		TenantID:    uuid.New(),
		PDFPath:     "acme/inv.pdf",
		Source:      "invoice",
		Status:      domain.TaskStatusPending,
		MaxAttempts: 3,
		CreatedAt:   time.Now().UTC(),
	}
	tasks.Put(stored)

	r := httptest.NewRequest(http.MethodGet, "/api/tasks/"+stored.ID.String(), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := tokens.Generate(context.Background(), "oncall")
	require.NoError(t, err)

	r = httptest.NewRequest(http.MethodGet, "/api/tasks/"+stored.ID.String(), nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, stored.ID.String(), body["id"])
	assert.NotEmpty(t, w.Header().Get("Content-Type"))
}

func TestRouter_Health(t *testing.T) {
	t.Parallel()

	app, _, mock, _ := newTestApp(t)
	router := app.setupRouter()

	mock.ExpectPing()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetupRunner(t *testing.T) {
	t.Parallel()

	_, log := logger.NewBufferLogger()
	cfg := &config.Config{
		Worker: config.WorkerConfig{Interval: time.Second},
		Reaper: config.ReaperConfig{Interval: time.Minute},
		Outbox: config.OutboxConfig{Interval: time.Second},
	}

	runner, err := setupRunner(cfg, log, nil, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, runner)

	cfg.Worker.Interval = 0
	_, err = setupRunner(cfg, log, nil, nil, nil)
	assert.ErrorContains(t, err, "interval must be positive")
}
