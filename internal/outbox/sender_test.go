package outbox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/mailpipe/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSign(t *testing.T) {
	t.Parallel()

	// Known vector: HMAC-SHA256("key", "The quick brown fox jumps over the lazy dog").
	got := Sign("key", []byte("The quick brown fox jumps over the lazy dog"))
	assert.Equal(t, "sha256=f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8", got)

	assert.True(t, Verify("key", []byte("The quick brown fox jumps over the lazy dog"), got))
	assert.False(t, Verify("other", []byte("The quick brown fox jumps over the lazy dog"), got))
	assert.False(t, Verify("key", []byte("tampered"), got))
}

func TestHTTPSender_Status(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"ok", http.StatusOK, false},
		{"no content", http.StatusNoContent, false},
		{"redirect is not success", http.StatusMultipleChoices, true},
		{"client error", http.StatusBadRequest, true},
		{"server error", http.StatusServiceUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			e, err := domain.NewWebhookEvent(uuid.New(), domain.EventTypeTaskCompleted, domain.EntityTypeTask,
				uuid.New(), []byte(`{"a":1}`), time.Now())
			require.NoError(t, err)

			err = NewHTTPSender(time.Second).Send(context.Background(),
				domain.WebhookConfig{Enabled: true, URL: srv.URL}, e)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrDelivery)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestHTTPSender_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	e, err := domain.NewWebhookEvent(uuid.New(), domain.EventTypeTaskCompleted, domain.EntityTypeTask,
		uuid.New(), []byte(`{}`), time.Now())
	require.NoError(t, err)

	err = NewHTTPSender(50*time.Millisecond).Send(context.Background(),
		domain.WebhookConfig{Enabled: true, URL: srv.URL}, e)
	assert.ErrorIs(t, err, domain.ErrDelivery)
}
