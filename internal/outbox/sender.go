package outbox

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/phrazzld/mailpipe/internal/domain"
)

// Delivery request headers.
const (
	HeaderEvent     = "X-Webhook-Event"
	HeaderID        = "X-Webhook-Id"
	HeaderSignature = "X-Webhook-Signature"

	signaturePrefix = "sha256="
	userAgent       = "mailpipe-webhook/1.0"

	// maxErrorBody bounds how much of a rejection body is kept for last_error.
	maxErrorBody = 512
)

// Sender delivers one webhook event to a tenant endpoint.
type Sender interface {
	Send(ctx context.Context, target domain.WebhookConfig, event *domain.WebhookEvent) error
}

// HTTPSender POSTs the stored payload of an event verbatim.
type HTTPSender struct {
	client *http.Client
}

// NewHTTPSender creates an HTTPSender whose requests time out after timeout.
func NewHTTPSender(timeout time.Duration) *HTTPSender {
	return &HTTPSender{client: &http.Client{Timeout: timeout}}
}

// Send implements Sender. Any non-2xx response or transport error is
// returned wrapped in domain.ErrDelivery.
func (s *HTTPSender) Send(ctx context.Context, target domain.WebhookConfig, event *domain.WebhookEvent) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(event.Payload))
	if err != nil {
		return fmt.Errorf("%w: build request: %w", domain.ErrDelivery, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderEvent, event.EventType)
	req.Header.Set(HeaderID, event.ID.String())
	if target.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(target.Secret, event.Payload))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrDelivery, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if len(body) == 0 {
		return fmt.Errorf("%w: endpoint returned status %d", domain.ErrDelivery, resp.StatusCode)
	}
	return fmt.Errorf("%w: endpoint returned status %d: %s", domain.ErrDelivery, resp.StatusCode, bytes.TrimSpace(body))
}

// Sign returns the X-Webhook-Signature value for payload: the hex HMAC-SHA256
// of the raw body keyed by the tenant secret, prefixed with "sha256=".
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is a valid signature of payload.
func Verify(secret string, payload []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, payload)), []byte(signature))
}
