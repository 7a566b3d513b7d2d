// Package converter calls the document conversion service that turns a PDF
// into a structured JSON representation.
package converter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/phrazzld/mailpipe/internal/domain"
)

// maxResponseBytes bounds the size of a converted document.
const maxResponseBytes = 32 << 20

// ErrEmptyURL is returned when the client is built without a service URL.
var ErrEmptyURL = errors.New("converter URL cannot be empty")

// HTTPClient implements task.Converter against an HTTP conversion service.
type HTTPClient struct {
	url    string
	client *http.Client
}

// NewHTTPClient creates an HTTPClient posting to url.
func NewHTTPClient(url string, timeout time.Duration) (*HTTPClient, error) {
	if url == "" {
		return nil, ErrEmptyURL
	}
	return &HTTPClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Convert implements task.Converter. Failures wrap domain.ErrConversion.
func (c *HTTPClient) Convert(ctx context.Context, document []byte) (json.RawMessage, error) {
	if len(document) == 0 {
		return nil, fmt.Errorf("%w: document is empty", domain.ErrConversion)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(document))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", domain.ErrConversion, err)
	}
	req.Header.Set("Content-Type", "application/pdf")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConversion, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", domain.ErrConversion, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: converter api error: %d", domain.ErrConversion, resp.StatusCode)
	}
	if len(body) > maxResponseBytes {
		return nil, fmt.Errorf("%w: response exceeds %d bytes", domain.ErrConversion, maxResponseBytes)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: response is not valid JSON", domain.ErrConversion)
	}

	return json.RawMessage(body), nil
}
