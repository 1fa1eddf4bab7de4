package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/couriermsg/courier/internal/action"
)

// HTTPClient is the default Transport: JSON over HTTP against the
// message service's /messages and /actions endpoints.
type HTTPClient struct {
	Base string
	HTTP *http.Client
}

// NewHTTP creates a client for the given base URL. A zero timeout
// falls back to 15s; per-send deadlines beyond that are the caller's
// context's business.
func NewHTTP(base string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		Base: base,
		HTTP: &http.Client{Timeout: timeout},
	}
}

var _ Transport = (*HTTPClient)(nil)

type sendRequest struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	ContentType    string `json:"contentType"`
	QueueID        string `json:"queueId"`
}

type executeRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Send delivers one queued message.
func (c *HTTPClient) Send(ctx context.Context, conversationID, content, contentType, queueID string) error {
	return c.post(ctx, "/messages", sendRequest{
		ConversationID: conversationID,
		Content:        content,
		ContentType:    contentType,
		QueueID:        queueID,
	})
}

// Execute replays one offline action.
func (c *HTTPClient) Execute(ctx context.Context, kind action.Kind, payload json.RawMessage) error {
	return c.post(ctx, "/actions", executeRequest{Type: string(kind), Data: payload})
}

// Healthy probes the service; used by the daemon's connectivity
// watcher to flip the engine online and offline.
func (c *HTTPClient) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (c *HTTPClient) post(ctx context.Context, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode}
	}
	return nil
}
