// Package transport defines the remote delivery contract the sync
// engine drives. The engine never inspects responses beyond
// success/failure and an optional HTTP status; everything else
// (timeouts, auth, endpoint shape) belongs to the implementation.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/couriermsg/courier/internal/action"
)

// Transport delivers queued messages and replays offline actions
// against the remote message service.
type Transport interface {
	Send(ctx context.Context, conversationID, content, contentType, queueID string) error
	Execute(ctx context.Context, kind action.Kind, payload json.RawMessage) error
}

// HTTPError carries a non-2xx response status through the error chain.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// Retryable classifies a delivery failure. Client errors are
// definitive and retrying them would never succeed; everything else
// (network failure, server error, throttling) is worth another
// attempt.
func Retryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		return httpErr.StatusCode < 400 || httpErr.StatusCode >= 500
	}
	return true
}
