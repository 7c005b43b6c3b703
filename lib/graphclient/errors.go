package graphclient

import (
	"errors"
	"fmt"
)

// ErrMissingCredential means no access token could be resolved for a
// client. Nothing can proceed without one, so callers should treat it as
// fatal for the whole run.
var ErrMissingCredential = errors.New("no access token configured")

// RateLimitError is returned once the retry budget for rate-limited
// responses is exhausted.
type RateLimitError struct {
	// Attempts is the total number of requests issued, initial try included.
	Attempts int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("still rate limited after %d attempts", e.Attempts)
}

// UpstreamError is any non-2xx, non-rate-limit response. It is never
// retried: those statuses signal a bad request or missing permission, not
// transient overload.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	body := e.Body
	if len(body) > 400 {
		body = body[:400]
	}
	return fmt.Sprintf("upstream status %d: %s", e.Status, body)
}
