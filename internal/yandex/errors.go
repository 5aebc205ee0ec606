package yandex

import (
	"errors"
	"fmt"
)

// Sentinel errors for the deferred search client.
var (
	// ErrNightWindow signals that deferred creation was attempted outside
	// the quiet window. Callers treat it as an expected skip, not a failure.
	ErrNightWindow = errors.New("deferred search creation is only allowed inside the night window (00:00-07:59 local)")

	// ErrOperationTimeout signals that an operation did not complete before
	// the wait deadline. The operation stays running and can be re-polled.
	ErrOperationTimeout = errors.New("deferred operation did not complete in time")

	// ErrInvalidResponse signals a completed operation without the expected
	// response payload.
	ErrInvalidResponse = errors.New("operation response has no rawData payload")
)

// APIError is a non-2xx reply from the search or operations endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("yandex api: status %d: %s", e.StatusCode, e.Body)
}
