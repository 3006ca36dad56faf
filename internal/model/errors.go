package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by store lookups that match nothing.
var ErrNotFound = errors.New("not found")

// HTTPError is a non-2xx answer from a job source. The retry decorator uses
// StatusCode and RetryAfter to decide whether and when to try again.
type HTTPError struct {
	Source     string // source name, empty when unknown
	StatusCode int
	RetryAfter time.Duration // from Retry-After header, zero if absent
	Err        error
}

func (e *HTTPError) Error() string {
	prefix := fmt.Sprintf("HTTP %d", e.StatusCode)
	if e.Source != "" {
		prefix = e.Source + ": " + prefix
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	}
	return prefix
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// Temporary reports whether the status is worth retrying: rate limiting or
// a server-side failure.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
