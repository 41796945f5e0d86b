package kraft

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound = errors.New("resource not found")
	// ErrConflict is returned by inserts that hit a unique constraint. Callers
	// racing on the same row treat it as success and re-read.
	ErrConflict = errors.New("resource already exists")
	// ErrResolutionNotFound means the index has no playable data for an item.
	// It ends one resolution attempt; a later attempt may succeed.
	ErrResolutionNotFound = errors.New("no playable data for remote item")
)

// ParseError is a feed that could not be parsed at all. It is fatal for that
// feed only.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("error parsing feed: %s", e.Err)
	}
	return fmt.Sprintf("error parsing feed %s: %s", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// TransportError is a network failure or a non-2xx response.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("error fetching %s: unexpected status code: %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("error fetching %s: %s", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports whether trying again could plausibly succeed.
func (e *TransportError) Retryable() bool {
	return e.StatusCode == 0 ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}
