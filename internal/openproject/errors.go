package openproject

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("openproject: not found")
	// ErrConflict is returned when the server rejects a write because the
	// supplied lockVersion is stale.
	ErrConflict = errors.New("openproject: update conflict")
	ErrBadDate  = errors.New("openproject: invalid date")
)

const conflictIdentifier = "UpdateConflict"

// APIError is a non-2xx response from the API.
type APIError struct {
	Method     string
	Path       string
	Status     int
	Identifier string // errorIdentifier without the urn prefix
	Message    string

	retryAfter time.Duration
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "openproject: %s %s: status %d", e.Method, e.Path, e.Status)
	if e.Identifier != "" {
		b.WriteString(" (")
		b.WriteString(e.Identifier)
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrConflict:
		return e.Status == 409 || e.Identifier == conflictIdentifier
	case ErrNotFound:
		return e.Status == 404
	}
	return false
}

// Retryable reports whether a GET that failed with this error may be retried.
func (e *APIError) Retryable() bool {
	switch e.Status {
	case 429, 502, 503, 504:
		return true
	}
	return false
}

// RetryAfter is the server-provided delay hint (0 if none).
func (e *APIError) RetryAfter() time.Duration { return e.retryAfter }
