package taskstore

import (
	"errors"
	"fmt"
)

// Category classifies a task store failure for retry decisions.
type Category string

const (
	// CategoryTransient failures (429, 502, 503, 504, connection errors)
	// are retried with backoff.
	CategoryTransient Category = "transient"
	// CategoryPermanent failures (other non-2xx responses, malformed
	// payloads) fail immediately.
	CategoryPermanent Category = "permanent"
	// CategoryBusiness failures are HTTP 2xx responses carrying a non-zero
	// business code. They are never retried.
	CategoryBusiness Category = "business"
)

var (
	// ErrIllegalTransition is returned for a status write that is not on
	// the transition graph. Nothing is sent.
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrInvalidTableURL is returned when the table link cannot be parsed.
	ErrInvalidTableURL = errors.New("invalid table url")
	// ErrNotConfigured is returned when credentials or the table are missing.
	ErrNotConfigured = errors.New("task store not configured")
)

// Error is a failed task store call.
type Error struct {
	Op         string
	Category   Category
	StatusCode int // HTTP status, 0 for connection errors
	Code       int // business code from the response body
	Msg        string
	Attempts   int
	Err        error
}

func (e *Error) Error() string {
	var detail string
	switch {
	case e.Category == CategoryBusiness:
		detail = fmt.Sprintf("business code %d: %s", e.Code, e.Msg)
	case e.StatusCode != 0:
		detail = fmt.Sprintf("http %d", e.StatusCode)
		if e.Msg != "" {
			detail += ": " + e.Msg
		}
	case e.Err != nil:
		detail = e.Err.Error()
	default:
		detail = e.Msg
	}
	if e.Attempts > 1 {
		detail += fmt.Sprintf(" (after %d attempts)", e.Attempts)
	}
	return fmt.Sprintf("taskstore %s: %s", e.Op, detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure may succeed on a later attempt.
func (e *Error) Retryable() bool { return e.Category == CategoryTransient }

// IsBusiness reports whether err is a business-code failure.
func IsBusiness(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Category == CategoryBusiness
}

// IsRetryable reports whether err is a transient task store failure.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable()
}
