package streaming

import (
	"context"
	"errors"
	"strings"
)

// AbortError marks a stream stopped by the user. Its message always contains
// "AbortError" so callers that only see the text can still classify it.
type AbortError struct {
	Cause error
}

func (e *AbortError) Error() string {
	if e.Cause != nil {
		return "AbortError: " + e.Cause.Error()
	}
	return "AbortError: request aborted"
}

func (e *AbortError) Unwrap() error {
	return e.Cause
}

// IsAbort reports whether err is a user-initiated cancellation.
func IsAbort(err error) bool {
	if err == nil {
		return false
	}
	var abortErr *AbortError
	if errors.As(err, &abortErr) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	return strings.Contains(err.Error(), "AbortError")
}

// normalizeError turns context cancellation into an *AbortError.
func normalizeError(err error) error {
	if err == nil {
		return nil
	}
	var abortErr *AbortError
	if errors.As(err, &abortErr) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return &AbortError{Cause: err}
	}
	return err
}
