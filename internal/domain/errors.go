package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Common domain errors
var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInsufficientSpace = errors.New("insufficient space")

	// Job errors
	ErrJobNotFound            = errors.New("download job not found")
	ErrJobTerminal            = errors.New("download job is in a terminal state")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrNoVariants             = errors.New("manifest has no playable variants")
	ErrSizeMismatch           = errors.New("assembled size does not match expected size")
)

// SkippableError represents an error that can be logged and skipped.
// Processing can continue with the next item when this error occurs.
type SkippableError struct {
	Err     error
	Context string
}

// Error returns the error message
func (e *SkippableError) Error() string {
	if e.Context != "" {
		if e.Err != nil {
			return e.Context + ": " + e.Err.Error()
		}
		return e.Context
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "skippable error"
}

// Unwrap returns the underlying error
func (e *SkippableError) Unwrap() error {
	return e.Err
}

// NewSkippableError creates a new skippable error
func NewSkippableError(err error, context string) *SkippableError {
	return &SkippableError{Err: err, Context: context}
}

// IsSkippable returns true if the error can be skipped
func IsSkippable(err error) bool {
	var se *SkippableError
	return errors.As(err, &se)
}

// RetryableError represents an error that should trigger a retry.
type RetryableError struct {
	Err        error
	RetryAfter time.Duration
}

// Error returns the error message
func (e *RetryableError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "retryable error"
}

// Unwrap returns the underlying error
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error, retryAfter time.Duration) *RetryableError {
	return &RetryableError{Err: err, RetryAfter: retryAfter}
}

// NetworkError is a connection reset, timeout or truncated body.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	if e.Err == nil {
		return "network error: " + e.Op
	}
	return "network error: " + e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPStatusError is an unexpected HTTP response status.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	RetryAfter time.Duration
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s for %s", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// Retryable reports whether the status is worth retrying.
func (e *HTTPStatusError) Retryable() bool {
	switch {
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	}
	return false
}

// RangeMismatchError means the server ignored or mangled a byte-range request.
type RangeMismatchError struct {
	Requested string
	Got       string
}

func (e *RangeMismatchError) Error() string {
	return fmt.Sprintf("range mismatch: requested %q, got %q", e.Requested, e.Got)
}

// ChecksumMismatchError means a segment read back differently than it streamed.
type ChecksumMismatchError struct {
	SegmentID int
	Expected  string
	Actual    string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("segment %d checksum mismatch: expected %s, got %s", e.SegmentID, e.Expected, e.Actual)
}

// ManifestParseError means a manifest was malformed or unsupported.
type ManifestParseError struct {
	URL    string
	Reason string
	Err    error
}

func (e *ManifestParseError) Error() string {
	msg := "manifest parse error"
	if e.URL != "" {
		msg += " (" + e.URL + ")"
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ManifestParseError) Unwrap() error { return e.Err }

// DRMProtectedError means the stream is encrypted with a DRM scheme.
type DRMProtectedError struct {
	Scheme string
}

func (e *DRMProtectedError) Error() string {
	if e.Scheme == "" {
		return "content is DRM protected"
	}
	return "content is DRM protected (" + e.Scheme + ")"
}

// ResourceExhaustedError means a segment used up its retries.
type ResourceExhaustedError struct {
	SegmentID int
	Attempts  int
	Err       error
}

func (e *ResourceExhaustedError) Error() string {
	msg := fmt.Sprintf("segment %d failed after %d attempts", e.SegmentID, e.Attempts)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResourceExhaustedError) Unwrap() error { return e.Err }

// IsRetryable returns true if the error should be retried
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var (
		re  *RetryableError
		ne  *NetworkError
		he  *HTTPStatusError
		rme *RangeMismatchError
		cme *ChecksumMismatchError
	)
	switch {
	case errors.As(err, &re), errors.As(err, &ne), errors.As(err, &rme), errors.As(err, &cme):
		return true
	case errors.As(err, &he):
		return he.Retryable()
	}
	return false
}

// IsCancellation reports whether err comes from a cancelled context.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

// GetRetryAfter returns the retry duration if the error is retryable
func GetRetryAfter(err error) (time.Duration, bool) {
	var re *RetryableError
	if errors.As(err, &re) {
		return re.RetryAfter, true
	}
	var he *HTTPStatusError
	if errors.As(err, &he) && he.Retryable() && he.RetryAfter > 0 {
		return he.RetryAfter, true
	}
	return 0, false
}
