// Package errors defines the pipeline's error taxonomy. Sentinel errors
// classify failures by how the caller should react: retry, retry after a
// delay, skip and log, or abort startup.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrTransient marks network or infrastructure hiccups that are safe to
	// retry immediately.
	ErrTransient = errors.New("transient infrastructure error")
	// ErrRateLimited marks external-service throttling; retryable after a
	// backoff delay.
	ErrRateLimited = errors.New("rate limited")
	// ErrMalformedInput marks unparseable documents or undecodable message
	// payloads. Not retryable; skip and log.
	ErrMalformedInput = errors.New("malformed input")
	// ErrSchemaMismatch marks registry/schema incompatibilities. Not
	// retryable; skip and log.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrConfig marks missing or invalid configuration. The only class that
	// may terminate the process, and only before any work begins.
	ErrConfig = errors.New("invalid configuration")
)

// PipelineError wraps a sentinel with a human-readable message.
type PipelineError struct {
	Err     error
	Message string
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// New wraps a sentinel error with a message.
func New(sentinel error, message string) *PipelineError {
	return &PipelineError{Err: sentinel, Message: message}
}

// Newf wraps a sentinel error with a formatted message.
func Newf(sentinel error, format string, args ...any) *PipelineError {
	return &PipelineError{Err: sentinel, Message: fmt.Sprintf(format, args...)}
}

// Retryable reports whether err belongs to a retryable class.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}
