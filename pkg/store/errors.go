package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateKey is returned when an insert would violate the
	// append-only uniqueness of event_id (§4.A). Callers treat
	// this as success-by-idempotency, never as a failure to surface.
	ErrDuplicateKey = errors.New("store: duplicate key")

	// ErrDeferred is returned when an operation could not complete because
	// of a transient, store-specific condition — most notably BigQuery's
	// streaming-buffer rejection on rows inserted in roughly the last 30
	// minutes. Deferred operations are queued as pending updates and
	// retried later; they are never treated as permanent failures.
	ErrDeferred = errors.New("store: operation deferred")

	// ErrPermanent is returned when an operation fails in a way retrying
	// will not fix (malformed payload, schema mismatch). Permanent failures
	// are recorded on the triggering event's error_message and not retried.
	ErrPermanent = errors.New("store: permanent failure")

	// ErrNotFound is returned by MemoryAdapter's updates (FinalizeEvent,
	// CompletePending, FailPending) when the target row does not exist.
	// Lookups report a missing row with found=false instead.
	ErrNotFound = errors.New("store: not found")
)

// DeferredError wraps an underlying cause so callers can log why an
// operation was deferred while still matching it with errors.Is(err,
// ErrDeferred).
type DeferredError struct {
	Reason string
	Cause  error
}

func (e *DeferredError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("store: deferred (%s): %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("store: deferred (%s)", e.Reason)
}

func (e *DeferredError) Unwrap() error { return ErrDeferred }

// NewDeferredError builds a DeferredError, typically from a BigQuery
// streaming-buffer error surfaced during an UPDATE/DELETE/MERGE attempt.
func NewDeferredError(reason string, cause error) error {
	return &DeferredError{Reason: reason, Cause: cause}
}

// PermanentError wraps an underlying cause for errors.Is(err, ErrPermanent)
// matching while preserving the original message.
type PermanentError struct {
	Reason string
	Cause  error
}

func (e *PermanentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("store: permanent (%s): %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("store: permanent (%s)", e.Reason)
}

func (e *PermanentError) Unwrap() error { return ErrPermanent }

func NewPermanentError(reason string, cause error) error {
	return &PermanentError{Reason: reason, Cause: cause}
}

// IsStreamingBufferError reports whether err looks like BigQuery's
// streaming-buffer diagnostic: an HTTP 400 complaining that rows cannot be
// modified because they are still in the streaming buffer. BigQuery does
// not expose a typed error for this, only a message substring, so callers
// match on text the same way the upstream client libraries recommend.
func IsStreamingBufferError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "streaming buffer") ||
		strings.Contains(msg, "UPDATE or DELETE statement over table")
}
