// Package storeerr defines the fixed error vocabulary the communal brain
// uses across its storage, device, conversation, and worker packages, so
// callers can branch on a small classified set instead of on backend-
// specific error strings.
//
// Grounded on beeper-ai-bridge's pkg/aierrors (MapErrorToStateCode's
// "classify an underlying error into a small fixed vocabulary" shape),
// generalized to this repo's own Kind enum rather than Matrix bridge-state
// codes.
package storeerr

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Kind is the classified category of a storage/brain-level error.
type Kind string

const (
	// NotInitialized is returned when an operation is attempted on a
	// component before its Initialize/Open has completed.
	NotInitialized Kind = "not_initialized"
	// InvalidArgument is returned for caller-supplied input that fails
	// validation (empty id, mismatched vector length, unknown device).
	InvalidArgument Kind = "invalid_argument"
	// NotFound is returned when a requested record does not exist.
	NotFound Kind = "not_found"
	// StorageTransient is returned for errors expected to clear on retry
	// (lock contention, a momentarily unavailable connection).
	StorageTransient Kind = "storage_transient"
	// StorageFatal is returned for errors that will not clear on retry
	// (corrupt database file, schema mismatch, disk full).
	StorageFatal Kind = "storage_fatal"
	// ExternalUnavailable is returned when an embedding or generator
	// provider call fails.
	ExternalUnavailable Kind = "external_unavailable"
	// CancelRequested is returned when a caller-supplied context was
	// canceled mid-operation.
	CancelRequested Kind = "cancel_requested"
)

// Error is the concrete error type returned by this repo's packages. It
// wraps an underlying cause (if any) and classifies it under one Kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// sentinels let callers do errors.Is(err, storeerr.ErrNotFound) without
// needing a typed *Error of their own to compare against.
var (
	ErrNotInitialized     = &Error{Kind: NotInitialized, Message: "not initialized"}
	ErrInvalidArgument    = &Error{Kind: InvalidArgument, Message: "invalid argument"}
	ErrNotFound           = &Error{Kind: NotFound, Message: "not found"}
	ErrStorageTransient   = &Error{Kind: StorageTransient, Message: "storage transient error"}
	ErrStorageFatal       = &Error{Kind: StorageFatal, Message: "storage fatal error"}
	ErrExternalUnavailable = &Error{Kind: ExternalUnavailable, Message: "external provider unavailable"}
	ErrCancelRequested    = &Error{Kind: CancelRequested, Message: "operation canceled"}
)

// New builds an *Error of the given kind, wrapping cause if non-nil.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is classified under kind, supporting
// errors.Is(err, storeerr.ErrNotFound)-style checks against the sentinels
// above, and matching by Kind for any other *Error in the chain.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Classify maps a generic error (e.g. from database/sql) onto a Kind,
// mirroring MapErrorToStateCode's "look at the underlying error and bucket
// it" approach. Errors already wrapped as *Error pass through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, sql.ErrNoRows) {
		return New(NotFound, "no matching row", err)
	}
	if errors.Is(err, context.Canceled) {
		return New(CancelRequested, "context canceled", err)
	}
	return New(StorageFatal, "unclassified storage error", err)
}

// Wrap returns a sentinel-compatible *Error of kind wrapping err, suitable
// for fmt.Errorf-style context attachment at call sites:
// storeerr.Wrap(storeerr.NotFound, err, "memory %s", id).
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...), cause)
}
