// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package errdef defines the backend error taxonomy. Every error that
// crosses a package boundary carries a stable kind, extracted at the API
// surface via KindOf.
package errdef

import (
	"errors"
	"fmt"
)

// Kind is the stable error classification code surfaced to clients.
type Kind string

const (
	KindConfig              Kind = "ConfigError"
	KindNotFound            Kind = "NotFound"
	KindPermissionDenied    Kind = "PermissionDenied"
	KindConflict            Kind = "ConflictError"
	KindUnavailable         Kind = "Unavailable"
	KindInvalidInput        Kind = "InvalidInput"
	KindPlaybackUnsupported Kind = "PlaybackUnsupported"
	KindCapabilityMismatch  Kind = "CapabilityMismatch"
	KindArtifactCorrupt     Kind = "ArtifactCorrupt"
	KindInternal            Kind = "Internal"
)

// Error is a classified error. Msg is human-readable; Err is the wrapped
// cause, if any.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg != "" {
			return e.Msg + ": " + e.Err.Error()
		}
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so errors.Is(err, &Error{Kind: k}) works across
// wrapping chains.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New returns a classified error with a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. A nil cause returns nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// NotFound is shorthand for New(KindNotFound, ...).
func NotFound(format string, args ...any) error {
	return New(KindNotFound, format, args...)
}

// Invalid is shorthand for New(KindInvalidInput, ...).
func Invalid(format string, args ...any) error {
	return New(KindInvalidInput, format, args...)
}

// Conflict is shorthand for New(KindConflict, ...).
func Conflict(format string, args ...any) error {
	return New(KindConflict, format, args...)
}

// Unavailable is shorthand for New(KindUnavailable, ...).
func Unavailable(format string, args ...any) error {
	return New(KindUnavailable, format, args...)
}

// KindOf walks the error chain and returns the first classification found,
// or KindInternal when the chain carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether the chain classifies as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether the kind maps to a retryable client response.
// Only transient unavailability qualifies.
func Retryable(err error) bool {
	return IsKind(err, KindUnavailable)
}
