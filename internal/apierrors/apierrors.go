// Package apierrors defines the error taxonomy shared by every layer
// (storage, bridge, llm, queue, httpapi) as typed surface codes, so
// callers switch on a Kind instead of importing concrete error types.
// Errors still wrap their lower-level cause for logs.
package apierrors

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation          Kind = "validation"
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindAuth                Kind = "auth"
	KindStorageUnavailable  Kind = "storage_unavailable"
	KindBridgeUnreachable   Kind = "bridge_unreachable"
	KindProviderAuth        Kind = "provider_auth_error"
	KindProviderRateLimited Kind = "provider_rate_limited"
	KindProviderInvalid     Kind = "provider_invalid_request"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindProviderTimeout     Kind = "provider_timeout"
	KindCrypto              Kind = "crypto_error"
	KindInternal            Kind = "internal"
)

// Error is the concrete error type carrying a Kind and an optional wrapped
// cause. Surface code (Kind) is what callers across process/HTTP boundaries
// should inspect; the wrapped cause is for logs only.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an Error of the given kind around a lower-level cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Is reports whether err (or something it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to KindInternal for errors
// that were never classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
