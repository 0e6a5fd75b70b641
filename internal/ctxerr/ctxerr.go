// Package ctxerr defines the error kinds shared by every ctxengine component.
//
// Each error carries the operation that failed and a Kind. Callers branch on
// the kind with errors.Is against the exported sentinels or with KindOf;
// outer surfaces (MCP tools, CLI) turn an error into a (kind, message) pair
// with Public so internal detail never leaks.
package ctxerr

import (
	"context"
	"errors"
	"fmt"
)

// Kind categorizes an error.
type Kind string

// Error kinds.
const (
	KindValidation            Kind = "validation"
	KindNotFound              Kind = "not_found"
	KindCapabilityUnavailable Kind = "capability_unavailable"
	KindProviderTimeout       Kind = "provider_timeout"
	KindSourceUnavailable     Kind = "source_unavailable"
	KindStorageFailure        Kind = "storage_failure"
	KindInternal              Kind = "internal"
)

// Sentinels usable with errors.Is. Matching is by kind only.
var (
	ErrValidation            = &Error{Kind: KindValidation}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrCapabilityUnavailable = &Error{Kind: KindCapabilityUnavailable}
	ErrProviderTimeout       = &Error{Kind: KindProviderTimeout}
	ErrSourceUnavailable     = &Error{Kind: KindSourceUnavailable}
	ErrStorageFailure        = &Error{Kind: KindStorageFailure}
)

// Error is a structured error with the failing operation and its kind.
type Error struct {
	// Op is the operation that failed, e.g. "memory.Add".
	Op   string
	Kind Kind
	// Msg is a caller-safe description. It must never contain user content
	// that could be sensitive.
	Msg string
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. An empty Op on
// the target matches any operation.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Op == "" || t.Op == e.Op
}

// E builds an *Error.
func E(op string, kind Kind, msg string, err error) *Error {
	return &Error{Op: op, Kind: kind, Msg: msg, Err: err}
}

// Validation returns a validation error with a formatted message.
func Validation(op, format string, args ...any) *Error {
	return E(op, KindValidation, fmt.Sprintf(format, args...), nil)
}

// NotFound returns a not-found error for the given id.
func NotFound(op, id string) *Error {
	return E(op, KindNotFound, fmt.Sprintf("%q not found", id), nil)
}

// CapabilityUnavailable reports that an optional capability is missing.
func CapabilityUnavailable(op, capability string) *Error {
	return E(op, KindCapabilityUnavailable, capability+" is not available", nil)
}

// Storage wraps a failure of the durable store.
func Storage(op string, err error) *Error {
	return E(op, KindStorageFailure, "", err)
}

// Provider classifies a failure of an external call (embedding provider,
// remote source). Deadline overruns become ProviderTimeout, everything else
// SourceUnavailable. Errors that already carry a kind keep it.
func Provider(op string, err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return E(op, ce.Kind, ce.Msg, ce.Err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return E(op, KindProviderTimeout, "deadline exceeded", err)
	}
	return E(op, KindSourceUnavailable, "", err)
}

// KindOf returns the kind of err, or KindInternal if err carries none.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// Is reports whether err has the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Public returns the kind and a message suitable for external callers.
// The wrapped cause is never included.
func Public(err error) (Kind, string) {
	var ce *Error
	if !errors.As(err, &ce) {
		return KindInternal, "internal error"
	}
	if ce.Msg != "" {
		return ce.Kind, ce.Msg
	}
	return ce.Kind, string(ce.Kind)
}
