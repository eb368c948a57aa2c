// Package nexuserr defines the closed set of error kinds handlers classify
// on (spec.md §7): whether to disconnect the connection or merely answer
// with an error frame. Errors are sentinel-wrapped so callers can use
// errors.Is/errors.As instead of string matching, the way the rest of the
// core reports failures with fmt.Errorf("...: %w", err).
package nexuserr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for dispatch purposes (§7).
type Kind int

const (
	KindValidation Kind = iota
	KindAuthenticationRequired
	KindPermissionDenied
	KindNotFound
	KindAlreadyExists
	KindConflict
	KindLimitExceeded
	KindDatabase
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthenticationRequired:
		return "authentication_required"
	case KindPermissionDenied:
		return "permission_denied"
	case KindNotFound:
		return "not_found"
	case KindAlreadyExists:
		return "already_exists"
	case KindConflict:
		return "conflict"
	case KindLimitExceeded:
		return "limit_exceeded"
	case KindDatabase:
		return "database"
	default:
		return "internal"
	}
}

// Disconnects reports whether a handler classified with this kind must tear
// down the connection (authentication/handshake failures) rather than just
// answer with an error frame (§7, §4.8 step 1/3).
func (k Kind) Disconnects() bool {
	return k == KindAuthenticationRequired
}

// Error is a classified, wrapped error carrying a machine-readable code in
// addition to its Kind (e.g. "invalid_path" for a Validation failure, per
// the path-traversal scenario in §8).
type Error struct {
	Kind Kind
	Code string
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

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newf(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Msg: fmt.Sprintf(format, args...)}
}

func Validation(code, format string, args ...any) *Error {
	return newf(KindValidation, code, format, args...)
}

func AuthenticationRequired(format string, args ...any) *Error {
	return newf(KindAuthenticationRequired, "not_logged_in", format, args...)
}

func PermissionDenied(format string, args ...any) *Error {
	return newf(KindPermissionDenied, "permission_denied", format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newf(KindNotFound, "not_found", format, args...)
}

func AlreadyExists(format string, args ...any) *Error {
	return newf(KindAlreadyExists, "already_exists", format, args...)
}

func Conflict(format string, args ...any) *Error {
	return newf(KindConflict, "conflict", format, args...)
}

func LimitExceeded(format string, args ...any) *Error {
	return newf(KindLimitExceeded, "limit_exceeded", format, args...)
}

func Database(err error) *Error {
	return &Error{Kind: KindDatabase, Code: "database", Msg: "persistence failure", Err: err}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: "internal", Msg: "internal error", Err: err}
}

// Wrap classifies a plain error under the given kind and code, preserving it via %w-style
// unwrapping, for call sites that received an error from a layer that does
// not itself produce *Error values.
func Wrap(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Msg: err.Error(), Err: err}
}

// As is a thin convenience wrapper over errors.As for *Error extraction.
func As(err error, target **Error) bool {
	return errors.As(err, target)
}
