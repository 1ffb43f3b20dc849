// Package apperr defines the error taxonomy shared by the governance core,
// the engine and the HTTP layer.
//
// Every failure returned by a public operation carries one of four kinds:
//   - NotFound: a task, proposal or actor does not exist
//   - PermissionDenied: the actor lacks the required capability
//   - Conflict: state precondition failed (status, uniqueness, points, cycle, team)
//   - Validation: malformed input
//
// Use IsKind / KindOf to classify, errors.As to get details.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error.
type Kind string

const (
	NotFound         Kind = "not_found"
	PermissionDenied Kind = "permission_denied"
	Conflict         Kind = "conflict"
	Validation       Kind = "validation"
)

// Error is a classified failure with optional structured details.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind with no message, so sentinels
// like ErrConflict work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

// With returns a copy of e carrying an extra detail.
func (e *Error) With(key string, value any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// Kind sentinels for errors.Is.
var (
	ErrNotFound         = &Error{Kind: NotFound}
	ErrPermissionDenied = &Error{Kind: PermissionDenied}
	ErrConflict         = &Error{Kind: Conflict}
	ErrValidation       = &Error{Kind: Validation}
)

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) *Error { return newf(NotFound, format, args...) }

func PermissionDeniedf(format string, args ...any) *Error {
	return newf(PermissionDenied, format, args...)
}

func Conflictf(format string, args ...any) *Error { return newf(Conflict, format, args...) }

func Validationf(format string, args ...any) *Error { return newf(Validation, format, args...) }

// Wrap classifies cause under kind. A nil cause yields nil.
func Wrap(kind Kind, cause error, message string) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
