package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorKind classifies engine failures so callers can react without parsing messages.
type ErrorKind string

const (
	KindNotFound        ErrorKind = "not_found"
	KindValidation      ErrorKind = "validation"
	KindConflict        ErrorKind = "conflict"
	KindAggregation     ErrorKind = "aggregation"
	KindInvalidArgument ErrorKind = "invalid_argument"
)

// Error is the typed failure returned by every core operation.
type Error struct {
	Kind    ErrorKind
	Message string
	Context map[string]any
	Err     error
}

// Sentinels for errors.Is matching. They match any *Error of the same kind.
var (
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrValidation      = &Error{Kind: KindValidation}
	ErrConflict        = &Error{Kind: KindConflict}
	ErrAggregation     = &Error{Kind: KindAggregation}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
)

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so that errors.Is(err, ErrNotFound) works for any not-found error.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// With attaches numeric or identifying context to the error.
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = map[string]any{}
	}
	e.Context[key] = value
	return e
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing or archived parent entity.
func NotFound(entity, id string) *Error {
	return newError(KindNotFound, "%s %s not found", entity, id)
}

// Validationf reports invalid caller input or an unmet precondition.
func Validationf(format string, args ...any) *Error {
	return newError(KindValidation, format, args...)
}

// Conflictf reports an operation on an entity in an incompatible state.
func Conflictf(format string, args ...any) *Error {
	return newError(KindConflict, format, args...)
}

// InvalidArgumentf reports malformed call arguments.
func InvalidArgumentf(format string, args ...any) *Error {
	return newError(KindInvalidArgument, format, args...)
}

// Aggregation wraps a failure raised while recomputing one batch item.
func Aggregation(ref CycleRef, err error) *Error {
	return &Error{Kind: KindAggregation, Message: "recalculate " + ref.String(), Err: err}
}

// KindOf extracts the error kind, or "" for untyped errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
