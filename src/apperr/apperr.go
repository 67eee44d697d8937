package apperr

import (
	"errors"
	"fmt"
)

// Kind is the failure class a caller uses to pick a recovery: retry for
// OracleError, fix parameters for ValidationError, and so on.
type Kind string

const (
	KindValidation  Kind = "ValidationError"
	KindUnsupported Kind = "UnsupportedFeature"
	KindOracle      Kind = "OracleError"
	KindCapacity    Kind = "CapacityError"
	KindInvariant   Kind = "InvariantViolation"
	KindPermission  Kind = "PermissionError"
	KindNotFound    Kind = "NotFound"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches on Code, so wrapped sentinels compare equal through fmt.Errorf("%w").
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Code == e.Code
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// KindOf returns the taxonomy tag of err, or "" when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the stable code of err, or "" when err carries none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Validation wraps a one-off validation failure that has no sentinel.
func Validation(code, format string, args ...any) error {
	return New(KindValidation, code, fmt.Sprintf(format, args...))
}

// Invariant reports an internal consistency failure. Callers abort the whole operation.
func Invariant(code, format string, args ...any) error {
	return New(KindInvariant, code, fmt.Sprintf(format, args...))
}
