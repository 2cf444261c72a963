// Package xerrors defines the typed error hierarchy shared by every
// component: each error carries both a user-facing localized message key
// and an operator-facing log string, so command dispatchers can tell a
// bad command from a broken dependency without string-matching.
package xerrors

import "fmt"

// Kind classifies an error for metrics and logging purposes, per the
// four-kind taxonomy handlers are expected to distinguish.
type Kind int

const (
	// KindUser is a malformed command input: missing/invalid option,
	// unknown target. Surfaced to the requesting user, never logged at
	// error level.
	KindUser Kind = iota
	// KindTransient is a broker send failure, HTTP 5xx, SQL transient
	// error. Logged, not retried at this layer.
	KindTransient
	// KindStateInvariant is reaching a branch that should be unreachable
	// given the cache state machine, e.g. a member chunk for an
	// uncached guild. Logged at warning/error; the triggering event is
	// dropped.
	KindStateInvariant
	// KindFatal is a startup error: missing required configuration,
	// unsupported persisted config version, broken database migration.
	KindFatal
)

// String renders the kind the way the `USER_ERROR`/`SYSTEM_ERROR` metric
// label distinguishes it.
func (k Kind) String() string {
	switch k {
	case KindUser:
		return "USER_ERROR"
	case KindTransient, KindStateInvariant, KindFatal:
		return "SYSTEM_ERROR"
	default:
		return "SYSTEM_ERROR"
	}
}

// Error is the shared error type. UserMessage is a translation key (or
// already-localized string, for callers with no locale on hand) to show
// the requesting user; OperatorMessage is the log line for operators. Err
// is the wrapped cause, if any.
type Error struct {
	Kind            Kind
	UserMessage     string
	OperatorMessage string
	Err             error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.OperatorMessage, e.Err)
	}
	return e.OperatorMessage
}

func (e *Error) Unwrap() error { return e.Err }

// IsUser reports whether an error (or one it wraps) should be surfaced to
// the user rather than logged as a system failure.
func IsUser(err error) bool {
	var xe *Error
	if ok := asError(err, &xe); ok {
		return xe.Kind == KindUser
	}
	return false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if xe, ok := err.(*Error); ok {
			*target = xe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// User constructs a user-facing error. operatorMsg still gets logged at
// debug level by callers that want a trail, but never at error/warning.
func User(userMsg, operatorMsg string) *Error {
	return &Error{Kind: KindUser, UserMessage: userMsg, OperatorMessage: operatorMsg}
}

// Transient wraps an infrastructure failure: broker, HTTP, SQL.
func Transient(operatorMsg string, cause error) *Error {
	return &Error{Kind: KindTransient, OperatorMessage: operatorMsg, Err: cause}
}

// StateInvariant wraps a should-be-unreachable branch.
func StateInvariant(operatorMsg string) *Error {
	return &Error{Kind: KindStateInvariant, OperatorMessage: operatorMsg}
}

// Fatal wraps a startup-time configuration or migration failure.
func Fatal(operatorMsg string, cause error) *Error {
	return &Error{Kind: KindFatal, OperatorMessage: operatorMsg, Err: cause}
}
