package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the coarse error class surfaced to callers.
type Kind string

const (
	KindUnknown            Kind = "Unknown"
	KindUnauthenticated    Kind = "Unauthenticated"
	KindForbidden          Kind = "Forbidden"
	KindNotFound           Kind = "NotFound"
	KindInvalidTransition  Kind = "InvalidTransition"
	KindValidationFailed   Kind = "ValidationFailed"
	KindConflict           Kind = "Conflict"
	KindStorageUnavailable Kind = "StorageUnavailable"
	KindTimeout            Kind = "Timeout"
)

// Code is a machine-readable refinement of a Kind.
type Code string

const (
	CodeUnauthenticated     Code = "UNAUTHENTICATED"
	CodeForbidden           Code = "FORBIDDEN"
	CodeInvalidPIN          Code = "INVALID_PIN"
	CodeEventNotFound       Code = "EVENT_NOT_FOUND"
	CodeActivityNotFound    Code = "ACTIVITY_NOT_FOUND"
	CodeParticipantNotFound Code = "PARTICIPANT_NOT_FOUND"
	CodeQuestionNotFound    Code = "QUESTION_NOT_FOUND"
	CodeOptionNotFound      Code = "OPTION_NOT_FOUND"
	CodeInvalidTransition   Code = "INVALID_TRANSITION"
	CodeWrongActivityType   Code = "WRONG_ACTIVITY_TYPE"
	CodeEventNotLive        Code = "EVENT_NOT_LIVE"
	CodeTooLate             Code = "TOO_LATE"
	CodePollClosed          Code = "POLL_CLOSED"
	CodeRaffleClosed        Code = "RAFFLE_CLOSED"
	CodeValidationFailed    Code = "VALIDATION_FAILED"
	CodeInsufficientEntries Code = "INSUFFICIENT_ENTRIES"
	CodeAlreadyAnswered     Code = "ALREADY_ANSWERED"
	CodeDuplicateVote       Code = "DUPLICATE_VOTE"
	CodeAlreadyEntered      Code = "ALREADY_ENTERED"
	CodeActivationConflict  Code = "ACTIVATION_CONFLICT"
	CodePINExhausted        Code = "PIN_EXHAUSTED"
	CodeStorageUnavailable  Code = "STORAGE_UNAVAILABLE"
	CodeTimeout             Code = "TIMEOUT"
)

// Error is the typed error every service operation returns.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	// Reasons lists every violation for ValidationFailed errors.
	Reasons []string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Reasons) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.Reasons, "; "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors with the same code so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// Retryable reports whether the caller may retry the same command.
func (e *Error) Retryable() bool {
	return e.Kind == KindStorageUnavailable || e.Kind == KindTimeout
}

// Sentinels for errors.Is checks. Construct detailed instances with Errorf.
var (
	ErrUnauthenticated     = &Error{Kind: KindUnauthenticated, Code: CodeUnauthenticated, Message: "missing credential"}
	ErrForbidden           = &Error{Kind: KindForbidden, Code: CodeForbidden, Message: "not allowed"}
	ErrInvalidPIN          = &Error{Kind: KindForbidden, Code: CodeInvalidPIN, Message: "game pin does not match"}
	ErrEventNotFound       = &Error{Kind: KindNotFound, Code: CodeEventNotFound, Message: "event not found"}
	ErrActivityNotFound    = &Error{Kind: KindNotFound, Code: CodeActivityNotFound, Message: "activity not found"}
	ErrParticipantNotFound = &Error{Kind: KindNotFound, Code: CodeParticipantNotFound, Message: "participant not found"}
	ErrQuestionNotFound    = &Error{Kind: KindNotFound, Code: CodeQuestionNotFound, Message: "question not found"}
	ErrOptionNotFound      = &Error{Kind: KindNotFound, Code: CodeOptionNotFound, Message: "option not found"}
	ErrInvalidTransition   = &Error{Kind: KindInvalidTransition, Code: CodeInvalidTransition, Message: "command not valid in current state"}
	ErrWrongActivityType   = &Error{Kind: KindInvalidTransition, Code: CodeWrongActivityType, Message: "command does not apply to this activity type"}
	ErrEventNotLive        = &Error{Kind: KindInvalidTransition, Code: CodeEventNotLive, Message: "event is not live"}
	ErrTooLate             = &Error{Kind: KindInvalidTransition, Code: CodeTooLate, Message: "question is no longer accepting answers"}
	ErrPollClosed          = &Error{Kind: KindInvalidTransition, Code: CodePollClosed, Message: "poll is closed"}
	ErrRaffleClosed        = &Error{Kind: KindInvalidTransition, Code: CodeRaffleClosed, Message: "raffle is not open"}
	ErrValidationFailed    = &Error{Kind: KindValidationFailed, Code: CodeValidationFailed, Message: "validation failed"}
	ErrInsufficientEntries = &Error{Kind: KindValidationFailed, Code: CodeInsufficientEntries, Message: "not enough eligible entries"}
	ErrAlreadyAnswered     = &Error{Kind: KindConflict, Code: CodeAlreadyAnswered, Message: "question already answered"}
	ErrDuplicateVote       = &Error{Kind: KindConflict, Code: CodeDuplicateVote, Message: "vote already recorded"}
	ErrAlreadyEntered      = &Error{Kind: KindConflict, Code: CodeAlreadyEntered, Message: "already entered"}
	ErrActivationConflict  = &Error{Kind: KindConflict, Code: CodeActivationConflict, Message: "concurrent write lost"}
	ErrPINExhausted        = &Error{Kind: KindConflict, Code: CodePINExhausted, Message: "could not allocate a unique game pin"}
	ErrStorageUnavailable  = &Error{Kind: KindStorageUnavailable, Code: CodeStorageUnavailable, Message: "storage unavailable"}
	ErrTimeout             = &Error{Kind: KindTimeout, Code: CodeTimeout, Message: "operation timed out"}
)

// ErrNotFound is returned by repositories for a missing record. The service
// layer maps it onto the matching typed NotFound error.
var ErrNotFound = errors.New("record not found")

// ErrVersionConflict is returned by repositories when an optimistic write
// observes a different version than expected.
var ErrVersionConflict = errors.New("version conflict")

// Errorf copies a sentinel and replaces its message.
func Errorf(base *Error, format string, args ...any) *Error {
	e := *base
	e.Message = fmt.Sprintf(format, args...)
	return &e
}

// Wrap copies a sentinel and attaches a cause.
func Wrap(base *Error, cause error) *Error {
	e := *base
	e.Err = cause
	return &e
}

// ValidationError builds a ValidationFailed error carrying every reason.
func ValidationError(reasons []string) *Error {
	e := *ErrValidationFailed
	e.Reasons = append([]string(nil), reasons...)
	return &e
}

// KindOf extracts the kind of any error, KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf extracts the code of any error, empty for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsKind checks if the error has the specified kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
