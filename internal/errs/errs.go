// Package errs defines the error taxonomy shared by the service, transport and HTTP layers.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how callers must react to it.
type Kind int

const (
	// KindInternal is the zero value so unclassified errors are treated as internal.
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindExpired
	KindCapacity
	KindTransient
	KindPolicy
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindExpired:
		return "expired"
	case KindCapacity:
		return "capacity"
	case KindTransient:
		return "transient"
	case KindPolicy:
		return "policy"
	default:
		return "internal"
	}
}

// Error is a classified error. Code and Message are safe to show to clients; Err is not.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s (%v)", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind and Message so sentinels compare with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

// WithCode returns a copy of e carrying a machine-readable code.
func (e *Error) WithCode(code string) *Error {
	c := *e
	c.Code = code
	return &c
}

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies an existing error.
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(message string) *Error { return New(KindValidation, message) }

func Validationf(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func NotFound(message string) *Error { return New(KindNotFound, message) }

func Capacity(message string) *Error { return New(KindCapacity, message) }

// Transient wraps a storage or backend failure. The operation is abandoned, not retried.
func Transient(err error, message string) *Error { return Wrap(err, KindTransient, message) }

func Internal(err error, message string) *Error { return Wrap(err, KindInternal, message) }

// Sentinel errors.
var (
	ErrSessionNotFound     = NotFound("session not found").WithCode("session_not_found")
	ErrSessionExpired      = New(KindExpired, "session has expired").WithCode("session_expired")
	ErrParticipantNotFound = NotFound("participant not found").WithCode("participant_not_found")
	ErrInvalidSessionID    = Validation("invalid session id").WithCode("invalid_session_id")
	ErrRateLimited         = Capacity("rate limit exceeded").WithCode("rate_limited")
	ErrTooManyConnections  = Capacity("connection limit exceeded").WithCode("too_many_connections")
	ErrAdmissionDenied     = New(KindPolicy, "connection rejected by policy").WithCode("policy_denied")
)

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// CodeOf returns the code of the first *Error in the chain, falling back to its kind name.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Code != "" {
			return e.Code
		}
		return e.Kind.String()
	}
	return KindInternal.String()
}

// PublicMessage returns the client-safe message for err.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return "internal error"
}
