package api

import (
	"context"
	"errors"
	"fmt"
)

// FallbackMessage is shown when the backend gives no usable message.
const FallbackMessage = "Something went wrong, please try again"

// ErrorKind classifies failures for reporting.
type ErrorKind int

const (
	// KindValidation is a client-side check that failed before any network call.
	KindValidation ErrorKind = iota + 1
	// KindTransport is a network failure or a non-2xx response.
	KindTransport
	// KindSemantic is a 2xx response whose success marker is false or absent.
	KindSemantic
	// KindUnauthenticated means no session token was available.
	KindUnauthenticated
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransport:
		return "transport"
	case KindSemantic:
		return "semantic"
	case KindUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Error is the error type returned by the backend client and the coordinator.
type Error struct {
	Kind    ErrorKind
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.String() + " error"
	}
	if e.Op == "" {
		return msg
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Op, msg, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrUnauthenticated is wrapped by errors raised when no session token exists.
var ErrUnauthenticated = errors.New("not authenticated")

// Validation builds a KindValidation error.
func Validation(op, message string) error {
	return &Error{Kind: KindValidation, Op: op, Message: message}
}

// Unauthenticated builds a KindUnauthenticated error.
func Unauthenticated(op string) error {
	return &Error{Kind: KindUnauthenticated, Op: op, Message: "not authenticated", Err: ErrUnauthenticated}
}

func kindOf(err error) ErrorKind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return 0
}

func IsValidation(err error) bool      { return kindOf(err) == KindValidation }
func IsTransport(err error) bool       { return kindOf(err) == KindTransport }
func IsSemantic(err error) bool        { return kindOf(err) == KindSemantic }
func IsUnauthenticated(err error) bool { return kindOf(err) == KindUnauthenticated }

// IsCanceled reports whether err stems from a cancelled or superseded request.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// UserMessage returns the text to show in a notification for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var target *Error
	if errors.As(err, &target) {
		if target.Message != "" {
			return target.Message
		}
		if target.Kind == KindTransport || target.Kind == KindSemantic {
			return FallbackMessage
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "Request timed out"
	}
	return FallbackMessage
}
