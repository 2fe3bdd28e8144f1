package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure so the HTTP layer can pick a status code.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindProcessing  Kind = "processing"
	KindIO          Kind = "io"
	KindEnvironment Kind = "environment"
	KindInternal    Kind = "internal"
)

// Error is a classified failure raised by a conversion operation.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Op != "" {
		prefix = e.Op + ": " + prefix
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Validation reports bad client input (missing field, wrong type, bad range).
func Validation(op, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: msg}
}

// Validationf is Validation with formatting.
func Validationf(op, format string, args ...any) *Error {
	return Validation(op, fmt.Sprintf(format, args...))
}

// Processing reports a document library failure on otherwise well-formed input.
func Processing(op, msg string, err error) *Error {
	return &Error{Kind: KindProcessing, Op: op, Message: msg, Err: err}
}

// IO reports a filesystem failure.
func IO(op, msg string, err error) *Error {
	return &Error{Kind: KindIO, Op: op, Message: msg, Err: err}
}

// Environment reports a missing external dependency such as a renderer binary.
func Environment(op, msg string, err error) *Error {
	return &Error{Kind: KindEnvironment, Op: op, Message: msg, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the client-facing message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// StatusCode maps err to an HTTP status.
func StatusCode(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindProcessing:
		return http.StatusUnprocessableEntity
	case KindEnvironment:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
