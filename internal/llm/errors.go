package llm

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can decide whether to continue,
// report to the model, or abort the turn.
type ErrorKind string

const (
	KindDecode            ErrorKind = "DecodeError"
	KindTransport         ErrorKind = "TransportError"
	KindValidation        ErrorKind = "ValidationError"
	KindPathTraversal     ErrorKind = "PathTraversalRejected"
	KindExecution         ErrorKind = "ExecutionError"
	KindExecutionTimeout  ErrorKind = "ExecutionTimeout"
	KindLoopLimitExceeded ErrorKind = "LoopLimitExceeded"
)

// parent returns the kind this kind specializes, if any.
func (k ErrorKind) parent() ErrorKind {
	switch k {
	case KindPathTraversal:
		return KindValidation
	case KindExecutionTimeout:
		return KindExecution
	}
	return ""
}

// Is reports whether k equals target or is a subtype of it.
func (k ErrorKind) Is(target ErrorKind) bool {
	for cur := k; cur != ""; cur = cur.parent() {
		if cur == target {
			return true
		}
	}
	return false
}

// Error is the typed error used across decoding, transport, tool execution
// and orchestration.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, honoring subtypes, so that
// errors.Is(pathErr, ErrValidation) holds.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || t.Message != "" || t.Err != nil {
		return false
	}
	return e.Kind.Is(t.Kind)
}

// Sentinels for errors.Is.
var (
	ErrDecode            = &Error{Kind: KindDecode}
	ErrTransport         = &Error{Kind: KindTransport}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrPathTraversal     = &Error{Kind: KindPathTraversal}
	ErrExecution         = &Error{Kind: KindExecution}
	ErrExecutionTimeout  = &Error{Kind: KindExecutionTimeout}
	ErrLoopLimitExceeded = &Error{Kind: KindLoopLimitExceeded}
)

// NewError creates a typed error.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// NewErrorf creates a typed error with a formatted message.
func NewErrorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind to an underlying error.
func WrapError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
