// Package tools runs model-requested tools: scripts and commands confined
// to a base directory, the builtin read_file, and tools served over MCP.
package tools

import (
	"errors"
	"fmt"

	"github.com/samsaffron/cmd2ai/internal/llm"
)

// ToolErrorType provides structured errors for the model to react to.
type ToolErrorType string

const (
	ErrInvalidParams      ToolErrorType = "INVALID_PARAMS"
	ErrUnknownTool        ToolErrorType = "UNKNOWN_TOOL"
	ErrPathNotInWorkspace ToolErrorType = "PATH_NOT_IN_WORKSPACE"
	ErrPathDenied         ToolErrorType = "PATH_DENIED"
	ErrFileNotFound       ToolErrorType = "FILE_NOT_FOUND"
	ErrFileTooLarge       ToolErrorType = "FILE_TOO_LARGE"
	ErrBinaryFile         ToolErrorType = "BINARY_FILE"
	ErrExecutionFailed    ToolErrorType = "EXECUTION_FAILED"
	ErrTimeout            ToolErrorType = "TIMEOUT"
)

// ToolError provides structured error information inside the package.
// The executor maps it to an *llm.Error at its boundary.
type ToolError struct {
	Type    ToolErrorType `json:"type"`
	Message string        `json:"message"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewToolError creates a new ToolError.
func NewToolError(errType ToolErrorType, message string) *ToolError {
	return &ToolError{Type: errType, Message: message}
}

// NewToolErrorf creates a new ToolError with formatted message.
func NewToolErrorf(errType ToolErrorType, format string, args ...interface{}) *ToolError {
	return &ToolError{Type: errType, Message: fmt.Sprintf(format, args...)}
}

// Kind returns the error kind reported to the engine.
func (t ToolErrorType) Kind() llm.ErrorKind {
	switch t {
	case ErrPathNotInWorkspace:
		return llm.KindPathTraversal
	case ErrExecutionFailed:
		return llm.KindExecution
	case ErrTimeout:
		return llm.KindExecutionTimeout
	default:
		return llm.KindValidation
	}
}

// toLLMError converts any error into the engine's typed error. Errors that
// are not ToolErrors count as execution failures.
func toLLMError(err error) *llm.Error {
	if err == nil {
		return nil
	}
	var le *llm.Error
	if errors.As(err, &le) {
		return le
	}
	var te *ToolError
	if errors.As(err, &te) {
		return llm.NewError(te.Type.Kind(), te.Message)
	}
	return llm.WrapError(llm.KindExecution, err.Error(), err)
}
