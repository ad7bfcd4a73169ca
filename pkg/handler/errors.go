package handler

import (
	"errors"
	"fmt"
)

// Error codes of the invocation error taxonomy.
const (
	CodeNotFound                  = "NOT_FOUND"
	CodeMissingParameter          = "MISSING_PARAMETER"
	CodeInvalidParameter          = "INVALID_PARAMETER"
	CodeUnresolvedMappedParameter = "UNRESOLVED_MAPPED_PARAMETER"
	CodeUnresolvedSecret          = "UNRESOLVED_SECRET"
	CodeValidationFailed          = "VALIDATION_FAILED"
	CodeHandlerThrew              = "HANDLER_THREW"
	CodeNoMatchingHandler         = "NO_MATCHING_HANDLER"
	CodeRegistrationRejected      = "REGISTRATION_REJECTED"
	CodeConnectionLost            = "CONNECTION_LOST"
	CodeTimeout                   = "TIMEOUT"
)

// AutomationError is the structured error used across the client runtime.
type AutomationError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	Err     error       `json:"-"`
}

func (e *AutomationError) Error() string {
	return e.Code + ": " + e.Message
}

func (e *AutomationError) Unwrap() error {
	return e.Err
}

// Is matches sentinel errors by code. A target carrying a message only matches
// an error with the same code and message.
func (e *AutomationError) Is(target error) bool {
	t, ok := target.(*AutomationError)
	if !ok {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound                  = &AutomationError{Code: CodeNotFound}
	ErrMissingParameter          = &AutomationError{Code: CodeMissingParameter}
	ErrInvalidParameter          = &AutomationError{Code: CodeInvalidParameter}
	ErrUnresolvedMappedParameter = &AutomationError{Code: CodeUnresolvedMappedParameter}
	ErrUnresolvedSecret          = &AutomationError{Code: CodeUnresolvedSecret}
	ErrValidationFailed          = &AutomationError{Code: CodeValidationFailed}
	ErrHandlerThrew              = &AutomationError{Code: CodeHandlerThrew}
	ErrNoMatchingHandler         = &AutomationError{Code: CodeNoMatchingHandler}
	ErrRegistrationRejected      = &AutomationError{Code: CodeRegistrationRejected}
	ErrConnectionLost            = &AutomationError{Code: CodeConnectionLost}
	ErrTimeout                   = &AutomationError{Code: CodeTimeout}
)

// NewError creates a new AutomationError.
func NewError(code, message string) *AutomationError {
	return &AutomationError{Code: code, Message: message}
}

// Errorf creates a new AutomationError with a formatted message.
func Errorf(code, format string, args ...interface{}) *AutomationError {
	return &AutomationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a code to an underlying cause.
func WrapError(code string, err error) *AutomationError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &AutomationError{Code: code, Message: msg, Err: err}
}

// ErrorCode returns the taxonomy code of err, or "" if err carries none.
func ErrorCode(err error) string {
	var ae *AutomationError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
