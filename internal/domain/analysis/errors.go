package analysis

import (
	"errors"
	"fmt"
)

// Code classifies a pipeline failure for API clients and for the
// error_code column on a failed request.
type Code string

const (
	CodeNoConsent              Code = "NO_CONSENT"
	CodeDuplicateActiveRequest Code = "DUPLICATE_ACTIVE_REQUEST"
	CodePatientNotFound        Code = "PATIENT_NOT_FOUND"
	CodeInvalidState           Code = "INVALID_STATE"
	CodeAITimeout              Code = "AI_TIMEOUT"
	CodeValidationFailed       Code = "VALIDATION_FAILED"
	CodeNoJSONFound            Code = "NO_JSON_FOUND"
	CodeProcessingTimeout      Code = "PROCESSING_TIMEOUT"
	CodeMaxRetriesExceeded     Code = "MAX_RETRIES_EXCEEDED"
	CodeMissingReason          Code = "MISSING_REASON"
	CodeProviderError          Code = "PROVIDER_ERROR"
)

// Error is a coded pipeline error. Wrapped causes stay reachable through
// errors.Is and errors.As.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.cause }

// NewError builds a coded error with a formatted message.
func NewError(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a code to an underlying cause.
func WrapError(code Code, cause error, message string) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// CodeOf extracts the pipeline code from err, or "" when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
