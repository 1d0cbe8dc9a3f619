package wire

import (
	"errors"
	"fmt"
)

// Code identifies an error class in the streaming taxonomy. The string
// values travel on the wire in the error_code field.
type Code string

const (
	CodeConfiguration   Code = "CONFIGURATION_ERROR"
	CodeValidation      Code = "VALIDATION_ERROR"
	CodeAudioProcessing Code = "AUDIO_PROCESSING_ERROR"
	CodeVAD             Code = "VAD_ERROR"
	CodeASRProvider     Code = "ASR_PROVIDER_ERROR"
	CodeLLMProvider     Code = "LLM_PROVIDER_ERROR"
	CodeStreaming       Code = "STREAMING_ERROR"
	CodeStorage         Code = "STORAGE_ERROR"
	CodeAtCapacity      Code = "AT_CAPACITY"
	CodeInternal        Code = "INTERNAL_ERROR"
)

// Recoverable reports whether a session survives an error of this code.
// Configuration, transport and capacity failures end the session; every
// other class is reported and the session continues.
func (c Code) Recoverable() bool {
	switch c {
	case CodeConfiguration, CodeStreaming, CodeAtCapacity:
		return false
	default:
		return true
	}
}

// Error is a taxonomy-coded failure. Components return it, the session
// serializes it into an error message for the client.
type Error struct {
	// Code classifies the failure.
	Code Code

	// Message is the client-facing description.
	Message string

	// Details carries structured context (status codes, field names).
	Details map[string]any

	// Err is the wrapped cause. It is not serialized.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Data converts the error into its outbound payload shape.
func (e *Error) Data() ErrorData {
	return ErrorData{
		Message:     e.Message,
		ErrorCode:   e.Code,
		Recoverable: e.Code.Recoverable(),
		Details:     e.Details,
	}
}

// NewError builds a coded error with a formatted message.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds a coded error around a cause.
func WrapError(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: cause}
}

// FromError coerces any error into a coded one. Errors that already carry
// a code pass through unchanged; everything else becomes INTERNAL_ERROR.
func FromError(err error) *Error {
	var we *Error
	if errors.As(err, &we) {
		return we
	}
	return &Error{Code: CodeInternal, Message: err.Error(), Err: err}
}
