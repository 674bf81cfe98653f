package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError is the unified pipekit error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Sentinels for errors.Is matching. Comparison is by code only, so any
// AppError with the same code matches regardless of message or details.
var (
	ErrAlreadyRunning    = &AppError{Code: ErrCodeAlreadyRunning}
	ErrNoWorkSupplied    = &AppError{Code: ErrCodeNoWorkSupplied}
	ErrClosed            = &AppError{Code: ErrCodeClosed}
	ErrCanceled          = &AppError{Code: ErrCodeCanceled}
	ErrProcessingFailure = &AppError{Code: ErrCodeProcessingFailure}
	ErrTimeout           = &AppError{Code: ErrCodeTimeout}
)

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// Is reports whether target is an AppError with the same code.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !stderrors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetails merges the provided details into the error and returns the receiver.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Retryable: IsRetryableCode(code),
	}
}

// --- Constructors ---

// AlreadyRunning is returned when a worker is started twice.
func AlreadyRunning(name string) *AppError {
	return &AppError{
		Code: ErrCodeAlreadyRunning, Message: fmt.Sprintf("worker %s is already running", name),
		Details: map[string]any{"worker": name},
	}
}

// NoWorkSupplied is returned when a worker has neither an explicit nor a default unit of work.
func NoWorkSupplied(name string) *AppError {
	return &AppError{
		Code: ErrCodeNoWorkSupplied, Message: fmt.Sprintf("worker %s has no unit of work", name),
		Details: map[string]any{"worker": name},
	}
}

// Closed is returned by operations on a closed resource.
func Closed(resource string) *AppError {
	return &AppError{
		Code: ErrCodeClosed, Message: fmt.Sprintf("%s is closed", resource),
		Details: map[string]any{"resource": resource},
	}
}

// Canceled wraps the reason a blocking call was interrupted. cause may be nil
// when the interruption came from a shutdown rather than a context.
func Canceled(operation string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeCanceled, Message: fmt.Sprintf("%s canceled", operation),
		Details: map[string]any{"operation": operation}, Cause: cause,
	}
}

// ProcessingFailure records an error or panic raised by a caller-supplied function.
func ProcessingFailure(name string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeProcessingFailure, Message: fmt.Sprintf("processing failed in %s", name),
		Details: map[string]any{"worker": name}, Cause: cause,
	}
}

// Timeout creates an AppError for a bounded wait that expired.
func Timeout(operation string) *AppError {
	return &AppError{
		Code: ErrCodeTimeout, Message: fmt.Sprintf("%s timed out", operation),
		Retryable: true, Details: map[string]any{"operation": operation},
	}
}

// InvalidInput creates an AppError for an invalid argument.
func InvalidInput(field, reason string) *AppError {
	details := make(map[string]any)
	if field != "" {
		details["field"] = field
	}
	return &AppError{
		Code: ErrCodeInvalidInput, Message: fmt.Sprintf("Invalid input: %s", reason),
		Details: details,
	}
}

// InvalidConfig creates an AppError for a configuration validation failure.
func InvalidConfig(message string) *AppError {
	return &AppError{Code: ErrCodeInvalidConfig, Message: message}
}

// Internal creates an AppError for an unexpected error.
func Internal(cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: "An unexpected error occurred.",
		Cause: cause,
	}
}

// --- Inspection helpers ---

// IsAppError checks if an error is an AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCode reports whether err or anything it wraps, including every branch of
// a joined error, is an AppError with code.
func IsCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return stderrors.Is(err, &AppError{Code: code})
}

// Wrap converts any error to an AppError. AppErrors anywhere in the chain are
// returned as-is; anything else becomes an INTERNAL_ERROR with err as cause.
func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := AsAppError(err); ok {
		return appErr
	}
	return Internal(err)
}
