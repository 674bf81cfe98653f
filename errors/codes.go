package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Lifecycle misuse, reported synchronously to the caller.
const (
	// ErrCodeAlreadyRunning indicates a worker was started while its goroutine is active.
	ErrCodeAlreadyRunning ErrorCode = "ALREADY_RUNNING"
	// ErrCodeNoWorkSupplied indicates a worker was started with no unit of work.
	ErrCodeNoWorkSupplied ErrorCode = "NO_WORK_SUPPLIED"
	// ErrCodeClosed indicates an operation on a pipe, queue or tee that was already closed.
	ErrCodeClosed ErrorCode = "CLOSED"
)

// Runtime errors
const (
	// ErrCodeCanceled indicates a blocking call was interrupted by cancellation or shutdown.
	ErrCodeCanceled ErrorCode = "CANCELED"
	// ErrCodeProcessingFailure indicates a caller-supplied function failed or panicked.
	ErrCodeProcessingFailure ErrorCode = "PROCESSING_FAILURE"
	// ErrCodeTimeout indicates a bounded wait expired.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeRateLimited indicates a rate limiter rejected a call.
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"
	// ErrCodeBulkheadFull indicates no concurrency slot was available.
	ErrCodeBulkheadFull ErrorCode = "BULKHEAD_FULL"
)

// Validation errors
const (
	// ErrCodeInvalidInput indicates an argument is invalid.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrCodeInvalidConfig indicates a configuration value is invalid.
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
)

// Internal errors
const (
	// ErrCodeInternal indicates an unexpected error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// A canceled wait or an expired timeout may succeed when repeated; a failed
// processing function never resumes on the same pipe.
var retryableCodes = map[ErrorCode]bool{
	ErrCodeCanceled:          false,
	ErrCodeTimeout:           true,
	ErrCodeRateLimited:       true,
	ErrCodeBulkheadFull:      true,
	ErrCodeProcessingFailure: false,
	ErrCodeInternal:          false,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
