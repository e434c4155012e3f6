package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Engine errors
const (
	// ErrCodeTransformFailure indicates a stage transform failed for one item.
	ErrCodeTransformFailure ErrorCode = "TRANSFORM_FAILURE"
	// ErrCodeGraphConfiguration indicates an invalid pipeline graph.
	ErrCodeGraphConfiguration ErrorCode = "GRAPH_CONFIGURATION"
	// ErrCodeDoubleResolution indicates a completion handle was resolved twice.
	ErrCodeDoubleResolution ErrorCode = "DOUBLE_RESOLUTION"
	// ErrCodeStageCompleted indicates an item was offered to a completed stage.
	ErrCodeStageCompleted ErrorCode = "STAGE_COMPLETED"
	// ErrCodeUnrouted indicates no outgoing link accepted an item.
	ErrCodeUnrouted ErrorCode = "UNROUTED"
	// ErrCodeInvalidOperation indicates a call that is not allowed in the current state.
	ErrCodeInvalidOperation ErrorCode = "INVALID_OPERATION"
)

// Request errors
const (
	// ErrCodeInvalidInput indicates the input is invalid.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrCodeTimeout indicates the caller stopped waiting.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeServiceUnavailable indicates the pipeline is not accepting work.
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	// ErrCodeInternal indicates an internal error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeTransformFailure:   true,
	ErrCodeTimeout:            true,
	ErrCodeServiceUnavailable: true,
}

// IsRetryableCode returns true if resubmitting the same input may succeed.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
