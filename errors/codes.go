package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Configuration errors, detected at construction or validation time.
const (
	// ErrCodeInvalidInput indicates the input is invalid.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrCodeMissingField indicates a required field is missing.
	ErrCodeMissingField ErrorCode = "MISSING_FIELD"
	// ErrCodeInvalidFormat indicates a field has an invalid format.
	ErrCodeInvalidFormat ErrorCode = "INVALID_FORMAT"
)

// Structural errors in the pipeline graph or persisted targets.
const (
	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeAlreadyExists indicates the resource already exists.
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"
	// ErrCodeCycleDetected indicates the node references form a cycle.
	ErrCodeCycleDetected ErrorCode = "CYCLE_DETECTED"
)

// Execution errors surfaced while running a pipeline.
const (
	// ErrCodeExecution indicates a node failed while reading, transforming
	// or writing data.
	ErrCodeExecution ErrorCode = "EXECUTION_ERROR"
	// ErrCodeExpression indicates a row expression failed to compile or
	// evaluate.
	ErrCodeExpression ErrorCode = "EXPRESSION_ERROR"
	// ErrCodeUnsupportedFormat indicates the engine does not support the
	// requested data format.
	ErrCodeUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"
	// ErrCodeCommitConflict indicates a concurrent writer claimed the same
	// table version.
	ErrCodeCommitConflict ErrorCode = "COMMIT_CONFLICT"
	// ErrCodeQualityFailure indicates a FAIL-action expectation rejected the
	// run.
	ErrCodeQualityFailure ErrorCode = "QUALITY_FAILURE"
	// ErrCodeTimeout indicates the operation timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeCommitConflict: true,
	ErrCodeTimeout:        true,
	ErrCodeInternal:       false,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
