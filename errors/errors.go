package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// AppError is the unified application error type.
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

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

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

// Wrap creates a new AppError around an underlying cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	return New(code, message).WithCause(err)
}

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

// HasCode reports whether err is (or wraps) an AppError with the given code.
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}

// IsRetryable reports whether err is (or wraps) a retryable AppError.
func IsRetryable(err error) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Retryable
}

// --- Common Error Constructors ---

// NotFound creates a new AppError for a resource that was not found.
func NotFound(resource, id string) *AppError {
	details := map[string]any{"resource": resource}
	if id != "" {
		details["id"] = id
	}
	return &AppError{
		Code: ErrCodeNotFound, Message: fmt.Sprintf("The requested %s was not found.", resource),
		Retryable: false, Details: details,
	}
}

// AlreadyExists creates a new AppError for a resource that already exists.
func AlreadyExists(resource string) *AppError {
	return &AppError{
		Code: ErrCodeAlreadyExists, Message: fmt.Sprintf("A %s with these details already exists.", resource),
		Retryable: false,
		Details:   map[string]any{"resource": resource},
	}
}

// InvalidInput creates a new AppError for invalid input.
func InvalidInput(field, reason string) *AppError {
	details := make(map[string]any)
	if field != "" {
		details["field"] = field
	}
	return &AppError{
		Code: ErrCodeInvalidInput, Message: fmt.Sprintf("Invalid input: %s", reason),
		Retryable: false, Details: details,
	}
}

// Validation creates a new AppError for validation errors.
func Validation(message string) *AppError {
	return &AppError{
		Code: ErrCodeInvalidInput, Message: message,
		Retryable: false,
	}
}

// MissingField creates a new AppError for a missing required field.
func MissingField(field string) *AppError {
	return &AppError{
		Code: ErrCodeMissingField, Message: fmt.Sprintf("Missing required field: %s", field),
		Retryable: false,
		Details:   map[string]any{"field": field},
	}
}

// InvalidFormat creates a new AppError for an invalid field format.
func InvalidFormat(field, expectedFormat string) *AppError {
	return &AppError{
		Code: ErrCodeInvalidFormat, Message: fmt.Sprintf("Invalid format for %s. Expected: %s", field, expectedFormat),
		Retryable: false,
		Details:   map[string]any{"field": field, "expected_format": expectedFormat},
	}
}

// CycleDetected creates a new AppError for a cyclic node dependency. The
// path lists the node names along one offending cycle, first node repeated
// last.
func CycleDetected(path []string) *AppError {
	return &AppError{
		Code: ErrCodeCycleDetected, Message: fmt.Sprintf("Pipeline nodes form a cycle: %s", strings.Join(path, " -> ")),
		Retryable: false,
		Details:   map[string]any{"cycle": path},
	}
}

// Execution creates a new AppError for a node that failed during a run.
func Execution(node string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeExecution, Message: fmt.Sprintf("Node %s failed during execution.", node),
		Retryable: false,
		Details:   map[string]any{"node": node}, Cause: cause,
	}
}

// Expression creates a new AppError for a row expression that failed to
// compile or evaluate.
func Expression(expression string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeExpression, Message: fmt.Sprintf("Expression %q failed.", expression),
		Retryable: false,
		Details:   map[string]any{"expression": expression}, Cause: cause,
	}
}

// UnsupportedFormat creates a new AppError for a format the engine cannot
// handle.
func UnsupportedFormat(format, engine string) *AppError {
	return &AppError{
		Code: ErrCodeUnsupportedFormat, Message: fmt.Sprintf("Format %s is not supported by the %s engine.", format, engine),
		Retryable: false,
		Details:   map[string]any{"format": format, "engine": engine},
	}
}

// CommitConflict creates a new AppError for a table version claimed by a
// concurrent writer.
func CommitConflict(path string, version int64) *AppError {
	return &AppError{
		Code: ErrCodeCommitConflict, Message: fmt.Sprintf("Version %d of table %s was committed concurrently.", version, path),
		Retryable: true,
		Details:   map[string]any{"path": path, "version": version},
	}
}

// QualityFailure creates a new AppError for a FAIL-action expectation whose
// check rejected rows.
func QualityFailure(node, expectation string, failed int64) *AppError {
	return &AppError{
		Code: ErrCodeQualityFailure, Message: fmt.Sprintf("Expectation %s failed for %d rows.", expectation, failed),
		Retryable: false,
		Details:   map[string]any{"node": node, "expectation": expectation, "failed_rows": failed},
	}
}

// Timeout creates a new AppError for an operation that timed out.
func Timeout(operation string) *AppError {
	return &AppError{
		Code: ErrCodeTimeout, Message: "The operation took too long. Please try again.",
		Retryable: true,
		Details:   map[string]any{"operation": operation},
	}
}

// Internal creates a new AppError for an unexpected internal error.
func Internal(cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: "An unexpected error occurred.",
		Retryable: false, Cause: cause,
	}
}
