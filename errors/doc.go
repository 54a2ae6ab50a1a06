// Package errors provides unified error handling for the pipeline
// orchestrator. It implements structured error types with machine-readable
// codes, contextual details, cause wrapping, and retryable detection.
package errors
