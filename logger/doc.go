// Package logger provides structured logging for the pipeline orchestrator
// using zerolog.
//
// It supports multiple output formats (JSON, console), log level
// configuration, and component-scoped loggers with structured fields for
// common pipeline attributes (pipeline, node, sink, rows).
//
// # Configuration
//
//	logger:
//	  level: "info"
//	  format: "console"
//
// # Usage
//
//	log := logger.Get("pipeline")
//	log.Info("Execution started.", logger.Fields(logger.FieldPipeline, "pl-stocks"))
package logger
