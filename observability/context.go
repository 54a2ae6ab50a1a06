package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RunContext holds observability context for a node execution within a
// pipeline run.
type RunContext struct {
	PipelineName string
	NodeName     string
	RunID        string
	StartTime    time.Time
	Metrics      *RunMetrics
}

// NewRunContext creates a new run context.
// If metrics is nil, metric recording is silently skipped.
func NewRunContext(pipeline, node, runID string, metrics *RunMetrics) *RunContext {
	return &RunContext{
		PipelineName: pipeline,
		NodeName:     node,
		RunID:        runID,
		StartTime:    time.Now(),
		Metrics:      metrics,
	}
}

// runContextKey is the context key for RunContext.
type runContextKey struct{}

// WithRunContext stores a RunContext in the context.
func WithRunContext(ctx context.Context, rc *RunContext) context.Context {
	return context.WithValue(ctx, runContextKey{}, rc)
}

// RunContextFromContext retrieves the RunContext from context, or nil.
func RunContextFromContext(ctx context.Context) *RunContext {
	if rc, ok := ctx.Value(runContextKey{}).(*RunContext); ok {
		return rc
	}
	return nil
}

// StartSpanForNode starts a traced span and records the node start metric.
func (rc *RunContext) StartSpanForNode(ctx context.Context, spanName string) (context.Context, trace.Span) {
	ctx, span := StartSpan(ctx, spanName)
	span.SetAttributes(
		attribute.String(AttrPipelineName, rc.PipelineName),
		attribute.String(AttrNodeName, rc.NodeName),
	)
	if rc.RunID != "" {
		span.SetAttributes(attribute.String(AttrRunID, rc.RunID))
	}

	if rc.Metrics != nil {
		rc.Metrics.RecordNodeStart(ctx)
	}
	return ctx, span
}

// EndNode ends the span and records node-end metrics.
func (rc *RunContext) EndNode(ctx context.Context, span trace.Span, status string, err error) {
	duration := time.Since(rc.StartTime)

	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String(AttrErrorMessage, err.Error()))
	}

	span.SetAttributes(
		attribute.String(AttrStatus, status),
		attribute.Int64(AttrDurationMs, duration.Milliseconds()),
	)
	span.End()

	if rc.Metrics != nil {
		rc.Metrics.RecordNodeEnd(ctx, rc.PipelineName, rc.NodeName, status, duration)
	}
}

// Duration returns the elapsed time since the node started.
func (rc *RunContext) Duration() time.Duration {
	return time.Since(rc.StartTime)
}
