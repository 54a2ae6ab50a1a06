// Package observability provides OpenTelemetry tracing and metrics integration
// for pipeline runs.
//
// Tracing:
//
//	tp, err := observability.InitTracer(ctx, observability.DefaultTracerConfig("laktory"))
//	defer tp.Shutdown(ctx)
//
//	ctx, span := observability.StartSpan(ctx, observability.SpanPipelineRun)
//	defer span.End()
//
// Metrics:
//
//	mp, err := observability.InitMeter(ctx, observability.DefaultMeterConfig("laktory"))
//	defer mp.Shutdown(ctx)
//
//	metrics, err := observability.NewRunMetrics(observability.Meter("laktory"))
//	metrics.RecordNodeEnd(ctx, "sales", "brz_orders", "ok", duration)
package observability
