// Package observability wires OpenTelemetry into flowkit services: OTLP
// tracer and meter providers, the stage metric instruments used by the
// dataflow engine, span helpers and the health model.
//
//	cfg := svc.Telemetry
//	tp, err := observability.InitTracer(ctx, cfg.TracerConfig(svc.Name, svc.Version, svc.Environment))
//	defer tp.Shutdown(ctx)
//
//	metrics, err := observability.NewStageMetrics(observability.Meter("dataflow"))
//	metrics.RecordItem(ctx, "word-length", observability.StatusOK, duration)
//
//	health := observability.NewServiceHealth("wordflow", version.Version).Check(ctx, graph)
package observability
