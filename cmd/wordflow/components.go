package main

import (
	"context"
	"errors"
	"sync"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/kbukum/flowkit/config"
	"github.com/kbukum/flowkit/dataflow"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/observability"
	"github.com/kbukum/flowkit/server"
	"github.com/kbukum/flowkit/wordflow"
)

// telemetry installs the OTLP tracer and meter providers when enabled.
type telemetry struct {
	svc *config.ServiceConfig
	tp  *sdktrace.TracerProvider
	mp  *sdkmetric.MeterProvider
}

func (t *telemetry) Name() string { return "telemetry" }

func (t *telemetry) Start(ctx context.Context) error {
	cfg := t.svc.Telemetry
	if !cfg.Enabled {
		return nil
	}
	tp, err := observability.InitTracer(ctx, cfg.TracerConfig(t.svc.Name, t.svc.Version, t.svc.Environment))
	if err != nil {
		return err
	}
	t.tp = tp
	mp, err := observability.InitMeter(ctx, cfg.MeterConfig(t.svc.Name, t.svc.Version, t.svc.Environment))
	if err != nil {
		return err
	}
	t.mp = mp
	return nil
}

func (t *telemetry) Stop(ctx context.Context) error {
	var errs []error
	if t.tp != nil {
		errs = append(errs, t.tp.Shutdown(ctx))
	}
	if t.mp != nil {
		errs = append(errs, t.mp.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

func (t *telemetry) CheckHealth(context.Context) observability.Health {
	h := observability.Health{Name: t.Name(), Status: observability.HealthStatusUp}
	if t.tp == nil {
		h.Message = "disabled"
	}
	return h
}

// wordStats owns the long-running word-stats pipeline and the options used
// for per-request fan-out runs.
type wordStats struct {
	opts    wordflow.WordStatsOptions
	log     *logger.Logger
	tracing bool

	mu       sync.RWMutex
	pipeline *dataflow.Pipeline[string, bool]
	options  []dataflow.Option
}

func (w *wordStats) Name() string { return "word-stats" }

func (w *wordStats) Start(_ context.Context) error {
	metrics, err := observability.NewStageMetrics(observability.Meter("wordflow"))
	if err != nil {
		return err
	}
	options := []dataflow.Option{dataflow.WithLogger(w.log), dataflow.WithInstruments(metrics)}
	if w.tracing {
		options = append(options, dataflow.WithTracing("wordflow"))
	}
	p, err := wordflow.NewWordStatsPipeline(w.opts, options...)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.pipeline, w.options = p, options
	w.mu.Unlock()
	return nil
}

func (w *wordStats) Stop(ctx context.Context) error {
	p := w.get()
	if p == nil {
		return nil
	}
	return p.Close(ctx)
}

func (w *wordStats) CheckHealth(ctx context.Context) observability.Health {
	p := w.get()
	if p == nil {
		return observability.Health{Name: w.Name(), Status: observability.HealthStatusDown, Message: "not started"}
	}
	return p.Graph().CheckHealth(ctx)
}

func (w *wordStats) get() *dataflow.Pipeline[string, bool] {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.pipeline
}

func (w *wordStats) dataflowOptions() []dataflow.Option {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.options
}

// httpServer adapts server.Server to the component lifecycle.
type httpServer struct {
	*server.Server
}

func (h httpServer) Name() string { return "http" }

func (h httpServer) CheckHealth(context.Context) observability.Health {
	return observability.Health{
		Name:    h.Name(),
		Status:  observability.HealthStatusUp,
		Details: map[string]string{"addr": h.Addr()},
	}
}
