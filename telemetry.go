package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// tracer and meter are process-wide; initTelemetry replaces the no-op
// defaults when telemetry is enabled.
var (
	tracer trace.Tracer = noop.NewTracerProvider().Tracer("vitrine")

	predictCounter  metric.Int64Counter
	predictDuration metric.Float64Histogram
)

// initTelemetry wires OTel tracing and metrics with stdout exporters
// writing to rotated files under cfg.Dir. Spans cover pipeline calls and
// queue processing; an OTEL collector can still attach via the SDK.
// The returned shutdown func flushes both providers.
func initTelemetry(ctx context.Context, cfg TelemetryConfig) (func(), error) {
	if !cfg.Enabled {
		return func() {}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("vitrine"),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	dir := cfg.dirOrDefault()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create telemetry dir: %w", err)
	}

	traceSink := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "vitrine_traces.log"),
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(traceSink))
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	tracer = tp.Tracer("vitrine")

	metricSink := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "vitrine_metrics.log"),
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(metricSink))
	if err != nil {
		return nil, fmt.Errorf("metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
			sdkmetric.WithInterval(30*time.Second))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	meter := mp.Meter("vitrine")

	predictCounter, err = meter.Int64Counter("vitrine.predictions",
		metric.WithDescription("Total prediction dispatches"))
	if err != nil {
		return nil, fmt.Errorf("predictions counter: %w", err)
	}
	predictDuration, err = meter.Float64Histogram("vitrine.prediction.duration",
		metric.WithDescription("Prediction latency in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("prediction histogram: %w", err)
	}

	shutdown := func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			logWarn("trace provider shutdown", "error", err)
		}
		if err := mp.Shutdown(sctx); err != nil {
			logWarn("meter provider shutdown", "error", err)
		}
	}
	return shutdown, nil
}

// recordPrediction feeds the dispatch instruments. No-op when telemetry
// is disabled.
func recordPrediction(ctx context.Context, fnIndex int, elapsed time.Duration, ok bool) {
	if predictCounter == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.Int("fn_index", fnIndex),
		attribute.Bool("ok", ok),
	)
	predictCounter.Add(ctx, 1, attrs)
	predictDuration.Record(ctx, elapsed.Seconds(), attrs)
}
