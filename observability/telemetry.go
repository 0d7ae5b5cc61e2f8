// Package observability provides OpenTelemetry integration, run metrics
// and audit logging. Everything in it attaches to commands through the
// command.RunObserver interface.
package observability

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/victoralfred/gospawn/command"
)

// TelemetryConfig configures telemetry.
type TelemetryConfig struct {
	// ServiceName is the service name for tracing.
	ServiceName string

	// ServiceVersion is the service version.
	ServiceVersion string

	// Environment is the deployment environment.
	Environment string

	// EnableTracing enables span creation around runs.
	EnableTracing bool

	// EnableMetrics enables OTEL instrument recording.
	EnableMetrics bool

	// MetricsPrefix is the prefix for all instruments.
	MetricsPrefix string
}

// DefaultTelemetryConfig returns default configuration.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		ServiceName:    "gospawn",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		EnableTracing:  true,
		EnableMetrics:  true,
		MetricsPrefix:  "gospawn_",
	}
}

// Telemetry traces and measures command runs. It opens a span in
// RunStarted and closes it in RunCompleted, so it should be registered
// before observers that want the span in their context.
type Telemetry struct {
	config TelemetryConfig
	tracer trace.Tracer
	meter  metric.Meter

	runCounter     metric.Int64Counter
	runDuration    metric.Float64Histogram
	activeRuns     metric.Int64UpDownCounter
	failureCounter metric.Int64Counter
	capturedBytes  metric.Int64Counter
}

// NewTelemetry creates a new telemetry observer.
func NewTelemetry(config TelemetryConfig) (*Telemetry, error) {
	t := &Telemetry{
		config: config,
		tracer: otel.Tracer(config.ServiceName),
		meter:  otel.Meter(config.ServiceName),
	}

	var err error

	t.runCounter, err = t.meter.Int64Counter(
		config.MetricsPrefix+"runs_total",
		metric.WithDescription("Total number of command runs"),
	)
	if err != nil {
		return nil, err
	}

	t.runDuration, err = t.meter.Float64Histogram(
		config.MetricsPrefix+"run_duration_seconds",
		metric.WithDescription("Duration of command run calls"),
	)
	if err != nil {
		return nil, err
	}

	t.activeRuns, err = t.meter.Int64UpDownCounter(
		config.MetricsPrefix+"active_runs",
		metric.WithDescription("Number of currently active runs"),
	)
	if err != nil {
		return nil, err
	}

	t.failureCounter, err = t.meter.Int64Counter(
		config.MetricsPrefix+"run_failures_total",
		metric.WithDescription("Total number of failed run calls"),
	)
	if err != nil {
		return nil, err
	}

	t.capturedBytes, err = t.meter.Int64Counter(
		config.MetricsPrefix+"captured_bytes_total",
		metric.WithDescription("Bytes captured from child stdout and stderr"),
	)
	if err != nil {
		return nil, err
	}

	return t, nil
}

// RunStarted implements command.RunObserver.
func (t *Telemetry) RunStarted(ctx context.Context, start command.RunStart) (context.Context, error) {
	if t.config.EnableTracing {
		ctx, _ = t.tracer.Start(ctx, "command.run",
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(
				attribute.String("command.id", start.CommandID),
				attribute.String("command.path", start.Path),
				attribute.String("run.id", start.RunID),
				attribute.Bool("run.wait", start.WaitMode),
			),
		)
	}

	if t.config.EnableMetrics {
		t.activeRuns.Add(ctx, 1, metric.WithAttributes(
			attribute.String("command.id", start.CommandID),
		))
	}

	return ctx, nil
}

// RunCompleted implements command.RunObserver.
func (t *Telemetry) RunCompleted(ctx context.Context, report command.Report) {
	if t.config.EnableTracing {
		span := trace.SpanFromContext(ctx)
		if report.Recorded {
			span.SetAttributes(attribute.Int("run.exit_code", report.ExitCode))
		}
		if report.Signal != "" {
			span.SetAttributes(attribute.String("run.signal", report.Signal))
		}
		if report.Err != nil {
			span.RecordError(report.Err)
			span.SetStatus(codes.Error, string(command.GetErrorCode(report.Err)))
		}
		span.End()
	}

	if t.config.EnableMetrics {
		attrs := metric.WithAttributes(
			attribute.String("command.id", report.CommandID),
			attribute.String("run.outcome", Outcome(report)),
		)
		t.activeRuns.Add(ctx, -1, metric.WithAttributes(
			attribute.String("command.id", report.CommandID),
		))
		t.runCounter.Add(ctx, 1, attrs)
		t.runDuration.Record(ctx, report.Duration.Seconds(), attrs)
		if report.Failed() {
			t.failureCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.String("command.id", report.CommandID),
				attribute.String("error.code", string(command.GetErrorCode(report.Err))),
			))
		}
		if report.StdoutBytes > 0 {
			t.capturedBytes.Add(ctx, int64(report.StdoutBytes), metric.WithAttributes(
				attribute.String("command.id", report.CommandID),
				attribute.String("io.stream", "stdout"),
			))
		}
		if report.StderrBytes > 0 {
			t.capturedBytes.Add(ctx, int64(report.StderrBytes), metric.WithAttributes(
				attribute.String("command.id", report.CommandID),
				attribute.String("io.stream", "stderr"),
			))
		}
	}
}

// Outcome classifies a finished run call for low-cardinality labels.
func Outcome(report command.Report) string {
	switch {
	case errors.Is(report.Err, command.ErrRateLimited):
		return "rate_limited"
	case errors.Is(report.Err, command.ErrHookRejected):
		return "rejected"
	case report.Err != nil:
		return "error"
	case !report.WaitMode:
		return "detached"
	case report.KilledBySignal():
		return "signal"
	case report.ExitCode != 0:
		return "exit_code"
	default:
		return "success"
	}
}
