// Package tracing wires OpenTelemetry spans for runs, courses and activities.
// Spans are exported as JSON lines to a local file; when tracing is disabled
// the global no-op provider is left in place.
package tracing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"lmsrun/internal/logging"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "lmsrun"

// Common span attribute keys.
var (
	AttrCourseID    = attribute.Key("lms.course.id")
	AttrCourseName  = attribute.Key("lms.course.name")
	AttrActivityURL = attribute.Key("lms.activity.url")
	AttrActivityTyp = attribute.Key("lms.activity.type")
	AttrAttempt     = attribute.Key("lms.attempt")
	AttrBatch       = attribute.Key("lms.batch")
	AttrRunID       = attribute.Key("lms.run.id")
)

// Shutdown flushes and stops the provider.
type Shutdown func(context.Context) error

// Init installs a tracer provider exporting to path. The returned shutdown
// must be called before exit to flush pending spans.
func Init(ctx context.Context, path, version string) (Shutdown, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create traces directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open traces file: %w", err)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(f))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(tracerName),
		semconv.ServiceVersionKey.String(version),
	))
	if err != nil {
		logging.BootWarn("otel resource init failed (continuing): %v", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	logging.Boot("Tracing enabled: %s", path)

	return func(ctx context.Context) error {
		err := tp.Shutdown(ctx)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		return err
	}, nil
}

// Start opens a span on the global provider.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err on span (if any) and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
