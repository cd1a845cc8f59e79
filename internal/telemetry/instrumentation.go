package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span and metric attributes must stay low cardinality: operation names, backends, statuses.
// Download identifiers, URLs and file locations go to logs, never to attributes.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation wraps fn in a span tagged with the operation and component.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments database operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	t.RecordDBOperation(operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentServiceOperation instruments calls into the download service. Errors matching one of
// expected are recorded as success.
func (t *Telemetry) InstrumentServiceOperation(ctx context.Context, backend, operation string, fn InstrumentedFunc, expected ...error) error {
	if t == nil {
		return fn(ctx)
	}

	err := t.InstrumentOperation(ctx, "service_"+operation, "download_service", func(ctx context.Context) error {
		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.SetAttributes(
				attribute.String("service.backend", backend),
				attribute.String("service.operation", operation),
			)
		}

		return fn(ctx)
	})

	status := statusOf(err)

	for _, e := range expected {
		if errors.Is(err, e) {
			status = "success"
		}
	}

	t.RecordServiceOperation(backend, operation, status)

	return err
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}
