package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// instrumenter records a trace span, a latency histogram and an error
// counter for each store call. The instrument names are prefixed with the
// component, e.g. "ratelimit.store.operation.duration".
type instrumenter struct {
	component string
	tracer    trace.Tracer
	duration  metric.Float64Histogram
	errors    metric.Int64Counter
}

func newInstrumenter(component string) (*instrumenter, error) {
	tracer := otel.Tracer("gatekeeper/" + component)
	meter := otel.Meter("gatekeeper/" + component)

	duration, err := meter.Float64Histogram(
		component+".operation.duration",
		metric.WithDescription("Duration of "+component+" operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		component+".operation.errors",
		metric.WithDescription("Number of "+component+" operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &instrumenter{
		component: component,
		tracer:    tracer,
		duration:  duration,
		errors:    errCounter,
	}, nil
}

func (in *instrumenter) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return in.tracer.Start(ctx, in.component+"."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String(in.component+".operation", operation),
		}, attrs...)...),
	)
}

func (in *instrumenter) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(attribute.String("operation", operation))

	in.duration.Record(ctx, elapsed, attrs)

	if err != nil {
		in.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}
