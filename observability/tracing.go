package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/xraph/fanout"

// Tracer provides OpenTelemetry tracing for fanout. A nil *Tracer is valid and
// returns non-recording spans.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// NewTracerFromProvider creates a tracer from an explicit provider.
func NewTracerFromProvider(tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer(tracerName)}
}

// StartIngestSpan starts a span around one admission decision.
func (t *Tracer) StartIngestSpan(ctx context.Context, eventID string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, "fanout.ingest",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("fanout.event_id", eventID)),
	)
}

// StartDispatchSpan starts a span around one job's fan-out.
func (t *Tracer) StartDispatchSpan(ctx context.Context, jobID, eventID, accountID string, attempt int) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, "fanout.dispatch",
		trace.WithAttributes(
			attribute.String("fanout.job_id", jobID),
			attribute.String("fanout.event_id", eventID),
			attribute.String("fanout.account_id", accountID),
			attribute.Int("fanout.attempt", attempt),
		),
	)
}

// StartDeliverySpan starts a span for a single destination call.
func (t *Tracer) StartDeliverySpan(ctx context.Context, eventID string, destinationID int64, url string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, "fanout.delivery",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("fanout.event_id", eventID),
			attribute.Int64("fanout.destination_id", destinationID),
			attribute.String("url.full", url),
		),
	)
}

// EndDeliverySpan ends a delivery span with result attributes.
func (t *Tracer) EndDeliverySpan(span trace.Span, statusCode, latencyMs int, errText string) {
	span.SetAttributes(
		attribute.Int("http.response.status_code", statusCode),
		attribute.Int("fanout.latency_ms", latencyMs),
	)
	if errText != "" {
		span.SetStatus(codes.Error, errText)
		span.SetAttributes(attribute.String("fanout.error", errText))
	}
	span.End()
}

// EndSpan ends span, recording err when non-nil.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
