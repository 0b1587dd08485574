package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys set on attempt spans.
const (
	AttrEndpoint   = attribute.Key("crankmeter.endpoint")
	AttrOutcome    = attribute.Key("crankmeter.outcome")
	AttrBytes      = attribute.Key("crankmeter.bytes")
	AttrBytesSent  = attribute.Key("crankmeter.bytes_sent")
	AttrStatusCode = attribute.Key("http.response.status_code")
)

// StartRequestSpan starts a client span for one measured attempt.
func StartRequestSpan(ctx context.Context, tracer trace.Tracer, endpoint string) (context.Context, trace.Span) {
	name := "http request"
	if endpoint != "" {
		name = "http " + endpoint
	}
	ctx, span := tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	if endpoint != "" {
		span.SetAttributes(AttrEndpoint.String(endpoint))
	}
	return ctx, span
}

// EndSpan finishes a span, marking it failed when err is non-nil.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectHTTPHeaders writes the W3C trace context of ctx into headers.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
