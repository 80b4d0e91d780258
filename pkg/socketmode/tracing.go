package socketmode

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func (c *Client) startSpan(ctx context.Context, e Envelope) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("slack.socket_mode.message_type", e.Type),
		attribute.String("slack.socket_mode.envelope_id", e.EnvelopeID),
		attribute.Bool("slack.socket_mode.accepts_response_payload", e.AcceptsResponsePayload),
	}
	if e.RetryAttempt != nil {
		attrs = append(attrs, attribute.Int("slack.socket_mode.retry_attempt", *e.RetryAttempt))
	}
	if e.RetryReason != nil {
		attrs = append(attrs, attribute.String("slack.socket_mode.retry_reason", *e.RetryReason))
	}

	return c.tracer.Start(ctx, "socketmode.dispatch",
		trace.WithSpanKind(trace.SpanKindConsumer), trace.WithAttributes(attrs...))
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
