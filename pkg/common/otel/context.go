package otel

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// zeroTraceID is what log lines carry when no span is recording.
const zeroTraceID = "00000000000000000000000000000000"

// GetTraceID extracts the active trace id for log correlation. Every log line
// the service emits passes through here.
func GetTraceID(ctx context.Context) string {
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return zeroTraceID
}
