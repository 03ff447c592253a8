package tracing

import (
	"context"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestHeaderCarrier_RoundTrip(t *testing.T) {
	t.Parallel()

	prop := propagation.TraceContext{}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01, 0x02},
		SpanID:     trace.SpanID{0x03},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	out := &headerCarrier{}
	prop.Inject(ctx, out)
	prop.Inject(ctx, out)
	assert.Len(t, out.headers, 1, "re-injecting must overwrite")

	consumed := &sarama.ConsumerMessage{}
	for i := range out.headers {
		consumed.Headers = append(consumed.Headers, &out.headers[i])
	}
	in := &headerCarrier{}
	for _, h := range consumed.Headers {
		in.headers = append(in.headers, *h)
	}
	got := trace.SpanContextFromContext(prop.Extract(context.Background(), in))
	assert.Equal(t, sc.TraceID(), got.TraceID())
	assert.Equal(t, sc.SpanID(), got.SpanID())
	assert.True(t, got.IsRemote())
}
