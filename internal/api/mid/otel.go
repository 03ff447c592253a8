package mid

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/flawtracker/pkg/common/otel"
	"github.com/ahrav/flawtracker/pkg/web"
)

// Otel stores the tracer in the context and wraps the handler in a span
// named after the matched route. The flaw id path value, when present, is
// recorded on the span.
func Otel(tracer trace.Tracer) web.MidFunc {
	m := func(next web.HandlerFunc) web.HandlerFunc {
		h := func(ctx context.Context, r *http.Request) web.Encoder {
			ctx = otel.InjectTracing(ctx, tracer)

			attrs := []attribute.KeyValue{attribute.String("http.route", r.Pattern)}
			if id := r.PathValue("id"); id != "" {
				attrs = append(attrs, attribute.String("flaw.id", id))
			}
			ctx, span := otel.AddSpan(ctx, "handler "+r.Pattern, attrs...)
			defer span.End()

			resp := next(ctx, r)
			if status := web.StatusCode(resp); status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
			return resp
		}

		return h
	}

	return m
}
