package web

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

type ctxKey int

const key ctxKey = 1

// Values represent state for each request.
type Values struct {
	TraceID    string
	Tracer     trace.Tracer
	Writer     http.ResponseWriter
	StatusCode int
}

func getValues(ctx context.Context) *Values {
	v, ok := ctx.Value(key).(*Values)
	if !ok {
		return &Values{TraceID: "00000000-0000-0000-0000-000000000000"}
	}

	return v
}

// GetTraceID returns the trace id from the context.
func GetTraceID(ctx context.Context) string {
	return getValues(ctx).TraceID
}

// GetWriter returns the underlying writer for the request.
func GetWriter(ctx context.Context) http.ResponseWriter {
	return getValues(ctx).Writer
}

// GetStatusCode returns the status code written for the request.
func GetStatusCode(ctx context.Context) int {
	return getValues(ctx).StatusCode
}

func setStatusCode(ctx context.Context, statusCode int) {
	v, ok := ctx.Value(key).(*Values)
	if !ok {
		return
	}

	v.StatusCode = statusCode
}

func setValues(ctx context.Context, v *Values) context.Context {
	return context.WithValue(ctx, key, v)
}

// SetTraceID overrides the trace id for the request, typically with the id
// of the active otel span.
func SetTraceID(ctx context.Context, traceID string) {
	v, ok := ctx.Value(key).(*Values)
	if !ok {
		return
	}

	v.TraceID = traceID
}
