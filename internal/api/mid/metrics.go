package mid

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ahrav/flawtracker/pkg/web"
)

// RequestMetrics records HTTP request counts and latencies.
type RequestMetrics interface {
	IncRequestsTotal(ctx context.Context, method, path string, status int)
	ObserveRequestDuration(ctx context.Context, method, path string, duration time.Duration)
}

// Metrics records request metrics. It reports the route pattern rather than
// the raw path so flaw IDs do not explode label cardinality.
func Metrics(m RequestMetrics) web.MidFunc {
	mw := func(next web.HandlerFunc) web.HandlerFunc {
		h := func(ctx context.Context, r *http.Request) web.Encoder {
			start := time.Now()

			resp := next(ctx, r)

			route := r.URL.Path
			if _, pattern, ok := strings.Cut(r.Pattern, " "); ok {
				route = pattern
			}
			m.IncRequestsTotal(ctx, r.Method, route, web.StatusCode(resp))
			m.ObserveRequestDuration(ctx, r.Method, route, time.Since(start))

			return resp
		}

		return h
	}

	return mw
}
