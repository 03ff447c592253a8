package jira

import (
	"context"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/time/rate"
)

// Jira Data Center does not publish a fixed limit. Stay well below the point
// where it starts answering 429.
const (
	defaultRPS   = 10
	defaultBurst = 20
)

// throttle paces requests to one Jira instance and slows down as the quota
// advertised in X-RateLimit-Remaining drains.
type throttle struct {
	mu      sync.RWMutex
	limiter *rate.Limiter
}

func newThrottle() *throttle {
	return &throttle{limiter: rate.NewLimiter(defaultRPS, defaultBurst)}
}

func (t *throttle) wait(ctx context.Context) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.limiter.Wait(ctx)
}

// observe adjusts the pace from the rate limit headers of a response.
// Responses without the header leave the pace unchanged.
func (t *throttle) observe(h http.Header) {
	remaining, err := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	if err != nil {
		return
	}

	limit, burst := rate.Limit(defaultRPS), defaultBurst
	switch {
	case remaining <= 0:
		limit, burst = 1, 1
	case remaining < defaultBurst:
		limit, burst = rate.Limit(float64(remaining)/2), 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.limiter.SetLimit(limit)
	t.limiter.SetBurst(burst)
}

func (t *throttle) limit() (rate.Limit, int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.limiter.Limit(), t.limiter.Burst()
}
