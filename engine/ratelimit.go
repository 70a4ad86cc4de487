package engine

import (
	"context"
	"sync"

	"github.com/c360studio/taskpilot/task"
	"golang.org/x/time/rate"
)

// RateLimiters gates outbound agent invocations per agent kind with a token
// bucket shared across tasks, so one busy task can't starve the provider
// quota for everything else.
type RateLimiters struct {
	mu       sync.Mutex
	perMin   float64
	burst    int
	limiters map[task.AgentKind]*rate.Limiter
}

// NewRateLimiters creates limiters allowing requestsPerMinute sustained
// calls per agent kind. Zero or negative disables limiting.
func NewRateLimiters(requestsPerMinute float64, burst int) *RateLimiters {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiters{
		perMin:   requestsPerMinute,
		burst:    burst,
		limiters: make(map[task.AgentKind]*rate.Limiter),
	}
}

// Wait blocks until a token is available for the agent kind, or the context
// is cancelled.
func (r *RateLimiters) Wait(ctx context.Context, kind task.AgentKind) error {
	if r == nil || r.perMin <= 0 {
		return nil
	}
	return r.limiter(kind).Wait(ctx)
}

func (r *RateLimiters) limiter(kind task.AgentKind) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	lim, ok := r.limiters[kind]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(r.perMin/60.0), r.burst)
		r.limiters[kind] = lim
	}
	return lim
}
