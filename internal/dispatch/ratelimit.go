package dispatch

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/mcpfed/mcpfed/internal/registry"
)

// rateLimiter holds one token bucket per tool name, sized from that tool's
// rate_limit configuration (burst_limit, max_calls_per_minute).
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{limiters: make(map[string]*rate.Limiter)}
}

func (r *rateLimiter) allow(toolName string, cfg registry.RateLimit) bool {
	r.mu.Lock()
	lim, ok := r.limiters[toolName]
	if !ok {
		perSecond := float64(cfg.MaxCallsPerMinute) / 60.0
		lim = rate.NewLimiter(rate.Limit(perSecond), cfg.BurstLimit)
		r.limiters[toolName] = lim
	}
	r.mu.Unlock()
	return lim.Allow()
}
