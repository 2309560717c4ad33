package worker

import (
	"golang.org/x/time/rate"

	"github.com/civiclens/civiclens/internal/model"
)

// NewLimiter builds the shared rate limiter for Threads API traffic. All
// requests hit a single host, so one limiter covers both the fetch client
// and the reply dispatcher.
func NewLimiter(cfg model.RateLimitingConfig) *rate.Limiter {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 5
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
