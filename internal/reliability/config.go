package reliability

import "time"

// Config holds the tunables for one gateway's Guard.
type Config struct {
	RetryMaxAttempts    int
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
	RateLimitInterval   time.Duration
	RateLimitBurst      int
}

// NewGuard builds a Guard from cfg. A zero breaker or rate-limit setting
// leaves that control out. shouldRetry decides which errors are retried.
func NewGuard(cfg Config, shouldRetry func(error) bool, onWait func(time.Duration)) *Guard {
	g := &Guard{
		Retry: RetryPolicy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
			ShouldRetry: shouldRetry,
		},
	}
	if cfg.BreakerMaxFailures > 0 {
		g.Breaker = NewCircuitBreaker(CircuitBreakerConfig{
			MaxFailures:  cfg.BreakerMaxFailures,
			ResetTimeout: cfg.BreakerResetTimeout,
		})
	}
	if cfg.RateLimitInterval > 0 && cfg.RateLimitBurst > 0 {
		g.Limiter = NewRateLimiter(cfg.RateLimitInterval, cfg.RateLimitBurst, onWait)
	}
	return g
}
