// Package ratelimit throttles outgoing ledger submissions client-side.
// Grounded on the teacher's request limiter
// (infrastructure/ratelimit/ratelimit.go): a token-bucket over
// golang.org/x/time/rate, generalized from per-HTTP-request throttling to
// per-submission throttling ahead of the submitter's dispatch call.
package ratelimit

import (
	"context"
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Config configures a RateLimiter's token bucket.
type Config struct {
	SubmissionsPerSecond float64
	Burst                int
}

// DefaultConfig allows a generous default so the limiter is a backstop, not
// a bottleneck, for single-client deployments.
func DefaultConfig() Config {
	return Config{SubmissionsPerSecond: 50, Burst: 100}
}

// FromEnv builds a Config from CHRONICLE_SUBMIT_RATE_LIMIT_PER_SECOND and
// CHRONICLE_SUBMIT_RATE_LIMIT_BURST, falling back to DefaultConfig.
func FromEnv() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("CHRONICLE_SUBMIT_RATE_LIMIT_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.SubmissionsPerSecond = f
		}
	}
	if v := os.Getenv("CHRONICLE_SUBMIT_RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Burst = n
		}
	}
	return cfg
}

// RateLimiter is a token-bucket submission throttle.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New builds a RateLimiter from cfg.
func New(cfg Config) *RateLimiter {
	if cfg.SubmissionsPerSecond <= 0 {
		cfg.SubmissionsPerSecond = DefaultConfig().SubmissionsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.SubmissionsPerSecond * 2)
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(cfg.SubmissionsPerSecond), cfg.Burst)}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Allow reports whether a submission may proceed without blocking, consuming
// a token if so.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// AllowN reports whether n submissions may proceed at time now.
func (r *RateLimiter) AllowN(now time.Time, n int) bool {
	return r.limiter.AllowN(now, n)
}
