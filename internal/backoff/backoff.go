// Package backoff provides exponential backoff with jitter, shared by the
// sink delivery retry, the runner spawn retry, and the dispatcher
// backpressure pause (spec §4.4, §4.5, §7).
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	InitialMs float64
	MaxMs     float64
	Factor    float64
	Jitter    float64 // 0.0-1.0
}

// DefaultPolicy is used by sink delivery retries (internal/sink) unless
// the sink's Config overrides it.
func DefaultPolicy() Policy {
	return Policy{InitialMs: 200, MaxMs: 30_000, Factor: 2, Jitter: 0.1}
}

// Compute returns the backoff duration for attempt (1-indexed).
func Compute(p Policy, attempt int) time.Duration {
	return computeWithRand(p, attempt, rand.Float64()) //nolint:gosec // jitter, not security sensitive
}

func computeWithRand(p Policy, attempt int, r float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := p.InitialMs * math.Pow(p.Factor, exp)
	jitter := base * p.Jitter * r
	total := math.Min(p.MaxMs, base+jitter)
	return time.Duration(math.Round(total)) * time.Millisecond
}

// Sleep blocks for d or until ctx is cancelled, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SleepAttempt computes the backoff for attempt and sleeps that long.
func SleepAttempt(ctx context.Context, p Policy, attempt int) error {
	return Sleep(ctx, Compute(p, attempt))
}

// Budget bounds the number of attempts a retry loop may make; Exhausted
// reports whether attempt has used up the budget.
type Budget struct {
	MaxAttempts int
}

func (b Budget) Exhausted(attempt int) bool {
	return b.MaxAttempts > 0 && attempt >= b.MaxAttempts
}
