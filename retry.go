package poolx

import (
	"context"
	"fmt"
	"math"
	"time"
)

// BackoffPolicy defines the delay schedule between retried operations
type BackoffPolicy struct {
	InitialDelay time.Duration // Delay after the first failed attempt
	MaxDelay     time.Duration // Cap applied to every delay
	Multiplier   float64       // Exponential growth factor per attempt
}

// DefaultBackoffPolicy returns the pool's standard exponential backoff:
// 100ms doubled after every failed attempt, capped at 5s
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// delay computes the backoff for the given zero-based failed attempt
func (p BackoffPolicy) delay(attempt int) time.Duration {
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 1.0
	}

	d := float64(p.InitialDelay) * math.Pow(multiplier, float64(attempt))
	if d < 0 {
		d = 0
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

// wait sleeps for the attempt's backoff delay, honoring context cancellation
func (p BackoffPolicy) wait(ctx context.Context, attempt int) error {
	d := p.delay(attempt)
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("retry cancelled during backoff: %w", ctx.Err())
	}
}
