package bootstrap

import (
	"context"
	"time"
)

// Policy bounds and paces retry loops. The zero value retries forever
// without pausing, which is what the harness runs with.
type Policy struct {
	// MaxAttempts caps the number of attempts per loop; 0 means unbounded.
	MaxAttempts int
	// Backoff returns the pause after the given failed attempt (1-based).
	// nil means no pause.
	Backoff func(attempt int) time.Duration
}

// Unbounded retries forever with no backoff.
func Unbounded() Policy {
	return Policy{}
}

// Fixed retries up to max times, pausing d between attempts.
func Fixed(max int, d time.Duration) Policy {
	return Policy{
		MaxAttempts: max,
		Backoff:     func(int) time.Duration { return d },
	}
}

// Exponential doubles the pause from base up to limit.
func Exponential(max int, base, limit time.Duration) Policy {
	return Policy{
		MaxAttempts: max,
		Backoff: func(attempt int) time.Duration {
			d := base
			for i := 1; i < attempt && d < limit; i++ {
				d *= 2
			}
			return min(d, limit)
		},
	}
}

func (p Policy) exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

func (p Policy) wait(ctx context.Context, attempt int) error {
	if p.Backoff == nil {
		return ctx.Err()
	}
	d := p.Backoff(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
