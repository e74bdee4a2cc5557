package resilience

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy bounds retries of a remote call with jittered exponential
// backoff: base × 2^attempt, capped at max, with up to 50% random jitter.
type RetryPolicy struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Do runs fn up to MaxRetries+1 times, sleeping between attempts.
// It returns the last error, or ctx.Err() if the context ends first.
// ErrCircuitOpen is not retried; the breaker has already decided.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil || err == ErrCircuitOpen {
			return err
		}
		if attempt >= p.MaxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.backoff(attempt)):
		}
	}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.BaseBackoff << attempt
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	if d <= 0 {
		return 0
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	return d/2 + jitter
}
