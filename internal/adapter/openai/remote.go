// Package openai implements the embedding, rerank, and LLM ports against
// OpenAI-compatible HTTP endpoints. All calls go through a circuit breaker,
// bounded retries, and a per-endpoint concurrency cap.
package openai

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mnemolabs/palace/internal/resilience"
)

// Limits bundles the reliability settings applied to one remote endpoint.
type Limits struct {
	MaxFailures   int
	BreakTimeout  time.Duration
	CallTimeout   time.Duration
	MaxRetries    int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	MaxConcurrent int
}

// remote guards calls to a single endpoint.
type remote struct {
	breaker *resilience.Breaker
	retry   resilience.RetryPolicy
	sem     *semaphore.Weighted
	timeout time.Duration
}

func newRemote(l Limits) *remote {
	r := &remote{
		breaker: resilience.NewBreaker(l.MaxFailures, l.BreakTimeout),
		retry: resilience.RetryPolicy{
			MaxRetries:  l.MaxRetries,
			BaseBackoff: l.BaseBackoff,
			MaxBackoff:  l.MaxBackoff,
		},
		timeout: l.CallTimeout,
	}
	if l.MaxConcurrent > 0 {
		r.sem = semaphore.NewWeighted(int64(l.MaxConcurrent))
	}
	return r
}

// call runs fn under the endpoint's concurrency cap, breaker, retry policy,
// and per-call deadline.
func (r *remote) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer r.sem.Release(1)
	}
	return r.retry.Do(ctx, func(ctx context.Context) error {
		return r.breaker.Execute(func() error {
			callCtx := ctx
			if r.timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, r.timeout)
				defer cancel()
			}
			return fn(callCtx)
		})
	})
}
