// Package resilience provides reliability patterns for remote embedding,
// rerank, and LLM calls: a circuit breaker and bounded retries with
// jittered backoff.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker isolates a failing remote endpoint. Consecutive failures trip the
// circuit open; after the cooldown a single probe call is admitted and its
// outcome decides whether the circuit closes again.
type Breaker struct {
	mu          sync.Mutex
	maxFailures int
	cooldown    time.Duration

	failures int
	open     bool
	probing  bool
	openedAt time.Time

	now func() time.Time // test hook
}

// NewBreaker returns a breaker that opens after maxFailures consecutive
// failures and admits a probe once cooldown has elapsed.
func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	return &Breaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Execute runs fn unless the circuit is open inside its cooldown window.
// While a half-open probe is in flight every other call is rejected.
func (b *Breaker) Execute(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}

	callErr := fn()
	b.settle(probe, callErr)
	return callErr
}

func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return false, nil
	}
	if b.probing || b.now().Sub(b.openedAt) < b.cooldown {
		return false, ErrCircuitOpen
	}
	b.probing = true
	return true, nil
}

func (b *Breaker) settle(probe bool, callErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
	}
	if callErr == nil {
		b.failures = 0
		b.open = false
		return
	}

	b.failures++
	if probe || b.failures >= b.maxFailures {
		b.open = true
		b.openedAt = b.now()
	}
}
