package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mnemolabs/palace/internal/domain"
)

// WriteLane serializes store mutations at two levels: a global admission
// cap and exclusive, FIFO-ordered access per record. Tokens are acquired
// global-first and released in reverse.
type WriteLane struct {
	global      *semaphore.Weighted
	waitTimeout time.Duration

	mu      sync.Mutex
	records map[string]*recordQueue
}

type recordQueue struct {
	busy    bool
	waiters []chan struct{}
}

// NewWriteLane creates a lane admitting at most globalConcurrency writers.
func NewWriteLane(globalConcurrency int, waitTimeout time.Duration) *WriteLane {
	if globalConcurrency < 1 {
		globalConcurrency = 1
	}
	return &WriteLane{
		global:      semaphore.NewWeighted(int64(globalConcurrency)),
		waitTimeout: waitTimeout,
		records:     make(map[string]*recordQueue),
	}
}

// Acquire takes the global token and the per-record token for recordID.
// Waiting longer than the lane timeout fails with lane_timeout and leaves
// no token held. The returned release function must be called exactly once.
func (l *WriteLane) Acquire(ctx context.Context, recordID string) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, l.waitTimeout)
	defer cancel()

	if err := l.global.Acquire(waitCtx, 1); err != nil {
		return nil, l.admissionErr(ctx, err)
	}
	if err := l.acquireRecord(waitCtx, recordID); err != nil {
		l.global.Release(1)
		return nil, l.admissionErr(ctx, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.releaseRecord(recordID)
			l.global.Release(1)
		})
	}, nil
}

// admissionErr maps a wait failure to lane_timeout unless the caller's own
// context ended first.
func (l *WriteLane) admissionErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("lane wait exceeded %s: %w", l.waitTimeout, domain.ErrLaneTimeout)
}

func (l *WriteLane) acquireRecord(ctx context.Context, recordID string) error {
	l.mu.Lock()
	q := l.records[recordID]
	if q == nil {
		q = &recordQueue{}
		l.records[recordID] = q
	}
	if !q.busy && len(q.waiters) == 0 {
		q.busy = true
		l.mu.Unlock()
		return nil
	}

	// Join the FIFO queue; the releasing writer hands the token over.
	grant := make(chan struct{})
	q.waiters = append(q.waiters, grant)
	l.mu.Unlock()

	select {
	case <-grant:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, w := range q.waiters {
			if w == grant {
				q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
				l.mu.Unlock()
				return ctx.Err()
			}
		}
		l.mu.Unlock()
		// The grant raced the timeout; give the token back.
		l.releaseRecord(recordID)
		return ctx.Err()
	}
}

func (l *WriteLane) releaseRecord(recordID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	q := l.records[recordID]
	if q == nil {
		return
	}
	if len(q.waiters) > 0 {
		grant := q.waiters[0]
		q.waiters = q.waiters[1:]
		close(grant) // busy stays set; ownership transfers to the waiter
		return
	}
	delete(l.records, recordID)
}

// IsLaneTimeout reports whether err is a lane admission timeout.
func IsLaneTimeout(err error) bool {
	return errors.Is(err, domain.ErrLaneTimeout)
}
