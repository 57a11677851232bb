package retriever

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// FetchLimiter bounds the number of simultaneous outstanding fetches. One
// limiter is created by the application and shared by every retriever that
// talks to the same upstream.
type FetchLimiter struct {
	sem   *semaphore.Weighted
	size  int64
	inUse atomic.Int64
}

func NewFetchLimiter(maxConcurrent int) (*FetchLimiter, error) {
	if maxConcurrent <= 0 {
		return nil, fmt.Errorf("max concurrent fetches must be positive, got %d", maxConcurrent)
	}
	return &FetchLimiter{
		sem:  semaphore.NewWeighted(int64(maxConcurrent)),
		size: int64(maxConcurrent),
	}, nil
}

// Do runs fn while holding one slot. The slot is released on every exit
// path, including panics in fn.
func (l *FetchLimiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to acquire fetch slot: %w", err)
	}
	l.inUse.Add(1)
	defer func() {
		l.inUse.Add(-1)
		l.sem.Release(1)
	}()

	return fn(ctx)
}

// InUse returns the number of slots currently held.
func (l *FetchLimiter) InUse() int {
	return int(l.inUse.Load())
}

func (l *FetchLimiter) Size() int {
	return int(l.size)
}
