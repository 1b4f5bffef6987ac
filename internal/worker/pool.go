// Package worker provides a bounded pool for I/O-bound jobs that must not run
// on the caller's goroutine.
package worker

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultSize is used when a pool is created with a non-positive size.
const DefaultSize = 8

// Pool runs jobs on background goroutines with at most size of them running
// at once.
type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Go schedules fn. When after is non-nil the job waits for it to be closed
// before taking a slot, so a chain of jobs never holds slots while blocked on
// its predecessor. Go never blocks.
func (p *Pool) Go(after <-chan struct{}, fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if after != nil {
			<-after
		}
		// Acquire with a background context cannot fail.
		_ = p.sem.Acquire(context.Background(), 1)
		defer p.sem.Release(1)
		fn()
	}()
}

// Wait blocks until every scheduled job has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
