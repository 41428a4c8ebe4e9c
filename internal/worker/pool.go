// Package worker provides a bounded pool for blocking work (model calls,
// compression passes, job firings) so the gateway event loop never blocks.
package worker

import (
	"context"
	"log"
	"sync"

	"golang.org/x/sync/semaphore"
)

type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Submit enqueues fn and returns immediately; fn runs on its own goroutine
// once a slot frees. The caller never waits on a saturated pool, so tasks may
// safely submit follow-up work from inside the pool. Cancelling ctx while fn
// is still queued drops it.
func (p *Pool) Submit(ctx context.Context, fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			log.Printf("[worker] queued task dropped: %v", err)
			return
		}
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[worker] task panic: %v", r)
			}
		}()
		fn()
	}()
}

// Wait blocks until all submitted tasks have finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}
