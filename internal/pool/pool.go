// Package pool provides the fixed-size worker pool shared by event-handler
// dispatch and scheduled-job execution.
package pool

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// WorkerPool bounds concurrent task execution and isolates panics so one
// misbehaving task cannot take down the dispatcher.
type WorkerPool struct {
	sem  *semaphore.Weighted
	wg   sync.WaitGroup
	size int64
}

// New creates a pool with the given number of workers.
func New(size int) *WorkerPool {
	if size <= 0 {
		size = 4
	}
	return &WorkerPool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: int64(size),
	}
}

// Submit runs the task on a worker, blocking only for admission. If the
// context is canceled before a worker is free the task is dropped.
func (p *WorkerPool) Submit(ctx context.Context, task func()) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		slog.Debug("Worker pool admission canceled", "error", err)
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Worker task panic", "panic", r)
			}
		}()

		task()
	}()
}

// Wait blocks until all admitted tasks have finished.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}
