// Package parallel provides the worker pool regions are protected on.
package parallel

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
)

// WorkerPool runs tasks on a bounded ants pool
type WorkerPool struct {
	pool       *ants.Pool
	wg         sync.WaitGroup
	isShutdown atomic.Bool

	// Metrics
	submitted atomic.Int64
	completed atomic.Int64
	errors    atomic.Int64
}

// WorkerPoolOptions configures the worker pool
type WorkerPoolOptions struct {
	Size        int
	PreAlloc    bool
	MaxBlocking int
}

// DefaultWorkerPoolOptions returns one worker per CPU
func DefaultWorkerPoolOptions() *WorkerPoolOptions {
	return &WorkerPoolOptions{
		Size:        runtime.NumCPU(),
		MaxBlocking: 0,
	}
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(opts *WorkerPoolOptions) (*WorkerPool, error) {
	if opts == nil {
		opts = DefaultWorkerPoolOptions()
	}
	if opts.Size <= 0 {
		opts.Size = runtime.NumCPU()
	}

	pool, err := ants.NewPool(
		opts.Size,
		ants.WithPreAlloc(opts.PreAlloc),
		ants.WithMaxBlockingTasks(opts.MaxBlocking),
	)
	if err != nil {
		return nil, err
	}

	return &WorkerPool{
		pool: pool,
	}, nil
}

// Submit adds a task to the worker pool
func (wp *WorkerPool) Submit(task func()) error {
	if wp.isShutdown.Load() {
		return ants.ErrPoolClosed
	}

	wp.submitted.Add(1)
	wp.wg.Add(1)

	err := wp.pool.Submit(func() {
		defer wp.wg.Done()
		defer wp.completed.Add(1)
		task()
	})
	if err != nil {
		wp.wg.Done()
		wp.submitted.Add(-1)
	}
	return err
}

// SubmitWithError adds a task that can return an error
func (wp *WorkerPool) SubmitWithError(task func() error) error {
	return wp.Submit(func() {
		if err := task(); err != nil {
			wp.errors.Add(1)
		}
	})
}

// Wait blocks until all submitted tasks complete
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// Shutdown waits for running tasks and releases the pool
func (wp *WorkerPool) Shutdown() {
	wp.isShutdown.Store(true)
	wp.Wait()
	wp.pool.Release()
}

// PoolStats is a snapshot of pool counters
type PoolStats struct {
	Running   int
	Capacity  int
	Submitted int64
	Completed int64
	Errors    int64
}

// Stats returns current worker pool statistics
func (wp *WorkerPool) Stats() PoolStats {
	return PoolStats{
		Running:   wp.pool.Running(),
		Capacity:  wp.pool.Cap(),
		Submitted: wp.submitted.Load(),
		Completed: wp.completed.Load(),
		Errors:    wp.errors.Load(),
	}
}

// Map runs fn for every index in [0, n) on the pool and waits for all of
// them. errs[i] is fn's error for index i. Tasks not yet started when ctx
// is cancelled get ctx's error instead.
func (wp *WorkerPool) Map(ctx context.Context, n int, fn func(ctx context.Context, i int) error) []error {
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		err := wp.SubmitWithError(func() error {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return err
			}
			errs[i] = fn(ctx, i)
			return errs[i]
		})
		if err != nil {
			errs[i] = err
			wg.Done()
		}
	}
	wg.Wait()
	return errs
}
