package importer

import (
	"context"
	"fmt"
	"sync"

	"github.com/spaghettifunk/oxygen/engine/core"
)

var ErrNoWorkers = fmt.Errorf("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = fmt.Errorf("attempting to create worker pool with a negative channel size")

type poolTask struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

/**
 * @brief Runs CPU-bound import stages on a fixed set of workers.
 * Run suspends the caller until the stage finishes or its context is
 * canceled before dispatch; in-flight stages observe the context
 * themselves and return early.
 */
type WorkerPool struct {
	numWorkers int
	tasks      chan poolTask
	wg         sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewWorkerPool(numWorkers int, channelSize int) (*WorkerPool, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	wp := &WorkerPool{
		numWorkers: numWorkers,
		tasks:      make(chan poolTask, channelSize),
	}
	wp.start()
	return wp, nil
}

func (wp *WorkerPool) start() {
	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go func() {
			defer wp.wg.Done()
			for task := range wp.tasks {
				if err := task.ctx.Err(); err != nil {
					task.done <- fmt.Errorf("%w: canceled before dispatch", core.ErrCanceled)
					continue
				}
				task.done <- task.fn(task.ctx)
			}
		}()
	}
}

// Run executes fn on a pool worker and waits for it. A context
// canceled while the task is still queued resolves without running fn.
// Must not race Shutdown; the service joins every job before tearing
// the pool down.
func (wp *WorkerPool) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return fmt.Errorf("%w: worker pool shut down", core.ErrNotReady)
	}
	wp.mu.Unlock()

	task := poolTask{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case wp.tasks <- task:
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", core.ErrCanceled, ctx.Err())
	}
	select {
	case err := <-task.done:
		return err
	case <-ctx.Done():
		// The worker still owns the task; done is buffered so it never
		// blocks on us abandoning the wait.
		return fmt.Errorf("%w: %v", core.ErrCanceled, ctx.Err())
	}
}

/**
 * @brief Shuts the worker pool down after draining queued tasks.
 */
func (wp *WorkerPool) Shutdown() error {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return nil
	}
	wp.closed = true
	wp.mu.Unlock()

	close(wp.tasks)
	wp.wg.Wait()
	return nil
}

// Workers reports the configured worker count.
func (wp *WorkerPool) Workers() int {
	return wp.numWorkers
}
