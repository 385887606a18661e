package catalog

import (
	"context"
	"errors"
	"sync"
)

type task func(ctx context.Context)

// WorkerPool coordinates matching workers with a bounded queue to avoid
// deadlocks. Every submitted task is guaranteed to run: on cancellation the
// workers drain the queue with the cancelled context, which tasks observe
// and return from quickly.
type WorkerPool struct {
	ctx    context.Context
	cancel context.CancelFunc
	tasks  chan task
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// NewWorkerPool creates a pool with the given concurrency and queue size.
func NewWorkerPool(parent context.Context, concurrency, queueSize int) (*WorkerPool, error) {
	if concurrency <= 0 || queueSize <= 0 {
		return nil, errors.New("worker pool requires positive concurrency and queue size")
	}
	ctx, cancel := context.WithCancel(parent)
	pool := &WorkerPool{
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(chan task, queueSize),
	}
	pool.start(concurrency)
	return pool, nil
}

func (p *WorkerPool) start(concurrency int) {
	for i := 0; i < concurrency; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for fn := range p.tasks {
				fn(p.ctx)
			}
		}()
	}
}

// Submit schedules a task, rejecting if the caller's context cancels while
// the queue is full. Submit must not be called after Close.
func (p *WorkerPool) Submit(ctx context.Context, fn task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.tasks <- fn:
		return nil
	}
}

// Close drains the queue and stops all workers. Safe to call more than once.
func (p *WorkerPool) Close() {
	p.closeOnce.Do(func() {
		p.cancel()
		close(p.tasks)
	})
	p.wg.Wait()
}
