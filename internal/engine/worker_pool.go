// Package engine runs handlers on a fixed set of goroutines.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrDraining is returned by SubmitWait once Drain has been called.
var ErrDraining = errors.New("pool is draining")

// Pool is a fixed-size goroutine pool fed through a bounded queue. With a
// zero-capacity queue at most n jobs exist at once, all of them running.
type Pool[T any] struct {
	queue    chan T
	process  func(ctx context.Context, t T)
	wg       sync.WaitGroup
	inFlight atomic.Int64

	mu       sync.RWMutex
	draining bool
}

// NewPool creates and starts a pool with n goroutines and queue capacity cap.
// ctx is handed to every call of fn; cancelling it does not stop the workers,
// Drain does.
func NewPool[T any](ctx context.Context, n, cap int, fn func(context.Context, T)) *Pool[T] {
	if n < 1 {
		n = 1
	}
	p := &Pool[T]{
		queue:   make(chan T, cap),
		process: fn,
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx)
		}()
	}
	return p
}

func (p *Pool[T]) run(ctx context.Context) {
	for t := range p.queue {
		p.inFlight.Add(1)
		p.process(ctx, t)
		p.inFlight.Add(-1)
	}
}

// Submit enqueues a job without blocking (returns false if full or draining).
func (p *Pool[T]) Submit(t T) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.draining {
		return false
	}
	select {
	case p.queue <- t:
		return true
	default:
		return false
	}
}

// SubmitWait blocks until a worker or queue slot accepts t or ctx is done.
func (p *Pool[T]) SubmitWait(ctx context.Context, t T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.draining {
		return ErrDraining
	}
	select {
	case p.queue <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain stops accepting jobs, lets queued and running jobs finish and waits
// for all workers to exit. Safe to call more than once.
func (p *Pool[T]) Drain() {
	p.mu.Lock()
	if !p.draining {
		p.draining = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// InFlight returns how many jobs are currently being processed.
func (p *Pool[T]) InFlight() int {
	return int(p.inFlight.Load())
}

// QueueLen returns how many jobs are currently queued.
func (p *Pool[T]) QueueLen() int {
	return len(p.queue)
}
