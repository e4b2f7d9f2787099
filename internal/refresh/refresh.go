// Package refresh runs keyed jobs on a bounded set of workers.
package refresh

import (
	"context"
	"sync"
	"time"
)

type Job[T any] struct {
	Key   string
	Value T
}

// Refresher never runs two jobs with the same key at once: a job whose key is
// already queued or running is dropped.
type Refresher[T any] struct {
	ch      chan Job[T]
	inFly   sync.Map // key -> struct{}
	timeout time.Duration
	Do      func(ctx context.Context, j Job[T])

	wg        sync.WaitGroup
	closeOnce sync.Once
}

func New[T any](capacity, workerCount int, timeout time.Duration, do func(ctx context.Context, j Job[T])) *Refresher[T] {
	if capacity <= 0 {
		capacity = 256
	}
	if workerCount <= 0 {
		workerCount = 2
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	r := &Refresher[T]{ch: make(chan Job[T], capacity), timeout: timeout, Do: do}
	r.wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go r.worker()
	}
	return r
}

// Enqueue reports whether j was accepted. It never blocks.
func (r *Refresher[T]) Enqueue(j Job[T]) bool {
	if _, exists := r.inFly.LoadOrStore(j.Key, struct{}{}); exists {
		return false
	}
	select {
	case r.ch <- j:
		return true
	default:
		// drop if saturated
		r.inFly.Delete(j.Key)
		return false
	}
}

// EnqueueWait blocks until j is queued or ctx is done. It returns false for a
// duplicate key or a done context.
func (r *Refresher[T]) EnqueueWait(ctx context.Context, j Job[T]) bool {
	if _, exists := r.inFly.LoadOrStore(j.Key, struct{}{}); exists {
		return false
	}
	select {
	case r.ch <- j:
		return true
	case <-ctx.Done():
		r.inFly.Delete(j.Key)
		return false
	}
}

// InFlight reports whether key is queued or running.
func (r *Refresher[T]) InFlight(key string) bool {
	_, ok := r.inFly.Load(key)
	return ok
}

// Close stops intake and waits for queued and running jobs to finish. No
// Enqueue may be called after Close.
func (r *Refresher[T]) Close() {
	r.closeOnce.Do(func() { close(r.ch) })
	r.wg.Wait()
}

func (r *Refresher[T]) worker() {
	defer r.wg.Done()
	for j := range r.ch {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		func() {
			defer func() {
				r.inFly.Delete(j.Key)
				cancel()
			}()
			if r.Do != nil {
				r.Do(ctx, j)
			}
		}()
	}
}
