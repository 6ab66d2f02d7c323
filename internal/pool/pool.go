// Package pool implements the bounded blocking decoder pool: a fixed
// number of worker.Worker instances, each bound to the same model
// bundle, handed out FIFO to callers and returned when an utterance
// finishes. It is the Go counterpart of the original server's
// DecoderQueue: one std::mutex/condition_variable pair replaced by one
// sync.Mutex/sync.Cond pair.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/nextcloud/go_kaldi_serve/internal/metrics"
	"github.com/nextcloud/go_kaldi_serve/internal/model"
	"github.com/nextcloud/go_kaldi_serve/internal/worker"
)

// Pool is a fixed-capacity set of workers bound to one model.Bundle.
// The zero value is not usable; construct with New.
type Pool struct {
	bundle  *model.Bundle
	metrics *metrics.Collectors

	mu       sync.Mutex
	cond     *sync.Cond
	idle     []*worker.Worker
	capacity int
	closed   bool
}

// New builds a pool of bundle.Spec.NDecoders workers, all bound to
// bundle. Capacity is fixed for the pool's lifetime. collectors may be
// nil, in which case occupancy/capacity/wait metrics are skipped.
func New(bundle *model.Bundle, collectors *metrics.Collectors) *Pool {
	n := bundle.Spec.NDecoders
	if n <= 0 {
		n = 1
	}
	p := &Pool{bundle: bundle, metrics: collectors, capacity: n}
	p.cond = sync.NewCond(&p.mu)
	p.idle = make([]*worker.Worker, 0, n)
	for i := 0; i < n; i++ {
		p.idle = append(p.idle, worker.New(bundle))
	}
	if p.metrics != nil {
		p.metrics.PoolCapacity.WithLabelValues(bundle.ID.Name, bundle.ID.LanguageCode).Set(float64(n))
		p.metrics.PoolOccupancy.WithLabelValues(bundle.ID.Name, bundle.ID.LanguageCode).Set(0)
	}
	return p
}

// Capacity reports the fixed number of workers in the pool.
func (p *Pool) Capacity() int { return p.capacity }

// Occupancy reports how many workers are currently checked out.
func (p *Pool) Occupancy() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity - len(p.idle)
}

// Acquire blocks until a worker is idle, ctx is cancelled, or the pool is
// closed. On success the caller owns the worker exclusively until
// Release. The wait loop rechecks its condition in a for loop per the
// standard Cond usage pattern, so spurious wakeups cannot hand out a
// worker twice.
func (p *Pool) Acquire(ctx context.Context) (*worker.Worker, error) {
	start := time.Now()

	// A goroutine parks ctx-cancellation delivery onto the cond so a
	// blocked Acquire wakes promptly instead of only on the next Release.
	done := make(chan struct{})
	defer close(done)
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				p.cond.Broadcast()
			case <-done:
			}
		}()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.idle) == 0 && !p.closed {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p.cond.Wait()
	}
	if p.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := p.idle[0]
	p.idle = p.idle[1:]
	p.recordOccupancyLocked(start)
	return w, nil
}

// Release returns w to the idle queue and wakes one waiting Acquire.
// w must have been obtained from this pool's Acquire.
func (p *Pool) Release(w *worker.Worker) {
	w.End()
	p.mu.Lock()
	p.idle = append(p.idle, w)
	p.recordOccupancyLocked(time.Time{})
	p.mu.Unlock()
	p.cond.Signal()
}

// recordOccupancyLocked publishes the current occupancy gauge and, if
// acquireStart is non-zero, the acquire-wait histogram. Must be called
// with p.mu held.
func (p *Pool) recordOccupancyLocked(acquireStart time.Time) {
	if p.metrics == nil {
		return
	}
	occupancy := float64(p.capacity - len(p.idle))
	p.metrics.PoolOccupancy.WithLabelValues(p.bundle.ID.Name, p.bundle.ID.LanguageCode).Set(occupancy)
	if !acquireStart.IsZero() {
		p.metrics.AcquireWaitSecs.WithLabelValues(p.bundle.ID.Name, p.bundle.ID.LanguageCode).Observe(time.Since(acquireStart).Seconds())
	}
}

// Close marks the pool closed; blocked and future Acquire calls return
// ErrClosed. Does not affect workers currently checked out.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

// ErrClosed is returned by Acquire once the pool has been closed.
var ErrClosed = poolClosedError{}

type poolClosedError struct{}

func (poolClosedError) Error() string { return "pool: closed" }
