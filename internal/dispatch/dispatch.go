// Package dispatch builds and looks up one decoder pool per configured
// model, the Go counterpart of the original server's
// decoder_queue_map_: a model_id_t -> DecoderQueue map built once at
// startup and read-only thereafter.
package dispatch

import (
	"context"
	"fmt"

	"github.com/nextcloud/go_kaldi_serve/internal/engine"
	"github.com/nextcloud/go_kaldi_serve/internal/metrics"
	"github.com/nextcloud/go_kaldi_serve/internal/model"
	"github.com/nextcloud/go_kaldi_serve/internal/pool"
	"github.com/nextcloud/go_kaldi_serve/internal/worker"
)

// Dispatcher maps a model.ID to the pool serving it. Built once at
// startup from a list of specs; read-only afterward, so lookups need no
// locking.
type Dispatcher struct {
	pools  map[model.ID]*pool.Pool
	models map[model.ID]*model.Bundle
}

// New loads one bundle per spec via factory and builds one pool per
// bundle. Duplicate (name, language_code) pairs are rejected: the
// original server could not route a request to two queues under the
// same key, so neither can this one. collectors may be nil, in which
// case the pools it builds skip metrics instrumentation.
func New(specs []model.Spec, factory engine.Factory, collectors *metrics.Collectors) (*Dispatcher, error) {
	d := &Dispatcher{
		pools:  make(map[model.ID]*pool.Pool, len(specs)),
		models: make(map[model.ID]*model.Bundle, len(specs)),
	}
	for _, spec := range specs {
		id := spec.ID()
		if _, exists := d.models[id]; exists {
			return nil, fmt.Errorf("dispatch: duplicate model %s", id)
		}
		bundle, err := model.Load(spec, factory)
		if err != nil {
			return nil, err
		}
		d.models[id] = bundle
		d.pools[id] = pool.New(bundle, collectors)
	}
	return d, nil
}

// HasModel reports whether id was configured.
func (d *Dispatcher) HasModel(id model.ID) bool {
	_, ok := d.pools[id]
	return ok
}

// Bundle returns the loaded bundle for id, or nil if not configured.
func (d *Dispatcher) Bundle(id model.ID) *model.Bundle {
	return d.models[id]
}

// Pool returns the pool serving id, or nil if not configured. Callers
// should check HasModel (or a nil result here) before calling Acquire,
// so an unknown model surfaces as a ModelNotFound error rather than a
// nil pointer dereference.
func (d *Dispatcher) Pool(id model.ID) *pool.Pool {
	return d.pools[id]
}

// WithWorker acquires a worker for id, runs fn against it, and releases
// it afterward regardless of how fn returns: the acquire/run/release
// shorthand the original server's with_worker offered, with release
// guaranteed via defer on every exit path including a panic or early
// error from fn.
func (d *Dispatcher) WithWorker(ctx context.Context, id model.ID, fn func(*worker.Worker) error) error {
	p := d.pools[id]
	if p == nil {
		return fmt.Errorf("dispatch: model %s not configured", id)
	}
	w, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(w)
	return fn(w)
}

// Models lists every configured model id, in no particular order.
func (d *Dispatcher) Models() []model.ID {
	ids := make([]model.ID, 0, len(d.pools))
	for id := range d.pools {
		ids = append(ids, id)
	}
	return ids
}

// Close shuts down every pool and releases every bundle's engine-side
// model. Every bundle is closed; the first close error is returned.
func (d *Dispatcher) Close() error {
	var firstErr error
	for _, p := range d.pools {
		p.Close()
	}
	for _, b := range d.models {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
