// Package worker implements the per-utterance decoder state machine: the
// mutable counterpart to an immutable model.Bundle. A Worker is acquired
// from a pool for the lifetime of one utterance and returned afterward;
// it is never shared between goroutines while checked out.
package worker

import (
	"context"
	"fmt"
	"math"

	"github.com/nextcloud/go_kaldi_serve/internal/engine"
	"github.com/nextcloud/go_kaldi_serve/internal/lattice"
	"github.com/nextcloud/go_kaldi_serve/internal/model"
)

// Worker wraps one engine.Session bound to a model.Bundle, exposing the
// begin/feed/finalize/results/end lifecycle every SessionDriver request
// shape (unary, client-streaming, bidi-streaming) drives identically.
type Worker struct {
	bundle  *model.Bundle
	session engine.Session
	uuid    string
}

// New constructs a worker bound to bundle. It does not start a decoding
// session; call Begin for that. One Worker is created per pool slot and
// reused across many utterances via Begin/End.
func New(bundle *model.Bundle) *Worker {
	return &Worker{bundle: bundle}
}

// Begin starts (or restarts) decoding under the given utterance id. It is
// idempotent: calling Begin again before End tears down the previous
// session first, mirroring the original decoder's free-then-construct
// start_decoding behavior, so a worker can be reused for a new utterance
// without a separate teardown call.
func (w *Worker) Begin(uuid string) {
	if w.session != nil {
		w.session.Close()
		w.session = nil
	}
	w.session = w.bundle.Model.NewSession()
	w.uuid = uuid
}

// UUID reports the utterance id passed to the most recent Begin.
func (w *Worker) UUID() string { return w.uuid }

// FeedChunk pushes one chunk of 16-bit mono PCM samples into the active
// session. Begin must have been called first.
func (w *Worker) FeedChunk(ctx context.Context, samples []int16, sampleRateHz float64) error {
	if w.session == nil {
		return fmt.Errorf("worker: FeedChunk called before Begin")
	}
	return w.session.AcceptWaveform(ctx, samples, sampleRateHz)
}

// FeedFull splits a full utterance buffer into chunks of chunkSeconds
// duration and feeds them in order, mirroring decode_raw_wav_audio's
// chunking loop. chunkSeconds<=0 means "one chunk": the whole buffer is
// fed as a single AcceptWaveform call.
func (w *Worker) FeedFull(ctx context.Context, samples []int16, sampleRateHz, chunkSeconds float64) error {
	if w.session == nil {
		return fmt.Errorf("worker: FeedFull called before Begin")
	}
	chunkLen := len(samples)
	if chunkSeconds > 0 {
		n := int(sampleRateHz * chunkSeconds)
		if n <= 0 {
			n = 1
		}
		chunkLen = n
	}
	for offset := 0; offset < len(samples); offset += chunkLen {
		end := offset + chunkLen
		if end > len(samples) {
			end = len(samples)
		}
		if err := w.session.AcceptWaveform(ctx, samples[offset:end], sampleRateHz); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// NumFramesDecoded reports how many frames the active session has
// processed so far.
func (w *Worker) NumFramesDecoded() int {
	if w.session == nil {
		return 0
	}
	return w.session.NumFramesDecoded()
}

// Results extracts the current n-best alternatives. When interim is
// false, the session is finalized first (end-of-input signaled, decoding
// drained) so the lattice reflects the complete utterance; when interim
// is true the lattice is read mid-utterance without finalizing, for
// bidi-streaming partial results.
//
// If no frames have been decoded yet, Results returns a nil, non-error
// alternative list: the original decoder treats an empty decode as
// nothing-to-report, not a failure.
func (w *Worker) Results(ctx context.Context, opts lattice.Options, interim bool) ([]lattice.Alternative, error) {
	if w.session == nil {
		return nil, fmt.Errorf("worker: Results called before Begin")
	}
	if !interim {
		if err := w.session.Finalize(ctx); err != nil {
			return nil, err
		}
	}
	if w.session.NumFramesDecoded() == 0 {
		return nil, nil
	}
	lat, err := w.session.ExtractLattice(ctx)
	if err != nil {
		return nil, err
	}
	return lattice.Extract(ctx, lat, opts)
}

// End releases the active session's engine-side resources. Safe to call
// even if Begin was never called.
func (w *Worker) End() {
	if w.session != nil {
		w.session.Close()
		w.session = nil
	}
	w.uuid = ""
}

// ChunkSamples computes the sample-count chunk length for a given sample
// rate and chunk duration, clamped to at least one sample. Exposed for
// callers that need to pre-split audio the same way FeedFull does
// internally; nothing in this module calls it.
func ChunkSamples(sampleRateHz, chunkSeconds float64) int {
	if chunkSeconds <= 0 {
		return math.MaxInt32
	}
	n := int(sampleRateHz * chunkSeconds)
	if n <= 0 {
		n = 1
	}
	return n
}
