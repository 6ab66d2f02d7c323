// Package session drives the three request shapes a transport adapter
// can offer: a single full-utterance call, a client-streaming call that
// only sees results once the caller signals end-of-audio, and a
// bidirectional-streaming call that also emits interim results after
// every chunk. It is the Go counterpart of the original gRPC service's
// Recognize / StreamingRecognize / BidiStreamingRecognize handlers, with
// the gRPC specifics (status codes, proto messages) replaced by a
// transport-agnostic request/response shape and an ErrorKind taxonomy.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextcloud/go_kaldi_serve/internal/dispatch"
	"github.com/nextcloud/go_kaldi_serve/internal/lattice"
	"github.com/nextcloud/go_kaldi_serve/internal/metrics"
	"github.com/nextcloud/go_kaldi_serve/internal/model"
	"github.com/nextcloud/go_kaldi_serve/internal/worker"
)

// ErrorKind classifies a session failure the way the original service
// mapped exceptions to gRPC status codes, so any transport adapter can
// translate it into its own wire format (HTTP status, gRPC code, a
// WebSocket close frame) without re-deriving the classification.
type ErrorKind int

const (
	// ErrorKindUnknown is never returned; it catches a missing
	// classification in tests.
	ErrorKindUnknown ErrorKind = iota
	// ErrorKindModelNotFound means the requested model id was never
	// configured.
	ErrorKindModelNotFound
	// ErrorKindInvalidAudio means the supplied audio could not be
	// decoded as the configured format/sample rate.
	ErrorKindInvalidAudio
	// ErrorKindEngineInternal means the engine failed for a reason
	// unrelated to the input (e.g. a decode-graph fault).
	ErrorKindEngineInternal
	// ErrorKindCancelled means the request's context was cancelled or
	// timed out before completion.
	ErrorKindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindModelNotFound:
		return "model_not_found"
	case ErrorKindInvalidAudio:
		return "invalid_audio"
	case ErrorKindEngineInternal:
		return "engine_internal"
	case ErrorKindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error wraps a classified session failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("session: %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, err error) *Error { return &Error{Kind: kind, Err: err} }

// Config carries the per-request decode and post-processing knobs; the
// per-request analog of model.Spec's static tuning.
type Config struct {
	ModelID      model.ID
	NBest        int
	WordLevel    bool
	SampleRateHz float64
	ChunkSeconds float64
}

// ChunkSource yields successive audio chunks until it returns
// ErrEndOfChunks (any other error, io.EOF included, aborts the session).
// A transport adapter
// implements this over whatever its wire chunking looks like (gRPC
// stream reads, WebSocket frames, RTP packets already depacketized into
// PCM).
type ChunkSource interface {
	Next(ctx context.Context) (samples []int16, err error)
}

// ResponseSink receives interim and final results. Only
// BidiStreamingRecognize uses a sink: one Send per chunk plus a final
// one. Recognize and StreamingRecognize return their result directly.
type ResponseSink interface {
	Send(ctx context.Context, alternatives []lattice.Alternative, final bool) error
}

// Driver runs requests against a dispatcher's pools.
type Driver struct {
	dispatcher *dispatch.Dispatcher
	metrics    *metrics.Collectors
}

// New builds a driver over dispatcher. collectors may be nil, in which
// case request/error/decode-duration metrics are skipped.
func New(dispatcher *dispatch.Dispatcher, collectors *metrics.Collectors) *Driver {
	return &Driver{dispatcher: dispatcher, metrics: collectors}
}

// Recognize runs a single full-utterance decode: every sample is
// available up front. Equivalent to the original Recognize unary RPC.
func (d *Driver) Recognize(ctx context.Context, cfg Config, samples []int16) (result []lattice.Alternative, err error) {
	start := time.Now()
	defer func() { d.recordMetrics(cfg.ModelID, "unary", start, err) }()

	if !d.dispatcher.HasModel(cfg.ModelID) {
		return nil, newError(ErrorKindModelNotFound, fmt.Errorf("model %s not configured", cfg.ModelID))
	}

	err = d.dispatcher.WithWorker(ctx, cfg.ModelID, func(w *worker.Worker) error {
		w.Begin(uuid.NewString())
		if err := w.FeedFull(ctx, samples, cfg.SampleRateHz, cfg.ChunkSeconds); err != nil {
			return classifyFeedErr(err)
		}
		results, err := w.Results(ctx, d.latticeOptions(cfg), false)
		if err != nil {
			return classifyFeedErr(err)
		}
		result = results
		return nil
	})
	if err != nil {
		return nil, classifyAcquireErr(err)
	}
	return result, nil
}

// StreamingRecognize reads chunks from src until exhausted, feeding each
// to the decoder, then returns one finalized result set. Equivalent to
// the original StreamingRecognize client-streaming RPC.
func (d *Driver) StreamingRecognize(ctx context.Context, cfg Config, src ChunkSource) (result []lattice.Alternative, err error) {
	start := time.Now()
	defer func() { d.recordMetrics(cfg.ModelID, "client_stream", start, err) }()

	if !d.dispatcher.HasModel(cfg.ModelID) {
		return nil, newError(ErrorKindModelNotFound, fmt.Errorf("model %s not configured", cfg.ModelID))
	}

	err = d.dispatcher.WithWorker(ctx, cfg.ModelID, func(w *worker.Worker) error {
		w.Begin(uuid.NewString())
		for {
			chunk, err := src.Next(ctx)
			if errors.Is(err, errEndOfChunks) {
				break
			}
			if err != nil {
				return classifyFeedErr(err)
			}
			if err := w.FeedChunk(ctx, chunk, cfg.SampleRateHz); err != nil {
				return classifyFeedErr(err)
			}
		}
		results, err := w.Results(ctx, d.latticeOptions(cfg), false)
		if err != nil {
			return classifyFeedErr(err)
		}
		result = results
		return nil
	})
	if err != nil {
		return nil, classifyAcquireErr(err)
	}
	return result, nil
}

// BidiStreamingRecognize reads chunks from src, feeding each to the
// decoder and emitting an interim (non-finalizing) result to sink after
// every chunk, then a final finalizing result once src is exhausted.
// Equivalent to the original BidiStreamingRecognize RPC.
func (d *Driver) BidiStreamingRecognize(ctx context.Context, cfg Config, src ChunkSource, sink ResponseSink) (err error) {
	start := time.Now()
	defer func() { d.recordMetrics(cfg.ModelID, "bidi_stream", start, err) }()

	if !d.dispatcher.HasModel(cfg.ModelID) {
		return newError(ErrorKindModelNotFound, fmt.Errorf("model %s not configured", cfg.ModelID))
	}

	err = d.dispatcher.WithWorker(ctx, cfg.ModelID, func(w *worker.Worker) error {
		w.Begin(uuid.NewString())
		opts := d.latticeOptions(cfg)
		for {
			chunk, err := src.Next(ctx)
			if errors.Is(err, errEndOfChunks) {
				break
			}
			if err != nil {
				return classifyFeedErr(err)
			}
			if err := w.FeedChunk(ctx, chunk, cfg.SampleRateHz); err != nil {
				return classifyFeedErr(err)
			}
			interim, err := w.Results(ctx, opts, true)
			if err != nil {
				return classifyFeedErr(err)
			}
			if err := sink.Send(ctx, interim, false); err != nil {
				return newError(ErrorKindCancelled, err)
			}
		}
		final, err := w.Results(ctx, opts, false)
		if err != nil {
			return classifyFeedErr(err)
		}
		return sink.Send(ctx, final, true)
	})
	if err != nil {
		return classifyAcquireErr(err)
	}
	return nil
}

// recordMetrics publishes per-request throughput, decode duration, and
// (on failure) the classified error kind. A nil collector set is a no-op.
func (d *Driver) recordMetrics(id model.ID, shape string, start time.Time, err error) {
	if d.metrics == nil {
		return
	}
	d.metrics.RequestsTotal.WithLabelValues(id.Name, id.LanguageCode, shape).Inc()
	d.metrics.DecodeDurationS.WithLabelValues(id.Name, id.LanguageCode, shape).Observe(time.Since(start).Seconds())
	if err != nil {
		kind := ErrorKindUnknown
		var se *Error
		if errors.As(err, &se) {
			kind = se.Kind
		}
		d.metrics.RequestErrors.WithLabelValues(id.Name, id.LanguageCode, kind.String()).Inc()
	}
}

func (d *Driver) latticeOptions(cfg Config) lattice.Options {
	bundle := d.dispatcher.Bundle(cfg.ModelID)
	opts := lattice.Options{
		NBest:             cfg.NBest,
		WordLevel:         cfg.WordLevel,
		AcousticScale:     1.0,
		FrameShiftSeconds: 0.01,
	}
	if bundle != nil {
		opts.EnableRNNLM = bundle.Model.HasRNNLM()
		opts.EnableWordBoundary = bundle.Model.HasWordBoundary()
		opts.AcousticScale = bundle.Spec.AcousticScale
		opts.FrameSubsamplingFactor = bundle.Spec.FrameSubsamplingFactor
		opts.MaxNgramOrder = bundle.Spec.MaxNgramOrder
		opts.RNNLMWeight = bundle.Spec.RNNLMWeight
	}
	return opts
}

// errEndOfChunks is the sentinel a ChunkSource returns to signal
// graceful end-of-audio, analogous to io.EOF but kept local so this
// package need not import io for one sentinel.
var errEndOfChunks = errors.New("session: end of chunks")

// ErrEndOfChunks is the exported sentinel ChunkSource implementations
// should return from Next once no more audio is available.
var ErrEndOfChunks = errEndOfChunks

// classifyAcquireErr classifies an error surfaced from
// dispatch.Dispatcher.WithWorker: either a pool-acquire failure (context
// cancellation, a closed pool) or an already-classified *Error returned
// by the fn it ran, which is passed through unchanged.
func classifyAcquireErr(err error) error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newError(ErrorKindCancelled, err)
	}
	return newError(ErrorKindEngineInternal, err)
}

func classifyFeedErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newError(ErrorKindCancelled, err)
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return newError(ErrorKindEngineInternal, err)
}
