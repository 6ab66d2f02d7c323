// Package engine describes the boundary between the decoder-pool core and
// the ASR engine library (decode graph, acoustic model, feature pipeline,
// lattice algebra, RNNLM). The core never reaches past this contract; a
// concrete engine (vosk-backed in production, an in-memory fake in tests)
// satisfies it.
package engine

import "context"

// Model is the immutable, shareable set of loaded artifacts for one
// (name, language) pair. It is the engine-side counterpart of
// model.Bundle and is held for the process lifetime.
type Model interface {
	// HasWordBoundary reports whether word-level timing/alignment is
	// available for this model.
	HasWordBoundary() bool

	// HasRNNLM reports whether on-demand RNNLM rescoring is available.
	HasRNNLM() bool

	// NewSession starts a fresh per-utterance decoding session bound to
	// this model. Sessions are never shared between goroutines.
	NewSession() Session

	// Close releases the model's engine-side resources. Called once at
	// process shutdown.
	Close() error
}

// Factory constructs a Model from a directory of model artifacts. It is
// the engine-side counterpart of model.Load.
type Factory interface {
	Load(spec ModelSpec) (Model, error)
}

// ModelSpec is the subset of model.Spec the engine needs to build a
// session: decode/decoder/decodable options plus the artifact directory.
// Kept separate from model.Spec so this package never imports model
// (avoids an import cycle; model.Bundle adapts its own spec into this one).
type ModelSpec struct {
	Path                   string
	NDecoders              int
	Beam                   float64
	MinActive              int
	MaxActive              int
	LatticeBeam            float64
	AcousticScale          float64
	FrameSubsamplingFactor int
	SilenceWeight          float64
	MaxNgramOrder          int
	RNNLMWeight            float64
	BOSIndex               int
	EOSIndex               int
}

// Session is per-utterance mutable decoding state: the engine-side
// counterpart of worker.Worker's active state. It is exclusively owned
// by whichever goroutine called NewSession until Close.
type Session interface {
	// AcceptWaveform pushes a slice of 16-bit mono PCM samples at the
	// given sample rate, advances silence re-weighting (if i-vectors and
	// silence weighting are active) and then the decoder, in that order.
	AcceptWaveform(ctx context.Context, samples []int16, sampleRateHz float64) error

	// NumFramesDecoded reports how many frames have been pushed through
	// the decoder so far in this session.
	NumFramesDecoded() int

	// Finalize signals end-of-input to the feature pipeline, drains the
	// decoder, and runs the decoder's finalize routine. Must be called
	// before ExtractLattice for non-interim results.
	Finalize(ctx context.Context) error

	// ExtractLattice pulls the current compact lattice from the decoder.
	// Valid both mid-utterance (interim) and after Finalize.
	ExtractLattice(ctx context.Context) (Lattice, error)

	// Close tears down the session's engine-side resources. Idempotent.
	Close()
}

// Lattice is an opaque handle to a decoded compact lattice. Implementations
// are free to represent it however suits the backing engine; the lattice
// package only ever calls the methods below.
type Lattice interface {
	// NumStates reports lattice size; zero means an empty lattice.
	NumStates() int

	// NBest returns up to n shortest paths through the lattice, each with
	// its acoustic score, language score, and word-id sequence resolved to
	// strings via the model's symbol table.
	NBest(n int) ([]Path, error)

	// RescoreRNNLM composes the lattice with an on-demand RNNLM language
	// model (replacing the backed-off n-gram score), per the model's RNNLM
	// weight and max n-gram order. Returns the original lattice unchanged
	// (with ok=false) if composition yields an empty result.
	RescoreRNNLM(ctx context.Context, maxNgramOrder int, rnnlmWeight, acousticScale float64) (rescored Lattice, ok bool, err error)

	// AlignWords word-aligns the lattice against the model's word-boundary
	// info and extracts per-word confidences/timings via minimum Bayes
	// risk (decode_mbr=false). ok=false means alignment produced nothing
	// usable (caller should emit no words); partial means the alignment
	// was incomplete but usable.
	AlignWords(ctx context.Context, acousticScale, frameShiftSeconds float64, frameSubsamplingFactor int) (words []AlignedWord, ok, partial bool, err error)
}

// Path is one hypothesis through a lattice: a word sequence with its
// acoustic/language weights.
type Path struct {
	Words   []string
	AMScore float64
	LMScore float64
}

// AlignedWord is one MBR one-best word with its confidence and timing.
type AlignedWord struct {
	Word       string
	StartTime  float64
	EndTime    float64
	Confidence float64
}
