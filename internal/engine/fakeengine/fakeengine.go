// Package fakeengine is a deterministic, cgo-free implementation of the
// engine contract used by tests across model, lattice, worker, pool,
// dispatch, and session. It never touches a real decode graph: it turns
// fed sample counts into a synthetic transcript so tests can assert on
// exact, reproducible output.
package fakeengine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nextcloud/go_kaldi_serve/internal/engine"
)

// Option configures the behavior of a fake Model, letting tests opt into
// word-boundary info and RNNLM without needing real artifacts on disk.
type Option func(*Model)

// WithWordBoundary enables word-level alignment on the fake model.
func WithWordBoundary() Option {
	return func(m *Model) { m.hasWordBoundary = true }
}

// WithRNNLM enables RNNLM rescoring on the fake model.
func WithRNNLM() Option {
	return func(m *Model) { m.hasRNNLM = true }
}

// WithVocabulary seeds the word the fake decoder emits per frame group.
// Default is "hello".
func WithVocabulary(word string) Option {
	return func(m *Model) { m.word = word }
}

// WithFramesPerWord sets how many simulated frames (10ms each) the fake
// decoder consumes before emitting one word. Default is 100 (1s/word).
func WithFramesPerWord(n int) Option {
	return func(m *Model) { m.framesPerWord = n }
}

// Model is a fake engine.Model. Safe for concurrent NewSession calls.
type Model struct {
	hasWordBoundary bool
	hasRNNLM        bool
	word            string
	framesPerWord   int
	closed          bool
	mu              sync.Mutex
}

// NewModel builds a ready-to-use fake model.
func NewModel(opts ...Option) *Model {
	m := &Model{word: "hello", framesPerWord: 100}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Factory adapts NewModel into an engine.Factory for dispatch/pool tests.
type Factory struct {
	Opts []Option
}

// Load ignores spec.Path (no artifacts to read) and returns a fresh fake
// model seeded with the factory's options.
func (f Factory) Load(spec engine.ModelSpec) (engine.Model, error) {
	return NewModel(f.Opts...), nil
}

func (m *Model) HasWordBoundary() bool { return m.hasWordBoundary }
func (m *Model) HasRNNLM() bool        { return m.hasRNNLM }

func (m *Model) NewSession() engine.Session {
	return &session{model: m}
}

func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("fakeengine: model already closed")
	}
	m.closed = true
	return nil
}

type session struct {
	model         *Model
	framesDecoded int
	samplesSeen   int
	closed        bool
	finalized     bool
}

func (s *session) AcceptWaveform(ctx context.Context, samples []int16, sampleRateHz float64) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if s.closed {
		return fmt.Errorf("fakeengine: session closed")
	}
	// 10ms frames, regardless of sample rate, mirroring the frame-shift
	// convention of the real feature pipeline.
	frameLen := int(sampleRateHz * 0.01)
	if frameLen <= 0 {
		frameLen = 1
	}
	s.samplesSeen += len(samples)
	s.framesDecoded = s.samplesSeen / frameLen
	return nil
}

func (s *session) NumFramesDecoded() int { return s.framesDecoded }

func (s *session) Finalize(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.finalized = true
	return nil
}

func (s *session) ExtractLattice(ctx context.Context) (engine.Lattice, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if s.framesDecoded == 0 {
		return &lattice{}, nil
	}
	nWords := s.framesDecoded / s.model.framesPerWord
	if nWords == 0 {
		nWords = 1
	}
	words := make([]string, nWords)
	for i := range words {
		words[i] = s.model.word
	}
	return &lattice{
		words:         words,
		amScore:       float64(s.framesDecoded) * 0.5,
		lmScore:       float64(nWords) * 1.25,
		hasWordBound:  s.model.hasWordBoundary,
		frameShiftSec: 0.01,
	}, nil
}

func (s *session) Close() { s.closed = true }

// lattice is a fake engine.Lattice: a single deterministic hypothesis,
// no real lattice algebra, just enough structure to exercise the
// n-best/rescoring/alignment call shape.
type lattice struct {
	words         []string
	amScore       float64
	lmScore       float64
	hasWordBound  bool
	frameShiftSec float64
	rescored      bool
}

func (l *lattice) NumStates() int {
	if len(l.words) == 0 {
		return 0
	}
	return len(l.words) + 1
}

func (l *lattice) NBest(n int) ([]engine.Path, error) {
	if len(l.words) == 0 {
		return nil, nil
	}
	if n <= 0 {
		n = 1
	}
	best := engine.Path{Words: l.words, AMScore: l.amScore, LMScore: l.lmScore}
	paths := []engine.Path{best}
	// Synthesize lower-ranked alternatives by dropping trailing words (the
	// i-th alternative drops the last i), so n-best ordering and truncation
	// are both exercisable.
	for i := 1; i < n && i <= len(l.words); i++ {
		alt := engine.Path{
			Words:   l.words[:len(l.words)-i],
			AMScore: l.amScore + float64(i),
			LMScore: l.lmScore + float64(i)*0.5,
		}
		paths = append(paths, alt)
	}
	return paths, nil
}

func (l *lattice) RescoreRNNLM(ctx context.Context, maxNgramOrder int, rnnlmWeight, acousticScale float64) (engine.Lattice, bool, error) {
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	if len(l.words) == 0 {
		return l, false, nil
	}
	out := *l
	out.lmScore = l.lmScore*(1-rnnlmWeight) + float64(len(l.words))*rnnlmWeight
	out.rescored = true
	return &out, true, nil
}

func (l *lattice) AlignWords(ctx context.Context, acousticScale, frameShiftSeconds float64, frameSubsamplingFactor int) ([]engine.AlignedWord, bool, bool, error) {
	if ctx.Err() != nil {
		return nil, false, false, ctx.Err()
	}
	if !l.hasWordBound || len(l.words) == 0 {
		return nil, false, false, nil
	}
	unit := frameShiftSeconds * float64(frameSubsamplingFactor)
	// A rescored lattice reports a distinguishable confidence so tests can
	// assert alignment ran against the original, pre-rescore lattice.
	confidence := 0.9
	if l.rescored {
		confidence = 0.5
	}
	out := make([]engine.AlignedWord, len(l.words))
	t := 0.0
	for i, w := range l.words {
		start := t
		end := t + unit*10
		out[i] = engine.AlignedWord{
			Word:       w,
			StartTime:  start,
			EndTime:    end,
			Confidence: confidence,
		}
		t = end
	}
	return out, true, false, nil
}

// Transcript is a test convenience, not part of the engine contract: it
// joins a path's words the way lattice.Alternative.Transcript does.
func Transcript(words []string) string {
	return strings.Join(words, " ")
}
