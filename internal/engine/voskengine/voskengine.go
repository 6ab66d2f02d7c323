// Package voskengine adapts github.com/alphacep/vosk-api/go (a cgo
// binding over a Kaldi nnet3 online decoder) to the engine contract.
// Vosk's own API is result-oriented rather than lattice-oriented: it
// hands back a JSON transcript plus (optionally) per-word timing and
// confidence, not a raw compact lattice. This adapter maps that shape
// onto engine.Lattice as closely as it can; RescoreRNNLM is a best-effort
// no-op here because vosk does not expose on-demand lattice composition
// against a separate RNNLM — see Lattice.RescoreRNNLM below.
package voskengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	vosk "github.com/alphacep/vosk-api/go"

	"github.com/nextcloud/go_kaldi_serve/internal/engine"
)

// Factory loads vosk models from disk, one per engine.ModelSpec.Path.
type Factory struct{}

// Load reads the vosk model directory at spec.Path.
func (Factory) Load(spec engine.ModelSpec) (engine.Model, error) {
	vm, err := vosk.NewModel(spec.Path)
	if err != nil {
		return nil, fmt.Errorf("voskengine: load model at %q: %w", spec.Path, err)
	}
	return &Model{vosk: vm, spec: spec}, nil
}

// Model wraps a loaded vosk model. HasWordBoundary is always true: vosk
// recognizers are always constructed with SetWords(true), so word-level
// timing is always available. HasRNNLM is always false: vosk has no
// on-demand RNNLM rescoring hook.
type Model struct {
	vosk *vosk.VoskModel
	spec engine.ModelSpec

	mu     sync.Mutex
	closed bool
}

func (m *Model) HasWordBoundary() bool { return true }
func (m *Model) HasRNNLM() bool        { return false }

func (m *Model) NewSession() engine.Session {
	rec, err := vosk.NewRecognizer(m.vosk, 16000.0)
	if err != nil || rec == nil {
		// NewSession cannot return an error (interface constraint); a
		// construction failure surfaces as an EngineInternal error from
		// the first AcceptWaveform call instead.
		return &Session{err: fmt.Errorf("voskengine: failed to create recognizer: %w", err)}
	}
	rec.SetWords(1)
	return &Session{rec: rec}
}

func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("voskengine: model already closed")
	}
	m.vosk.Free()
	m.closed = true
	return nil
}

// Session wraps one vosk.VoskRecognizer for the life of one utterance.
type Session struct {
	rec               *vosk.VoskRecognizer
	err               error
	framesDecoded     int
	finalResult       string
	lastSegmentResult string
	finalized         bool
	closed            bool
}

func (s *Session) AcceptWaveform(ctx context.Context, samples []int16, sampleRateHz float64) error {
	if s.err != nil {
		return s.err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	data := int16ToBytes(samples)
	if s.rec.AcceptWaveform(data) != 0 {
		// A nonzero return means vosk has endpointed a segment; Result()
		// returns that segment's final transcript rather than a partial.
		s.lastSegmentResult = s.rec.Result()
	} else {
		s.lastSegmentResult = ""
	}
	s.framesDecoded += len(samples) / int(sampleRateHz/100)
	return nil
}

func (s *Session) NumFramesDecoded() int { return s.framesDecoded }

func (s *Session) Finalize(ctx context.Context) error {
	if s.err != nil {
		return s.err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.finalResult = s.rec.FinalResult()
	s.finalized = true
	return nil
}

func (s *Session) ExtractLattice(ctx context.Context) (engine.Lattice, error) {
	if s.err != nil {
		return nil, s.err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	raw := s.finalResult
	if !s.finalized {
		if s.lastSegmentResult != "" {
			raw = s.lastSegmentResult
		} else {
			raw = s.rec.PartialResult()
		}
	}
	return parseResult(raw)
}

func (s *Session) Close() {
	if s.closed || s.rec == nil {
		return
	}
	s.rec.Free()
	s.closed = true
}

// voskAlternative mirrors one entry of vosk's "alternatives" result array
// when SetMaxAlternatives is enabled.
type voskAlternative struct {
	Text   string  `json:"text"`
	Result []voskW `json:"result"`
}

type voskW struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Conf  float64 `json:"conf"`
}

type voskResult struct {
	Text         string            `json:"text"`
	Partial      string            `json:"partial"`
	Result       []voskW           `json:"result"`
	Alternatives []voskAlternative `json:"alternatives"`
}

func parseResult(raw string) (engine.Lattice, error) {
	if raw == "" {
		return &Lattice{}, nil
	}
	var r voskResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("voskengine: parse result: %w", err)
	}
	text := r.Text
	if text == "" {
		text = r.Partial
	}
	if text == "" && len(r.Alternatives) == 0 {
		return &Lattice{}, nil
	}
	return &Lattice{best: r, text: text}, nil
}

// Lattice wraps one parsed vosk JSON result. It presents only as much
// lattice-like structure as vosk's result shape offers: one best
// transcript with optional alternatives, and per-word confidence/timing
// from vosk's own word-level output rather than a from-scratch MBR
// extraction.
type Lattice struct {
	best voskResult
	text string
}

func (l *Lattice) NumStates() int {
	if l.text == "" && len(l.best.Alternatives) == 0 {
		return 0
	}
	return 1
}

func (l *Lattice) NBest(n int) ([]engine.Path, error) {
	if l.NumStates() == 0 {
		return nil, nil
	}
	if n <= 0 {
		n = 1
	}
	paths := []engine.Path{wordsToPath(l.text, l.best.Result)}
	for _, alt := range l.best.Alternatives {
		if len(paths) >= n {
			break
		}
		paths = append(paths, wordsToPath(alt.Text, alt.Result))
	}
	if len(paths) > n {
		paths = paths[:n]
	}
	return paths, nil
}

func wordsToPath(text string, words []voskW) engine.Path {
	wordList := splitWords(text)
	// Vosk does not separate acoustic and language model scores; its
	// decoder confidence is folded into per-word conf values instead, so
	// am/lm scores here are left at zero and the confidence fusion in the
	// lattice package yields its constant intercept (0.956) for every path.
	return engine.Path{Words: wordList, AMScore: 0, LMScore: 0}
}

func splitWords(text string) []string {
	var out []string
	start := -1
	for i, r := range text {
		if r == ' ' {
			if start >= 0 {
				out = append(out, text[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, text[start:])
	}
	return out
}

func (l *Lattice) RescoreRNNLM(ctx context.Context, maxNgramOrder int, rnnlmWeight, acousticScale float64) (engine.Lattice, bool, error) {
	// No on-demand RNNLM composition available through vosk's API.
	return l, false, nil
}

func (l *Lattice) AlignWords(ctx context.Context, acousticScale, frameShiftSeconds float64, frameSubsamplingFactor int) ([]engine.AlignedWord, bool, bool, error) {
	if len(l.best.Result) == 0 {
		return nil, false, false, nil
	}
	out := make([]engine.AlignedWord, len(l.best.Result))
	for i, w := range l.best.Result {
		out[i] = engine.AlignedWord{
			Word:       w.Word,
			StartTime:  w.Start,
			EndTime:    w.End,
			Confidence: w.Conf,
		}
	}
	return out, true, false, nil
}

// int16ToBytes packs 16-bit little-endian PCM samples the way vosk's
// AcceptWaveform expects its byte buffer argument.
func int16ToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		buf[2*i] = byte(s)
		buf[2*i+1] = byte(s >> 8)
	}
	return buf
}
