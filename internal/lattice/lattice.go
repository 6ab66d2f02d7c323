// Package lattice turns a decoded engine.Lattice into the n-best
// alternatives a caller actually wants: transcripts, fused confidence
// scores, and (for the top hypothesis only) per-word timing. It mirrors
// the post-processing pipeline of the original decoder's result
// extraction: n-best shortest-path, optional RNNLM rescoring, optional
// word alignment with minimum Bayes risk confidence/timing extraction.
package lattice

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nextcloud/go_kaldi_serve/internal/engine"
)

// Word is one MBR-aligned word with its confidence and timing, in
// seconds relative to utterance start.
type Word struct {
	Word       string
	StartTime  float64
	EndTime    float64
	Confidence float64
}

// Alternative is one n-best hypothesis.
type Alternative struct {
	Transcript string
	Confidence float64
	AMScore    float64
	LMScore    float64
	// Words is populated only on the first (best) alternative of a
	// result set, and only when word-level output was requested and the
	// model supports it. Every other alternative leaves this nil.
	Words []Word
}

// Options controls what Extract computes, mirroring the per-request
// word_level flag and the model's static RNNLM/word-boundary support.
type Options struct {
	NBest                  int
	WordLevel              bool
	EnableRNNLM            bool
	EnableWordBoundary     bool
	MaxNgramOrder          int
	RNNLMWeight            float64
	AcousticScale          float64
	FrameShiftSeconds      float64
	FrameSubsamplingFactor int
}

// Extract runs the full post-decode pipeline against an already-decoded
// lattice: optional RNNLM rescoring, n-best shortest-path extraction,
// confidence fusion, and (word_level && supported) MBR word alignment
// attached only to the first alternative. An empty (zero-state) lattice
// yields a nil, non-error result — the original decoder logs and returns
// no alternatives rather than treating "nothing decoded" as a failure.
func Extract(ctx context.Context, lat engine.Lattice, opts Options) ([]Alternative, error) {
	if lat == nil || lat.NumStates() == 0 {
		slog.Warn("lattice: empty lattice, no alternatives")
		return nil, nil
	}

	working := lat
	if opts.EnableRNNLM {
		rescored, ok, err := lat.RescoreRNNLM(ctx, opts.MaxNgramOrder, opts.RNNLMWeight, opts.AcousticScale)
		if err != nil {
			return nil, err
		}
		if ok {
			working = rescored
		} else {
			slog.Warn("lattice: RNNLM composition yielded an empty lattice, keeping the original")
		}
	}

	n := opts.NBest
	if n <= 0 {
		n = 1
	}
	paths, err := working.NBest(n)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		slog.Warn("lattice: no n-best entries")
		return nil, nil
	}

	alternatives := make([]Alternative, 0, len(paths))
	for _, p := range paths {
		alternatives = append(alternatives, Alternative{
			Transcript: strings.Join(p.Words, " "),
			Confidence: calculateConfidence(p.LMScore, p.AMScore, len(p.Words)),
			AMScore:    p.AMScore,
			LMScore:    p.LMScore,
		})
	}

	if !(opts.WordLevel && opts.EnableWordBoundary) {
		return alternatives, nil
	}

	// Word alignment always runs against the original (non-rescored)
	// lattice: RNNLM rescoring changes path weights, not its word-boundary
	// structure, and the original decoder aligns the pre-rescore lattice.
	words, ok, _, err := lat.AlignWords(ctx, opts.AcousticScale, opts.FrameShiftSeconds, opts.FrameSubsamplingFactor)
	if err != nil {
		return nil, err
	}
	if !ok || len(words) == 0 {
		slog.Warn("lattice: empty aligned lattice, no word timings")
		return alternatives, nil
	}

	out := make([]Word, len(words))
	for i, w := range words {
		out[i] = Word{Word: w.Word, StartTime: w.StartTime, EndTime: w.EndTime, Confidence: w.Confidence}
	}
	// Word-level timing only ever describes the single best hypothesis;
	// every other n-best entry keeps Words nil.
	alternatives[0].Words = out

	return alternatives, nil
}

// calculateConfidence fuses language and acoustic scores into a single
// [0,1] confidence estimate. The coefficients are empirically fit and
// must not be changed independently of the model they were fit against.
func calculateConfidence(lmScore, amScore float64, nWords int) float64 {
	c := -0.0001466488*(2.388449*lmScore+amScore)/float64(nWords+1) + 0.956
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
