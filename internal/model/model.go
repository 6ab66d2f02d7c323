// Package model defines the immutable, process-lifetime model bundle: a
// decode graph, acoustic model, and supporting artifacts loaded once and
// shared read-only by every decoder worker bound to it.
package model

import (
	"fmt"
	"strconv"

	"github.com/nextcloud/go_kaldi_serve/internal/engine"
)

// ID identifies a model by name and BCP-47-ish language code, the same
// pairing the original server keyed its decoder-queue map by.
type ID struct {
	Name         string
	LanguageCode string
}

func (id ID) String() string {
	return fmt.Sprintf("%s/%s", id.Name, id.LanguageCode)
}

// Spec is the on-disk/config description of one model to load. Mirrors
// the original server's per-model configuration: artifact directory plus
// decoder/decodable tuning, one n_decoders worth of pool capacity.
type Spec struct {
	Name                   string  `mapstructure:"name"`
	LanguageCode           string  `mapstructure:"language_code"`
	Path                   string  `mapstructure:"path"`
	NDecoders              int     `mapstructure:"n_decoders"`
	Beam                   float64 `mapstructure:"beam"`
	MinActive              int     `mapstructure:"min_active"`
	MaxActive              int     `mapstructure:"max_active"`
	LatticeBeam            float64 `mapstructure:"lattice_beam"`
	AcousticScale          float64 `mapstructure:"acoustic_scale"`
	FrameSubsamplingFactor int     `mapstructure:"frame_subsampling_factor"`
	SilenceWeight          float64 `mapstructure:"silence_weight"`
	MaxNgramOrder          int     `mapstructure:"max_ngram_order"`
	RNNLMWeight            float64 `mapstructure:"rnnlm_weight"`
	BOSSymbol              string  `mapstructure:"bos_symbol"`
	EOSSymbol              string  `mapstructure:"eos_symbol"`
}

// ID returns the dispatch key for this spec.
func (s Spec) ID() ID { return ID{Name: s.Name, LanguageCode: s.LanguageCode} }

// withDefaults fills in the same defaults the original server's ModelSpec
// constructor used, so a mostly-empty config entry still loads.
func (s Spec) withDefaults() Spec {
	if s.NDecoders <= 0 {
		s.NDecoders = 1
	}
	if s.Beam <= 0 {
		s.Beam = 16.0
	}
	if s.MinActive <= 0 {
		s.MinActive = 200
	}
	if s.MaxActive <= 0 {
		s.MaxActive = 7000
	}
	if s.LatticeBeam <= 0 {
		s.LatticeBeam = 6.0
	}
	if s.AcousticScale <= 0 {
		s.AcousticScale = 1.0
	}
	if s.FrameSubsamplingFactor <= 0 {
		s.FrameSubsamplingFactor = 3
	}
	if s.SilenceWeight <= 0 {
		s.SilenceWeight = 1.0
	}
	if s.MaxNgramOrder <= 0 {
		s.MaxNgramOrder = 4
	}
	return s
}

// Validate rejects specs that cannot possibly load: missing identity or
// artifact path. A non-positive decoder count is not rejected here;
// withDefaults raises it to 1.
func (s Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("model: spec missing name")
	}
	if s.LanguageCode == "" {
		return fmt.Errorf("model: spec %q missing language_code", s.Name)
	}
	if s.Path == "" {
		return fmt.Errorf("model: spec %q missing path", s.Name)
	}
	return nil
}

// Bundle is the loaded, immutable set of artifacts for one Spec, paired
// with the engine-side Model it wraps. Bundles are safe for concurrent
// use by any number of decoder workers; nothing about a Bundle mutates
// after Load returns.
type Bundle struct {
	ID    ID
	Spec  Spec
	Model engine.Model
}

// Load resolves bos/eos symbols (if configured) to integer ids the engine
// needs, applies defaults, and asks the factory to build the engine-side
// model. Every failure, symbol resolution included, is returned as a
// plain wrapped error; dispatch.New passes it up unchanged and fails.
func Load(spec Spec, factory engine.Factory) (*Bundle, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	spec = spec.withDefaults()

	bosIndex, err := resolveSymbolIndex(spec.BOSSymbol)
	if err != nil {
		return nil, fmt.Errorf("model: spec %q: resolve bos_symbol %q: %w", spec.Name, spec.BOSSymbol, err)
	}
	eosIndex, err := resolveSymbolIndex(spec.EOSSymbol)
	if err != nil {
		return nil, fmt.Errorf("model: spec %q: resolve eos_symbol %q: %w", spec.Name, spec.EOSSymbol, err)
	}

	engineSpec := engine.ModelSpec{
		Path:                   spec.Path,
		NDecoders:              spec.NDecoders,
		Beam:                   spec.Beam,
		MinActive:              spec.MinActive,
		MaxActive:              spec.MaxActive,
		LatticeBeam:            spec.LatticeBeam,
		AcousticScale:          spec.AcousticScale,
		FrameSubsamplingFactor: spec.FrameSubsamplingFactor,
		SilenceWeight:          spec.SilenceWeight,
		MaxNgramOrder:          spec.MaxNgramOrder,
		RNNLMWeight:            spec.RNNLMWeight,
		BOSIndex:               bosIndex,
		EOSIndex:               eosIndex,
	}

	m, err := factory.Load(engineSpec)
	if err != nil {
		return nil, fmt.Errorf("model: load spec %q: %w", spec.Name, err)
	}

	return &Bundle{ID: spec.ID(), Spec: spec, Model: m}, nil
}

// resolveSymbolIndex parses a configured bos/eos symbol as a literal
// integer id, mirroring the original loader's fake-argv bos-index/
// eos-index parsing: the symbol string is always a numeric id in the
// RNNLM word-embedding vocabulary, never a word to look up. An empty
// symbol (RNNLM not configured for this model) resolves to -1.
func resolveSymbolIndex(symbol string) (int, error) {
	if symbol == "" {
		return -1, nil
	}
	n, err := strconv.Atoi(symbol)
	if err != nil {
		return 0, fmt.Errorf("not a numeric symbol id: %w", err)
	}
	return n, nil
}

// Close releases the bundle's engine-side model. Called once, when the
// owning dispatcher shuts down.
func (b *Bundle) Close() error {
	return b.Model.Close()
}
