package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextcloud/go_kaldi_serve/internal/engine"
	"github.com/nextcloud/go_kaldi_serve/internal/engine/fakeengine"
	"github.com/nextcloud/go_kaldi_serve/internal/model"
)

func TestSpec_ValidateRequiresIdentityAndPath(t *testing.T) {
	cases := []model.Spec{
		{LanguageCode: "en", Path: "/x"},
		{Name: "general", Path: "/x"},
		{Name: "general", LanguageCode: "en"},
	}
	for _, c := range cases {
		assert.Error(t, c.Validate())
	}
	assert.NoError(t, model.Spec{Name: "general", LanguageCode: "en", Path: "/x"}.Validate())
}

func TestLoad_AppliesDefaults(t *testing.T) {
	spec := model.Spec{Name: "general", LanguageCode: "en", Path: "/x"}
	bundle, err := model.Load(spec, fakeengine.Factory{})
	require.NoError(t, err)
	assert.Equal(t, 1, bundle.Spec.NDecoders)
	assert.Equal(t, 16.0, bundle.Spec.Beam)
	assert.Equal(t, 200, bundle.Spec.MinActive)
	assert.Equal(t, 7000, bundle.Spec.MaxActive)
	assert.Equal(t, 3, bundle.Spec.FrameSubsamplingFactor)
}

func TestLoad_RejectsInvalidSpec(t *testing.T) {
	_, err := model.Load(model.Spec{}, fakeengine.Factory{})
	assert.Error(t, err)
}

func TestLoad_RejectsNonNumericBOSSymbol(t *testing.T) {
	spec := model.Spec{Name: "general", LanguageCode: "en", Path: "/x", BOSSymbol: "<s>"}
	_, err := model.Load(spec, fakeengine.Factory{})
	assert.Error(t, err)
}

func TestLoad_AcceptsNumericBOSEOSSymbols(t *testing.T) {
	spec := model.Spec{Name: "general", LanguageCode: "en", Path: "/x", BOSSymbol: "1", EOSSymbol: "2"}
	bundle, err := model.Load(spec, fakeengine.Factory{})
	require.NoError(t, err)
	require.NotNil(t, bundle)
}

type failingFactory struct{}

func (failingFactory) Load(spec engine.ModelSpec) (engine.Model, error) {
	return nil, assertErr
}

var assertErr = &loadErr{}

type loadErr struct{}

func (*loadErr) Error() string { return "boom" }

func TestLoad_WrapsFactoryError(t *testing.T) {
	spec := model.Spec{Name: "general", LanguageCode: "en", Path: "/x"}
	_, err := model.Load(spec, failingFactory{})
	assert.Error(t, err)
}

func TestBundle_IDMatchesSpec(t *testing.T) {
	spec := model.Spec{Name: "general", LanguageCode: "fr", Path: "/x"}
	bundle, err := model.Load(spec, fakeengine.Factory{})
	require.NoError(t, err)
	assert.Equal(t, model.ID{Name: "general", LanguageCode: "fr"}, bundle.ID)
	assert.Equal(t, "general/fr", bundle.ID.String())
}
