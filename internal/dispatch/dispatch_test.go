package dispatch_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextcloud/go_kaldi_serve/internal/dispatch"
	"github.com/nextcloud/go_kaldi_serve/internal/engine/fakeengine"
	"github.com/nextcloud/go_kaldi_serve/internal/model"
	"github.com/nextcloud/go_kaldi_serve/internal/pool"
)

func specs() []model.Spec {
	return []model.Spec{
		{Name: "general", LanguageCode: "en", Path: "/models/en", NDecoders: 2},
		{Name: "general", LanguageCode: "fr", Path: "/models/fr", NDecoders: 1},
	}
}

func TestDispatcher_LooksUpConfiguredModels(t *testing.T) {
	d, err := dispatch.New(specs(), fakeengine.Factory{}, nil)
	require.NoError(t, err)

	en := model.ID{Name: "general", LanguageCode: "en"}
	assert.True(t, d.HasModel(en))
	require.NotNil(t, d.Pool(en))
	assert.Equal(t, 2, d.Pool(en).Capacity())

	unknown := model.ID{Name: "general", LanguageCode: "de"}
	assert.False(t, d.HasModel(unknown))
	assert.Nil(t, d.Pool(unknown))
}

func TestDispatcher_RejectsDuplicateModelIDs(t *testing.T) {
	dup := []model.Spec{
		{Name: "general", LanguageCode: "en", Path: "/a", NDecoders: 1},
		{Name: "general", LanguageCode: "en", Path: "/b", NDecoders: 1},
	}
	_, err := dispatch.New(dup, fakeengine.Factory{}, nil)
	assert.Error(t, err)
}

func TestDispatcher_CloseReleasesPoolsAndModels(t *testing.T) {
	d, err := dispatch.New(specs(), fakeengine.Factory{}, nil)
	require.NoError(t, err)

	en := model.ID{Name: "general", LanguageCode: "en"}
	require.NoError(t, d.Close())

	_, err = d.Pool(en).Acquire(context.Background())
	assert.ErrorIs(t, err, pool.ErrClosed)
}
