package apihttp_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextcloud/go_kaldi_serve/internal/apihttp"
	"github.com/nextcloud/go_kaldi_serve/internal/dispatch"
	"github.com/nextcloud/go_kaldi_serve/internal/engine/fakeengine"
	"github.com/nextcloud/go_kaldi_serve/internal/model"
	"github.com/nextcloud/go_kaldi_serve/internal/session"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	specs := []model.Spec{{Name: "general", LanguageCode: "en", Path: "/models/en", NDecoders: 1}}
	d, err := dispatch.New(specs, fakeengine.Factory{Opts: []fakeengine.Option{fakeengine.WithFramesPerWord(50)}}, nil)
	require.NoError(t, err)
	driver := session.New(d, nil)
	h := apihttp.NewHandler(driver, d)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return httptest.NewServer(mux)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListModels(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/models")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var models []apihttp.ModelResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&models))
	require.Len(t, models, 1)
	assert.Equal(t, "general", models[0].Name)
}

func TestRecognize_RawAudio(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	body := make([]byte, 3200) // 1600 int16 samples, 100ms @ 16kHz
	url := srv.URL + "/v1/recognize?model=general&language=en&raw=true&sample_rate=16000&n_best=1"
	resp, err := http.Post(url, "application/octet-stream", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out apihttp.RecognizeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.Alternatives)
}

func TestRecognize_UnknownModelIsNotFound(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	body := make([]byte, 320)
	url := srv.URL + "/v1/recognize?model=nope&language=en&raw=true&sample_rate=16000"
	resp, err := http.Post(url, "application/octet-stream", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
