package apihttp_test

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextcloud/go_kaldi_serve/internal/apihttp"
)

func authTestServer(t *testing.T, secret string) *httptest.Server {
	t.Helper()
	inner := http.NewServeMux()
	inner.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	inner.HandleFunc("GET /v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	wrapped := apihttp.AuthMiddleware(secret, map[string]bool{"/healthz": true}, inner)
	return httptest.NewServer(wrapped)
}

func basicAuthHeader(user, secret string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+secret))
}

func TestAuthMiddleware_SkipsConfiguredPaths(t *testing.T) {
	srv := authTestServer(t, "s3cr3t")
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthMiddleware_RejectsMissingHeader(t *testing.T) {
	srv := authTestServer(t, "s3cr3t")
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/models")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthMiddleware_RejectsWrongSecret(t *testing.T) {
	srv := authTestServer(t, "s3cr3t")
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/models", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", basicAuthHeader("user", "wrong"))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthMiddleware_AllowsMatchingSecret(t *testing.T) {
	srv := authTestServer(t, "s3cr3t")
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/models", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", basicAuthHeader("user", "s3cr3t"))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
