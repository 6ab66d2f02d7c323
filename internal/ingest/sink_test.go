package ingest_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextcloud/go_kaldi_serve/internal/ingest"
	"github.com/nextcloud/go_kaldi_serve/internal/lattice"
)

func TestWebSocketSink_SendWritesJSONFrame(t *testing.T) {
	upgrader := websocket.Upgrader{}
	serverConnCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConnCh <- conn
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer clientConn.Close()

	serverConn := <-serverConnCh
	defer serverConn.Close()

	sink := ingest.NewWebSocketSink(serverConn, "sess-1")
	alts := []lattice.Alternative{{Transcript: "hello world", Confidence: 0.9}}
	require.NoError(t, sink.Send(context.Background(), alts, true))

	_, data, err := clientConn.ReadMessage()
	require.NoError(t, err)

	var got struct {
		Final      bool    `json:"final"`
		Transcript string  `json:"transcript"`
		Confidence float64 `json:"confidence"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.True(t, got.Final)
	assert.Equal(t, "hello world", got.Transcript)
	assert.Equal(t, 0.9, got.Confidence)
}

func TestWebSocketSink_SendEmptyAlternatives(t *testing.T) {
	upgrader := websocket.Upgrader{}
	serverConnCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConnCh <- conn
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer clientConn.Close()

	serverConn := <-serverConnCh
	defer serverConn.Close()

	sink := ingest.NewWebSocketSink(serverConn, "sess-1")
	require.NoError(t, sink.Send(context.Background(), nil, false))

	_, data, err := clientConn.ReadMessage()
	require.NoError(t, err)
	var got struct {
		Final      bool   `json:"final"`
		Transcript string `json:"transcript"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.False(t, got.Final)
	assert.Equal(t, "", got.Transcript)
}
