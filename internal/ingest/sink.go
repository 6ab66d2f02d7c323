package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextcloud/go_kaldi_serve/internal/constants"
	"github.com/nextcloud/go_kaldi_serve/internal/lattice"
	"github.com/nextcloud/go_kaldi_serve/internal/session"
)

// transcriptMessage is the JSON frame pushed to a WebSocket client for
// every interim or final result.
type transcriptMessage struct {
	Final        bool     `json:"final"`
	Transcript   string   `json:"transcript"`
	Confidence   float64  `json:"confidence"`
	Alternatives []string `json:"alternatives,omitempty"`
}

// WebSocketSink implements session.ResponseSink over a gorilla/websocket
// connection, with an adaptive write timeout: every third consecutive
// send that hits the timeout raises it for subsequent sends, and each
// send that completes in under half the current timeout lowers it back
// down. This mirrors the original transcript sender's backoff loop, with
// a WebSocket text frame in place of an internal HPB message send.
type WebSocketSink struct {
	conn    *websocket.Conn
	logger  *slog.Logger
	timeout time.Duration
	slowRun int
}

// NewWebSocketSink wraps conn. conn must not be used concurrently by any
// other writer.
func NewWebSocketSink(conn *websocket.Conn, sessionID string) *WebSocketSink {
	return &WebSocketSink{
		conn:    conn,
		logger:  slog.With("component", "ingest_sink", "session_id", sessionID),
		timeout: constants.TranscriptSendMinTimeout,
	}
}

// Send writes one result set as a transcriptMessage. The best alternative
// (if any) becomes Transcript/Confidence; every alternative's transcript
// is also listed.
func (s *WebSocketSink) Send(ctx context.Context, alternatives []lattice.Alternative, final bool) error {
	msg := transcriptMessage{Final: final}
	if len(alternatives) > 0 {
		msg.Transcript = alternatives[0].Transcript
		msg.Confidence = alternatives[0].Confidence
		msg.Alternatives = make([]string, len(alternatives))
		for i, a := range alternatives {
			msg.Alternatives[i] = a.Transcript
		}
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	start := time.Now()
	go func() { done <- s.conn.WriteMessage(websocket.TextMessage, payload) }()

	select {
	case err := <-done:
		s.recordLatency(time.Since(start))
		return err
	case <-time.After(s.timeout):
		s.logger.Warn("timeout sending transcript", "timeout", s.timeout)
		s.growTimeout()
		return session.ErrEndOfChunks // treat a hung connection as the sink asking to stop
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *WebSocketSink) recordLatency(elapsed time.Duration) {
	if elapsed < s.timeout/2 {
		s.slowRun = 0
		if s.timeout > constants.TranscriptSendMinTimeout {
			shrunk := time.Duration(float64(s.timeout) / constants.TranscriptSendTimeoutIncreaseFactor)
			if shrunk < constants.TranscriptSendMinTimeout {
				shrunk = constants.TranscriptSendMinTimeout
			}
			s.timeout = shrunk
		}
	}
}

func (s *WebSocketSink) growTimeout() {
	s.slowRun++
	if s.slowRun < 3 {
		return
	}
	s.slowRun = 0
	grown := time.Duration(float64(s.timeout) * constants.TranscriptSendTimeoutIncreaseFactor)
	if grown > constants.TranscriptSendMaxTimeout {
		grown = constants.TranscriptSendMaxTimeout
	}
	s.timeout = grown
}
