package ingest

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/nextcloud/go_kaldi_serve/internal/model"
	"github.com/nextcloud/go_kaldi_serve/internal/session"
)

// OfferMessage is the first frame a WebRTC signaling client sends over
// the upgraded connection: an SDP offer plus the model the captured
// audio track should be recognized against. Generalizes the original
// signaling client's handleOffer, which carried the same SDP/model
// pairing inside an HPB-specific envelope this module has no use for.
type OfferMessage struct {
	SDP          string `json:"sdp"`
	Model        string `json:"model"`
	LanguageCode string `json:"language_code"`
	NBest        int    `json:"n_best"`
	WordLevel    bool   `json:"word_level"`
}

// AnswerMessage is the SDP answer sent back once ICE gathering completes.
type AnswerMessage struct {
	SDP string `json:"sdp"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// SignalHandler upgrades an HTTP connection to a WebSocket that carries
// WebRTC offer/answer signaling one way and recognized transcripts the
// other, wiring a TrackSource/WebSocketSink pair into
// session.Driver.BidiStreamingRecognize for whatever audio track the
// negotiated peer connection receives.
type SignalHandler struct {
	driver *session.Driver
	logger *slog.Logger
}

// NewSignalHandler builds a SignalHandler over driver.
func NewSignalHandler(driver *session.Driver) *SignalHandler {
	return &SignalHandler{driver: driver, logger: slog.With("component", "ingest_signal")}
}

// ServeHTTP upgrades the connection, reads one OfferMessage, answers it,
// and drives a recognition session over whatever audio track the peer
// connection negotiates.
func (h *SignalHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	var offer OfferMessage
	if err := conn.ReadJSON(&offer); err != nil {
		h.logger.Error("failed to read offer", "error", err)
		conn.Close()
		return
	}

	sessionID := uuid.NewString()
	logger := h.logger.With("session_id", sessionID)

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		logger.Error("failed to create peer connection", "error", err)
		conn.Close()
		return
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		logger.Error("failed to add audio transceiver", "error", err)
		pc.Close()
		conn.Close()
		return
	}

	cfg := session.Config{
		ModelID:   model.ID{Name: offer.Model, LanguageCode: offer.LanguageCode},
		NBest:     offer.NBest,
		WordLevel: offer.WordLevel,
	}
	if cfg.NBest <= 0 {
		cfg.NBest = 1
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("peer connection state changed", "state", state.String())
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			pc.Close()
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		logger.Debug("receiving audio track", "codec", track.Codec().MimeType)

		src, err := NewTrackSource(track, sessionID)
		if err != nil {
			logger.Error("failed to build track source", "error", err)
			return
		}
		cfg.SampleRateHz = src.SampleRateHz()
		sink := NewWebSocketSink(conn, sessionID)

		if err := h.driver.BidiStreamingRecognize(r.Context(), cfg, src, sink); err != nil {
			logger.Error("recognition session ended with error", "error", err)
		}
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		logger.Error("failed to set remote description", "error", err)
		pc.Close()
		conn.Close()
		return
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		logger.Error("failed to create answer", "error", err)
		pc.Close()
		conn.Close()
		return
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		logger.Error("failed to set local description", "error", err)
		pc.Close()
		conn.Close()
		return
	}
	<-gatherComplete

	if err := conn.WriteJSON(AnswerMessage{SDP: pc.LocalDescription().SDP}); err != nil {
		logger.Error("failed to send answer", "error", err)
		pc.Close()
		conn.Close()
	}
}
