// Package ingest adapts live audio transports onto session.ChunkSource
// and session.ResponseSink: a WebRTC audio track (Opus-over-RTP) feeding
// a bidi-streaming recognize session, with decoded transcripts pushed
// back over a WebSocket connection. This is the transport layer the
// original service's signaling client bundled together with its
// HPB-specific room protocol; here it is generalized to any caller that
// can hand us a *webrtc.TrackRemote and a *websocket.Conn.
package ingest

import (
	"context"
	"log/slog"

	"github.com/hraban/opus"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/nextcloud/go_kaldi_serve/internal/session"
)

// opusSampleRateHz and opusChannels match the fixed Opus configuration
// the original track reader decoded against; WebRTC Opus is always
// negotiated at a 48kHz clock rate regardless of the encoder's actual
// input rate.
const (
	opusSampleRateHz = 48000
	opusChannels     = 1
	maxOpusFrameSize = 5760 // 120ms at 48kHz
	rtpReadBufSize   = 4096
)

// TrackSource reads Opus-encoded RTP packets from a WebRTC remote track,
// decodes them to PCM16, and exposes them as a session.ChunkSource.
type TrackSource struct {
	track  *webrtc.TrackRemote
	dec    *opus.Decoder
	pcmBuf []int16
	rtpBuf []byte
	logger *slog.Logger
}

// NewTrackSource builds a ChunkSource over track. sessionID is used only
// for logging.
func NewTrackSource(track *webrtc.TrackRemote, sessionID string) (*TrackSource, error) {
	dec, err := opus.NewDecoder(opusSampleRateHz, opusChannels)
	if err != nil {
		return nil, err
	}
	return &TrackSource{
		track:  track,
		dec:    dec,
		pcmBuf: make([]int16, maxOpusFrameSize),
		rtpBuf: make([]byte, rtpReadBufSize),
		logger: slog.With("component", "ingest_track", "session_id", sessionID),
	}, nil
}

// Next blocks until one RTP packet's worth of audio has been decoded, ctx
// is cancelled, or the track ends. Packets that fail to unmarshal or
// decode are skipped rather than treated as a fatal error, mirroring the
// original track reader's tolerance for the occasional malformed packet.
func (s *TrackSource) Next(ctx context.Context) ([]int16, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, _, err := s.track.Read(s.rtpBuf)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, session.ErrEndOfChunks
		}
		if n == 0 {
			continue
		}

		packet := &rtp.Packet{}
		if err := packet.Unmarshal(s.rtpBuf[:n]); err != nil {
			s.logger.Debug("dropping unparseable RTP packet", "error", err)
			continue
		}
		if len(packet.Payload) == 0 {
			continue
		}

		decoded, err := s.dec.Decode(packet.Payload, s.pcmBuf)
		if err != nil {
			s.logger.Debug("dropping undecodable opus frame", "error", err)
			continue
		}
		if decoded == 0 {
			continue
		}

		samples := make([]int16, decoded)
		copy(samples, s.pcmBuf[:decoded])
		return samples, nil
	}
}

// SampleRateHz reports the fixed Opus clock rate every TrackSource
// decodes at.
func (s *TrackSource) SampleRateHz() float64 { return opusSampleRateHz }
