// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package apihttp is the HTTP control plane: a unary recognize endpoint
// plus health and capability introspection, adapted from the original
// service's handler package with the Nextcloud-Talk-specific call/room
// surface replaced by the model-centric recognize surface this module
// actually serves.
package apihttp

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/nextcloud/go_kaldi_serve/internal/constants"
	"github.com/nextcloud/go_kaldi_serve/internal/dispatch"
	"github.com/nextcloud/go_kaldi_serve/internal/lattice"
	"github.com/nextcloud/go_kaldi_serve/internal/model"
	"github.com/nextcloud/go_kaldi_serve/internal/session"
	"github.com/nextcloud/go_kaldi_serve/internal/worker"
)

// Handler serves the HTTP control plane over a session.Driver and its
// backing dispatcher (the latter needed for /v1/models introspection).
type Handler struct {
	driver     *session.Driver
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

// NewHandler builds a Handler over driver/dispatcher.
func NewHandler(driver *session.Driver, dispatcher *dispatch.Dispatcher) *Handler {
	return &Handler{driver: driver, dispatcher: dispatcher, logger: slog.With("component", "apihttp")}
}

// RegisterRoutes wires every endpoint onto mux, using Go 1.22+ method-
// prefixed patterns the way the original handler package did.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /v1/models", h.ListModels)
	mux.HandleFunc("POST /v1/recognize", h.Recognize)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("apihttp: encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message, kind string) {
	writeJSON(w, status, ErrorResponse{Error: message, Kind: kind})
}

// Healthz reports process liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// ListModels reports every configured model and its capabilities.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	ids := h.dispatcher.Models()
	out := make([]ModelResponse, 0, len(ids))
	for _, id := range ids {
		bundle := h.dispatcher.Bundle(id)
		out = append(out, ModelResponse{
			Name:         id.Name,
			LanguageCode: id.LanguageCode,
			NDecoders:    bundle.Spec.NDecoders,
			WordBoundary: bundle.Model.HasWordBoundary(),
			RNNLM:        bundle.Model.HasRNNLM(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// Recognize runs a single full-utterance decode against the audio in
// the request body, with decode options carried as query parameters.
func (h *Handler) Recognize(w http.ResponseWriter, r *http.Request) {
	req := parseRecognizeRequest(r)

	body, err := io.ReadAll(io.LimitReader(r.Body, constants.MaxAudioBytesPerRequest+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body", "invalid_audio")
		return
	}
	if len(body) > constants.MaxAudioBytesPerRequest {
		writeError(w, http.StatusRequestEntityTooLarge, "audio payload too large", "invalid_audio")
		return
	}

	var samples []int16
	sampleRate := req.SampleRateHz
	if req.RawAudio {
		samples = worker.BytesToSamples(body)
		if sampleRate == 0 {
			sampleRate = constants.DefaultSampleRateHz
		}
	} else {
		var err error
		samples, sampleRate, err = worker.DecodeWAV(bytes.NewReader(body))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "invalid_audio")
			return
		}
	}

	id := model.ID{Name: req.Model, LanguageCode: req.LanguageCode}
	alts, err := h.driver.Recognize(r.Context(), session.Config{
		ModelID:      id,
		NBest:        req.NBest,
		WordLevel:    req.WordLevel,
		SampleRateHz: sampleRate,
		ChunkSeconds: constants.DefaultChunkSeconds,
	}, samples)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, RecognizeResponse{Alternatives: toAlternativeResponses(alts)})
}

func (h *Handler) writeSessionError(w http.ResponseWriter, err error) {
	var serr *session.Error
	kind := session.ErrorKindUnknown
	if errors.As(err, &serr) {
		kind = serr.Kind
	}
	status := http.StatusInternalServerError
	switch kind {
	case session.ErrorKindModelNotFound:
		status = http.StatusNotFound
	case session.ErrorKindInvalidAudio:
		status = http.StatusBadRequest
	case session.ErrorKindCancelled:
		status = http.StatusRequestTimeout
	}
	h.logger.Error("recognize failed", "kind", kind.String(), "error", err)
	writeError(w, status, err.Error(), kind.String())
}

func toAlternativeResponses(alts []lattice.Alternative) []AlternativeResponse {
	out := make([]AlternativeResponse, len(alts))
	for i, a := range alts {
		resp := AlternativeResponse{
			Transcript: a.Transcript,
			Confidence: a.Confidence,
			AMScore:    a.AMScore,
			LMScore:    a.LMScore,
		}
		if len(a.Words) > 0 {
			resp.Words = make([]WordResponse, len(a.Words))
			for j, word := range a.Words {
				resp.Words[j] = WordResponse{
					Word:       word.Word,
					StartTime:  word.StartTime,
					EndTime:    word.EndTime,
					Confidence: word.Confidence,
				}
			}
		}
		out[i] = resp
	}
	return out
}

func parseRecognizeRequest(r *http.Request) RecognizeRequest {
	q := r.URL.Query()
	nBest, err := strconv.Atoi(q.Get("n_best"))
	if err != nil || nBest <= 0 {
		nBest = constants.DefaultNBest
	}
	sampleRate, _ := strconv.ParseFloat(q.Get("sample_rate"), 64)
	return RecognizeRequest{
		Model:        q.Get("model"),
		LanguageCode: q.Get("language"),
		NBest:        nBest,
		WordLevel:    q.Get("word_level") == "true",
		RawAudio:     q.Get("raw") == "true",
		SampleRateHz: sampleRate,
	}
}
