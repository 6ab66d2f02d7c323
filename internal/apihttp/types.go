// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package apihttp

// RecognizeRequest is the unary /v1/recognize request body: base64-free
// raw PCM16 or WAV bytes are sent as the HTTP body itself, with the
// model selection and decode options carried as query parameters
// (model, language, n_best, word_level, raw, sample_rate) rather than a
// JSON envelope. The handler reads the whole body (up to
// MaxAudioBytesPerRequest) into memory before decoding it.
type RecognizeRequest struct {
	Model        string
	LanguageCode string
	NBest        int
	WordLevel    bool
	RawAudio     bool
	SampleRateHz float64
}

// AlternativeResponse is one n-best hypothesis in wire form.
type AlternativeResponse struct {
	Transcript string         `json:"transcript"`
	Confidence float64        `json:"confidence"`
	AMScore    float64        `json:"am_score"`
	LMScore    float64        `json:"lm_score"`
	Words      []WordResponse `json:"words,omitempty"`
}

// WordResponse is one aligned word in wire form.
type WordResponse struct {
	Word       string  `json:"word"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Confidence float64 `json:"confidence"`
}

// RecognizeResponse is the unary /v1/recognize response body.
type RecognizeResponse struct {
	Alternatives []AlternativeResponse `json:"alternatives"`
}

// ErrorResponse is the JSON body written for any 4xx/5xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// ModelResponse describes one configured model for /v1/models.
type ModelResponse struct {
	Name         string `json:"name"`
	LanguageCode string `json:"language_code"`
	NDecoders    int    `json:"n_decoders"`
	WordBoundary bool   `json:"word_boundary"`
	RNNLM        bool   `json:"rnnlm"`
}

// StatusResponse is the /healthz body.
type StatusResponse struct {
	Status string `json:"status"`
}
