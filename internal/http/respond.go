package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"voiceguard-service/internal/app"
	"voiceguard-service/internal/schema"
	"voiceguard-service/internal/service/analysis"
	"voiceguard-service/internal/service/call"
	"voiceguard-service/internal/service/source"
	"voiceguard-service/internal/store"
)

// maxBodyBytes bounds request bodies; audio data URIs dominate.
const maxBodyBytes = 16 << 20

type handlers struct {
	app    *app.Application
	logger zerolog.Logger
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, call.ErrCallActive):
		return http.StatusConflict
	case errors.Is(err, call.ErrNoTranscripts):
		return http.StatusServiceUnavailable
	case errors.Is(err, source.ErrUnknownRecord), errors.Is(err, store.ErrNotFound), errors.Is(err, call.ErrNotActive):
		return http.StatusNotFound
	case errors.Is(err, schema.ErrInvalid), errors.Is(err, analysis.ErrInvalidInput), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, analysis.ErrUnavailable), errors.Is(err, analysis.ErrBadResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

var errBadRequest = errors.New("bad request")

// decode reads a JSON body into v and validates its tags. An empty body
// leaves v untouched.
func (h *handlers) decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return h.app.Validator.Validate(v)
}
