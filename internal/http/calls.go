package http

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"voiceguard-service/internal/service/call"
)

type startCallRequest struct {
	RecordID    string `json:"recordId"`
	Transcript  string `json:"transcript" validate:"max=100000"`
	CallerLabel string `json:"callerLabel" validate:"max=80"`
}

// callView is a snapshot plus its rendered transcript.
type callView struct {
	call.Snapshot
	TranscriptText string `json:"transcriptText"`
}

func viewOf(s call.Snapshot) callView {
	return callView{Snapshot: s, TranscriptText: s.TranscriptText()}
}

func (h *handlers) startCall(w http.ResponseWriter, r *http.Request) {
	var req startCallRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	snap, err := h.app.Machine.Start(r.Context(), call.Selection{
		RecordID:    req.RecordID,
		Transcript:  req.Transcript,
		CallerLabel: req.CallerLabel,
	})
	if err != nil {
		switch {
		case errors.Is(err, call.ErrCallActive):
			h.app.Metrics.RecordCallRejected("active")
		case errors.Is(err, call.ErrNoTranscripts):
			h.app.Metrics.RecordCallRejected("no_transcripts")
		default:
			h.app.Metrics.RecordCallRejected("invalid")
		}
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(snap))
}

func (h *handlers) currentCall(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, viewOf(h.app.Machine.Snapshot()))
}

func (h *handlers) endCall(w http.ResponseWriter, _ *http.Request) {
	ended := h.app.Machine.End()
	writeJSON(w, http.StatusOK, map[string]any{
		"ended":    ended,
		"snapshot": viewOf(h.app.Machine.Snapshot()),
	})
}

func (h *handlers) listRecords(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Catalog.List())
}

func (h *handlers) getRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.app.Catalog.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
