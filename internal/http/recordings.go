package http

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"voiceguard-service/internal/report"
	"voiceguard-service/internal/service/source"
	"voiceguard-service/internal/store"
)

type createRecordingRequest struct {
	FileName        string  `json:"fileName" validate:"required,max=255"`
	ContentType     string  `json:"contentType" validate:"omitempty,startswith=audio/"`
	SizeBytes       int64   `json:"sizeBytes" validate:"gte=0"`
	DurationSeconds float64 `json:"durationSeconds" validate:"gte=0"`
	Transcript      string  `json:"transcript"`
	AudioDataURI    string  `json:"audioDataUri" validate:"omitempty,startswith=data:audio/"`
}

type updateRecordingRequest struct {
	FileName   *string `json:"fileName" validate:"omitempty,min=1,max=255"`
	Transcript *string `json:"transcript"`
}

// catalogRecord exposes a transcribed recording as a playable call record.
func catalogRecord(rec *store.Recording) source.Record {
	secs := int(math.Round(rec.DurationSeconds))
	return source.Record{
		ID:           rec.ID,
		Type:         source.CallUploaded,
		Contact:      rec.FileName,
		Duration:     fmt.Sprintf("%dm %ds", secs/60, secs%60),
		Date:         rec.CreatedAt.Format(time.DateOnly),
		Risk:         "Low",
		Emotion:      "Neutral",
		Voice:        "Unknown",
		Transcript:   rec.Transcript,
		AudioDataURI: rec.AudioDataURI,
	}
}

// syncCatalog keeps the playable record of a recording in step with it.
func (h *handlers) syncCatalog(rec *store.Recording) {
	h.app.Catalog.Remove(rec.ID)
	if rec.Transcript != "" {
		h.app.Catalog.Add(catalogRecord(rec))
	}
}

func (h *handlers) createRecording(w http.ResponseWriter, r *http.Request) {
	var req createRecordingRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	rec := &store.Recording{
		ID:              uuid.NewString(),
		FileName:        req.FileName,
		ContentType:     req.ContentType,
		SizeBytes:       req.SizeBytes,
		DurationSeconds: req.DurationSeconds,
		Transcript:      req.Transcript,
		AudioDataURI:    req.AudioDataURI,
	}
	if err := h.app.Store.CreateRecording(r.Context(), rec); err != nil {
		h.fail(w, r, err)
		return
	}
	h.syncCatalog(rec)
	writeJSON(w, http.StatusCreated, rec)
}

func (h *handlers) listRecordings(w http.ResponseWriter, r *http.Request) {
	recs, err := h.app.Store.ListRecordings(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *handlers) getRecording(w http.ResponseWriter, r *http.Request) {
	rec, err := h.app.Store.GetRecording(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) updateRecording(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateRecordingRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	ctx := r.Context()
	if req.FileName != nil {
		if err := h.app.Store.RenameRecording(ctx, id, *req.FileName); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	if req.Transcript != nil {
		if err := h.app.Store.SetTranscript(ctx, id, *req.Transcript); err != nil {
			h.fail(w, r, err)
			return
		}
	}

	rec, err := h.app.Store.GetRecording(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.syncCatalog(rec)
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) deleteRecording(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.app.Store.DeleteRecording(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.app.Catalog.Remove(id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.fail(w, r, fmt.Errorf("%w: limit must be a positive integer", errBadRequest))
			return
		}
		limit = min(n, 500)
	}
	calls, err := h.app.Store.ListCalls(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, calls)
}

func (h *handlers) getHistory(w http.ResponseWriter, r *http.Request) {
	c, err := h.app.Store.GetCall(r.Context(), chi.URLParam(r, "callId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *handlers) exportHistory(w http.ResponseWriter, r *http.Request) {
	calls, err := h.app.Store.ListCalls(r.Context(), 10000)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="call-history.xlsx"`)
	if err := report.WriteHistory(w, calls); err != nil {
		h.logger.Error().Err(err).Msg("Failed to write history export")
	}
}
