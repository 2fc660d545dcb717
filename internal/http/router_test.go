package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"voiceguard-service/internal/app"
	"voiceguard-service/internal/config"
	"voiceguard-service/internal/schema"
	"voiceguard-service/internal/service/analysis"
	"voiceguard-service/internal/service/call"
	"voiceguard-service/internal/service/risk"
	"voiceguard-service/internal/service/source"
	"voiceguard-service/internal/store"
)

func newTestApp(t *testing.T) (*app.Application, http.Handler) {
	t.Helper()
	cfg := &config.Config{
		Service: config.ServiceConfig{Principal: "svc-test"},
		Call: config.CallConfig{
			TickInterval: time.Hour,
			QueueSize:    64,
		},
		Risk:     risk.DefaultConfig(),
		Store:    config.StoreConfig{Path: filepath.Join(t.TempDir(), "vg.db")},
		Analysis: config.AnalysisConfig{Provider: "mock"},
	}
	a, err := app.New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, a.Start(ctx))
	t.Cleanup(func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		a.Shutdown(shutdownCtx)
		cancel()
	})
	return a, NewRouter(a)
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthEndpoints(t *testing.T) {
	_, h := newTestApp(t)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/liveness", nil).Code)
	rec := do(t, h, http.MethodGet, "/v1/readiness", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", rec.Body.String())
}

func TestStatusEndpoint(t *testing.T) {
	a, h := newTestApp(t)

	rec := do(t, h, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "idle", body["callStatus"])
	assert.Equal(t, "mock", body["provider"])
	assert.Equal(t, false, body["kafka"])
	assert.EqualValues(t, a.Catalog.Len(), body["records"])
	assert.Contains(t, body, "stream")
}

func TestCallLifecycle(t *testing.T) {
	a, h := newTestApp(t)

	rec := do(t, h, http.MethodGet, "/v1/calls/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	idle := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "idle", idle["status"])
	assert.Equal(t, "Awaiting call...", idle["transcriptText"])

	rec = do(t, h, http.MethodPost, "/v1/calls", map[string]string{
		"transcript":  "Speaker1: This is the police. Transfer money immediately. Speaker2: What?",
		"callerLabel": "Officer",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	started := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "active", started["status"])
	assert.Equal(t, "Officer", started["callerLabel"])
	callID := started["callId"].(string)

	rec = do(t, h, http.MethodPost, "/v1/calls", map[string]string{"transcript": "Speaker1: again"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.True(t, a.Machine.Tick())
	rec = do(t, h, http.MethodGet, "/v1/calls/current", nil)
	current := decodeBody[map[string]any](t, rec)
	assert.Greater(t, current["riskScore"].(float64), 0.0)
	assert.Contains(t, current["transcriptText"], "Caller: This is the police.")

	rec = do(t, h, http.MethodDelete, "/v1/calls/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ended := decodeBody[map[string]any](t, rec)
	assert.Equal(t, true, ended["ended"])

	rec = do(t, h, http.MethodDelete, "/v1/calls/current", nil)
	assert.Equal(t, false, decodeBody[map[string]any](t, rec)["ended"])

	require.Eventually(t, func() bool {
		rec := do(t, h, http.MethodGet, "/v1/history/"+callID, nil)
		return rec.Code == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	rec = do(t, h, http.MethodGet, "/v1/history/"+callID, nil)
	hist := decodeBody[store.CallRecord](t, rec)
	assert.Equal(t, "hangup", hist.EndReason)
	assert.Equal(t, 1, hist.Delivered)
}

func TestStartCall_Errors(t *testing.T) {
	_, h := newTestApp(t)

	rec := do(t, h, http.MethodPost, "/v1/calls", map[string]string{"recordId": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/calls", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartCall_FromRecord(t *testing.T) {
	_, h := newTestApp(t)

	records := decodeBody[[]map[string]any](t, do(t, h, http.MethodGet, "/v1/records", nil))
	require.NotEmpty(t, records)
	id := records[0]["id"].(string)

	rec := do(t, h, http.MethodGet, "/v1/records/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/calls", map[string]string{"recordId": id})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, id, decodeBody[map[string]any](t, rec)["recordId"])

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/records/nope", nil).Code)
}

func TestRecordingsCRUD(t *testing.T) {
	a, h := newTestApp(t)
	before := a.Catalog.Len()

	rec := do(t, h, http.MethodPost, "/v1/recordings", map[string]any{
		"fileName":        "voicemail.wav",
		"contentType":     "audio/wav",
		"sizeBytes":       16044,
		"durationSeconds": 125.4,
		"transcript":      "Speaker1: Your account is blocked. Share the code.",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[store.Recording](t, rec)
	assert.Equal(t, before+1, a.Catalog.Len())

	playable, err := a.Catalog.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "2m 5s", playable.Duration)

	list := decodeBody[[]store.Recording](t, do(t, h, http.MethodGet, "/v1/recordings", nil))
	require.Len(t, list, 1)

	rec = do(t, h, http.MethodPatch, "/v1/recordings/"+created.ID, map[string]string{"fileName": "renamed.wav"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "renamed.wav", decodeBody[store.Recording](t, rec).FileName)
	playable, _ = a.Catalog.Get(created.ID)
	assert.Equal(t, "renamed.wav", playable.Contact)

	rec = do(t, h, http.MethodDelete, "/v1/recordings/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, before, a.Catalog.Len())
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/recordings/"+created.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/v1/recordings/"+created.ID, nil).Code)
}

func TestCreateRecording_Validation(t *testing.T) {
	_, h := newTestApp(t)

	rec := do(t, h, http.MethodPost, "/v1/recordings", map[string]any{"contentType": "text/plain"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[errorBody](t, rec).Error, "fileName")
}

func TestHistory_ListAndExport(t *testing.T) {
	a, h := newTestApp(t)
	require.NoError(t, a.Store.SaveCall(context.Background(), store.CallRecord{
		CallID:    "call-x",
		StartedAt: time.Now().Add(-time.Minute),
		EndedAt:   time.Now(),
		EndReason: "exhausted",
		RiskScore: 80,
		RiskLevel: "high",
		Analysis:  risk.DefaultAnalysis(),
	}))

	calls := decodeBody[[]store.CallRecord](t, do(t, h, http.MethodGet, "/v1/history?limit=10", nil))
	require.Len(t, calls, 1)
	assert.Equal(t, "call-x", calls[0].CallID)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/v1/history?limit=-1", nil).Code)

	rec := do(t, h, http.MethodGet, "/v1/history/export.xlsx", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	f, err := excelize.OpenReader(rec.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Call History")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestAnalysisEndpoints(t *testing.T) {
	_, h := newTestApp(t)

	rec := do(t, h, http.MethodPost, "/v1/analysis/scam-patterns", map[string]string{
		"transcription": "Transfer the money immediately to this safe account.",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decodeBody[map[string]any](t, rec)["isScam"])

	rec = do(t, h, http.MethodPost, "/v1/analysis/emotional-manipulation", map[string]string{"text": "Hurry!"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Stressed", decodeBody[map[string]any](t, rec)["overallSentiment"])

	rec = do(t, h, http.MethodPost, "/v1/analysis/speech", map[string]string{"text": "Hang up"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(decodeBody[map[string]string](t, rec)["audioDataUri"], "data:audio/wav;base64,"))

	rec = do(t, h, http.MethodPost, "/v1/analysis/synthetic-voice", map[string]string{"audioDataUri": "data:audio/wav;base64,"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/analysis/pattern-update", map[string]string{"region": "Pune"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{call.ErrCallActive, http.StatusConflict},
		{call.ErrNoTranscripts, http.StatusServiceUnavailable},
		{fmt.Errorf("select call record: %w", source.ErrUnknownRecord), http.StatusNotFound},
		{store.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: fileName is required", schema.ErrInvalid), http.StatusBadRequest},
		{analysis.ErrInvalidInput, http.StatusBadRequest},
		{fmt.Errorf("%w: 503", analysis.ErrUnavailable), http.StatusBadGateway},
		{analysis.ErrBadResponse, http.StatusBadGateway},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
