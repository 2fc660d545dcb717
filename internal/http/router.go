package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"voiceguard-service/internal/app"
	"voiceguard-service/internal/observability/logging"
)

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application) http.Handler {
	h := &handlers{app: application, logger: logging.WithComponent("http")}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.instrument)

	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := application.Ready(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", h.status)

		r.Route("/calls", func(r chi.Router) {
			r.Post("/", h.startCall)
			r.Get("/current", h.currentCall)
			r.Delete("/current", h.endCall)
			r.Get("/stream", application.Hub.HandleWebSocket)
		})

		r.Route("/records", func(r chi.Router) {
			r.Get("/", h.listRecords)
			r.Get("/{id}", h.getRecord)
		})

		r.Route("/recordings", func(r chi.Router) {
			r.Post("/", h.createRecording)
			r.Get("/", h.listRecordings)
			r.Get("/{id}", h.getRecording)
			r.Patch("/{id}", h.updateRecording)
			r.Delete("/{id}", h.deleteRecording)
		})

		r.Route("/history", func(r chi.Router) {
			r.Get("/", h.listHistory)
			r.Get("/export.xlsx", h.exportHistory)
			r.Get("/{callId}", h.getHistory)
		})

		r.Route("/analysis", func(r chi.Router) {
			r.Post("/scam-patterns", h.detectScamPatterns)
			r.Post("/emotional-manipulation", h.analyzeEmotion)
			r.Post("/synthetic-voice", h.detectSyntheticVoice)
			r.Post("/speech", h.generateSpeech)
			r.Post("/pattern-update", h.updateScamPatterns)
		})
	})

	return r
}

func (h *handlers) status(w http.ResponseWriter, _ *http.Request) {
	a := h.app
	snap := a.Machine.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"startupTime": a.StartupTime,
		"uptime":      time.Since(a.StartupTime).Round(time.Second).String(),
		"callStatus":  snap.Status,
		"callId":      snap.CallID,
		"records":     a.Catalog.Len(),
		"provider":    a.Flows.Provider(),
		"kafka":       a.Publisher.Enabled(),
		"monitor": map[string]int64{
			"delivered": a.Monitor.Delivered(),
			"dropped":   a.Monitor.Dropped(),
		},
		"stream": a.Hub.Stats(),
	})
}

// instrument records request metrics by route pattern.
func (h *handlers) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		latency := time.Since(start)
		h.app.Metrics.RecordHTTPRequest(r.Method, route, status, latency.Seconds())

		h.logger.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("latency", latency).
			Str("requestId", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
