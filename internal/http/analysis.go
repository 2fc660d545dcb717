package http

import (
	"context"
	"net/http"

	"voiceguard-service/internal/service/analysis"
)

// runFlow decodes In, runs the flow and writes its output.
func runFlow[In, Out any](h *handlers, w http.ResponseWriter, r *http.Request, flow func(context.Context, In) (Out, error)) {
	var in In
	if err := h.decode(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := flow(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) detectScamPatterns(w http.ResponseWriter, r *http.Request) {
	runFlow[analysis.ScamPatternInput](h, w, r, h.app.Flows.DetectScamPatterns)
}

func (h *handlers) analyzeEmotion(w http.ResponseWriter, r *http.Request) {
	runFlow[analysis.EmotionInput](h, w, r, h.app.Flows.AnalyzeEmotionalManipulation)
}

func (h *handlers) detectSyntheticVoice(w http.ResponseWriter, r *http.Request) {
	runFlow[analysis.SyntheticVoiceInput](h, w, r, h.app.Flows.DetectSyntheticVoice)
}

func (h *handlers) generateSpeech(w http.ResponseWriter, r *http.Request) {
	runFlow[analysis.SpeechInput](h, w, r, h.app.Flows.GenerateSpeech)
}

func (h *handlers) updateScamPatterns(w http.ResponseWriter, r *http.Request) {
	runFlow[analysis.PatternUpdateInput](h, w, r, h.app.Flows.UpdateScamPatterns)
}
