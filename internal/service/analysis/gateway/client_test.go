package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceguard-service/internal/service/analysis"
)

func reply(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
	})
	return string(b)
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		BaseURL:        srv.URL + "/v1/",
		APIKey:         "secret",
		Model:          "test-model",
		Timeout:        2 * time.Second,
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestDetectScamPatterns_ParsesFencedJSON(t *testing.T) {
	var got chatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		io.WriteString(w, reply("Sure.\n```json\n{\"isScam\": true, \"rationale\": \"Asks for an OTP.\"}\n```"))
	})

	out, err := c.DetectScamPatterns(context.Background(), analysis.ScamPatternInput{Transcription: "Share the OTP now.", Language: "en"})
	require.NoError(t, err)
	assert.True(t, out.IsScam)
	assert.Equal(t, "Asks for an OTP.", out.Rationale)

	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 1)
	prompt, _ := got.Messages[0].Content.(string)
	assert.Contains(t, prompt, "Share the OTP now.")
	assert.Contains(t, prompt, "language: en")
}

func TestAnalyzeEmotionalManipulation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, reply(`{"urgencyDetected":true,"guiltInductionDetected":false,"fearInductionDetected":true,"overallSentiment":"Threatening","rationale":"Threatens arrest."}`))
	})

	out, err := c.AnalyzeEmotionalManipulation(context.Background(), analysis.EmotionInput{Text: "Pay or be arrested"})
	require.NoError(t, err)
	assert.True(t, out.UrgencyDetected)
	assert.True(t, out.FearInductionDetected)
	assert.Equal(t, "Threatening", out.OverallSentiment)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, reply(`{"updatedScamPatterns":"- courier fee"}`))
	})

	out, err := c.UpdateScamPatterns(context.Background(), analysis.PatternUpdateInput{Region: "Pune", RecentScamReports: "courier fee"})
	require.NoError(t, err)
	assert.Equal(t, "- courier fee", out.UpdatedScamPatterns)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.DetectScamPatterns(context.Background(), analysis.ScamPatternInput{Transcription: "hi"})
	assert.ErrorIs(t, err, analysis.ErrUnavailable)
	assert.Equal(t, int32(3), calls.Load(), "one attempt plus two retries")
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	})

	_, err := c.DetectScamPatterns(context.Background(), analysis.ScamPatternInput{Transcription: "hi"})
	assert.ErrorIs(t, err, analysis.ErrUnavailable)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestBadReplyIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		io.WriteString(w, reply("I cannot help with that."))
	})

	_, err := c.DetectScamPatterns(context.Background(), analysis.ScamPatternInput{Transcription: "hi"})
	assert.ErrorIs(t, err, analysis.ErrBadResponse)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDetectSyntheticVoice_SendsAudioPart(t *testing.T) {
	var raw map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		io.WriteString(w, reply(`{"isSynthetic":true,"confidence":0.92,"rationale":"Flat prosody."}`))
	})

	uri := analysis.EncodeDataURI("audio/wav", []byte("RIFFxxxxWAVE"))
	out, err := c.DetectSyntheticVoice(context.Background(), analysis.SyntheticVoiceInput{AudioDataURI: uri})
	require.NoError(t, err)
	assert.True(t, out.IsSynthetic)
	assert.InDelta(t, 0.92, out.Confidence, 1e-9)

	msgs := raw["messages"].([]any)
	parts := msgs[0].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	audio := parts[1].(map[string]any)["input_audio"].(map[string]any)
	assert.Equal(t, "wav", audio["format"])
	assert.Equal(t, strings.TrimPrefix(uri, "data:audio/wav;base64,"), audio["data"])
}

func TestDetectSyntheticVoice_RejectsConfidenceOutOfRange(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, reply(`{"isSynthetic":true,"confidence":7}`))
	})

	uri := analysis.EncodeDataURI("audio/wav", []byte("RIFF"))
	_, err := c.DetectSyntheticVoice(context.Background(), analysis.SyntheticVoiceInput{AudioDataURI: uri})
	assert.ErrorIs(t, err, analysis.ErrBadResponse)
}

func TestDetectSyntheticVoice_InvalidURI(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("gateway must not be called")
	})

	_, err := c.DetectSyntheticVoice(context.Background(), analysis.SyntheticVoiceInput{AudioDataURI: "not-a-uri"})
	assert.ErrorIs(t, err, analysis.ErrInvalidInput)
}

func TestGenerateSpeech(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/speech", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Hang up now", body["input"])
		assert.Equal(t, "Algenib", body["voice"])
		w.Header().Set("Content-Type", "audio/wav")
		w.Write([]byte("RIFF-audio"))
	})

	out, err := c.GenerateSpeech(context.Background(), analysis.SpeechInput{Text: "Hang up now", Voice: "Algenib"})
	require.NoError(t, err)
	audio, err := analysis.DecodeDataURI(out.AudioDataURI)
	require.NoError(t, err)
	assert.Equal(t, "RIFF-audio", string(audio))
}

func TestContextCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.DetectScamPatterns(ctx, analysis.ScamPatternInput{Transcription: "hi"})
	assert.True(t, errors.Is(err, context.Canceled) || errors.Is(err, analysis.ErrUnavailable), "got %v", err)
}

func TestRender_AllFlows(t *testing.T) {
	for name, data := range map[string]any{
		analysis.FlowScamPatterns:   analysis.ScamPatternInput{Transcription: `say """hi"""`},
		analysis.FlowEmotion:        analysis.EmotionInput{Text: "t"},
		analysis.FlowSyntheticVoice: analysis.SyntheticVoiceInput{},
		analysis.FlowPatternUpdate:  analysis.PatternUpdateInput{Region: "Delhi", RecentScamReports: "r"},
	} {
		out, err := render(name, data)
		require.NoError(t, err, name)
		assert.Contains(t, out, "Reply with JSON only", name)
	}
}
