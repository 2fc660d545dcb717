// Package gateway runs the analysis flows against an OpenAI-compatible
// chat completion gateway.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"voiceguard-service/internal/service/analysis"
)

const tracerName = "voiceguard-service/analysis/gateway"

// Config holds gateway client settings.
type Config struct {
	BaseURL       string
	APIKey        string
	Model         string
	SpeechModel   string
	Timeout       time.Duration
	MaxRetries    int
	RatePerSecond float64
	Burst         int
	// InitialBackoff is the first retry delay. Zero selects 500ms.
	InitialBackoff time.Duration
	HTTPClient     *http.Client
}

// Client implements analysis.Flows over HTTP.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

// New creates a gateway client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("gateway: base URL is required")
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.SpeechModel == "" {
		cfg.SpeechModel = "tts-1"
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := max(cfg.Burst, 1)

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, http: hc, limiter: rate.NewLimiter(limit, burst)}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type       string      `json:"type"`
	Text       string      `json:"text,omitempty"`
	InputAudio *inputAudio `json:"input_audio,omitempty"`
}

type inputAudio struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// DetectScamPatterns asks the model for a scam verdict.
func (c *Client) DetectScamPatterns(ctx context.Context, in analysis.ScamPatternInput) (analysis.ScamPatternOutput, error) {
	var out analysis.ScamPatternOutput
	prompt, err := render(analysis.FlowScamPatterns, in)
	if err != nil {
		return out, err
	}
	err = c.chat(ctx, analysis.FlowScamPatterns, prompt, &out)
	return out, err
}

// AnalyzeEmotionalManipulation asks the model for manipulation tactics.
func (c *Client) AnalyzeEmotionalManipulation(ctx context.Context, in analysis.EmotionInput) (analysis.EmotionOutput, error) {
	var out analysis.EmotionOutput
	prompt, err := render(analysis.FlowEmotion, in)
	if err != nil {
		return out, err
	}
	err = c.chat(ctx, analysis.FlowEmotion, prompt, &out)
	return out, err
}

// DetectSyntheticVoice sends the audio as an input_audio content part.
func (c *Client) DetectSyntheticVoice(ctx context.Context, in analysis.SyntheticVoiceInput) (analysis.SyntheticVoiceOutput, error) {
	var out analysis.SyntheticVoiceOutput
	audio, err := analysis.DecodeDataURI(in.AudioDataURI)
	if err != nil {
		return out, err
	}
	prompt, err := render(analysis.FlowSyntheticVoice, in)
	if err != nil {
		return out, err
	}
	_, data, _ := strings.Cut(in.AudioDataURI, ",")
	parts := []contentPart{
		{Type: "text", Text: prompt},
		{Type: "input_audio", InputAudio: &inputAudio{Data: data, Format: analysis.AudioFormat(in.AudioDataURI)}},
	}
	ctx, span := c.startSpan(ctx, analysis.FlowSyntheticVoice, attribute.Int("audio.bytes", len(audio)))
	defer span.End()

	err = c.complete(ctx, parts, &out)
	if err == nil && (out.Confidence < 0 || out.Confidence > 1) {
		err = fmt.Errorf("%w: confidence %v out of range", analysis.ErrBadResponse, out.Confidence)
	}
	endSpan(span, err)
	return out, err
}

// GenerateSpeech calls the audio/speech endpoint and returns WAV audio.
func (c *Client) GenerateSpeech(ctx context.Context, in analysis.SpeechInput) (analysis.SpeechOutput, error) {
	if strings.TrimSpace(in.Text) == "" {
		return analysis.SpeechOutput{}, fmt.Errorf("%w: empty text", analysis.ErrInvalidInput)
	}
	ctx, span := c.startSpan(ctx, analysis.FlowSpeech, attribute.String("voice", in.Voice))
	defer span.End()

	body, err := json.Marshal(map[string]string{
		"model":           c.cfg.SpeechModel,
		"input":           in.Text,
		"voice":           in.Voice,
		"response_format": "wav",
	})
	if err != nil {
		endSpan(span, err)
		return analysis.SpeechOutput{}, err
	}

	var audio []byte
	err = c.do(ctx, "/audio/speech", body, func(raw []byte) error {
		if len(raw) == 0 {
			return fmt.Errorf("%w: empty audio", analysis.ErrBadResponse)
		}
		audio = raw
		return nil
	})
	endSpan(span, err)
	if err != nil {
		return analysis.SpeechOutput{}, err
	}
	return analysis.SpeechOutput{AudioDataURI: analysis.EncodeDataURI("audio/wav", audio)}, nil
}

// UpdateScamPatterns asks the model for a refreshed pattern list.
func (c *Client) UpdateScamPatterns(ctx context.Context, in analysis.PatternUpdateInput) (analysis.PatternUpdateOutput, error) {
	var out analysis.PatternUpdateOutput
	prompt, err := render(analysis.FlowPatternUpdate, in)
	if err != nil {
		return out, err
	}
	err = c.chat(ctx, analysis.FlowPatternUpdate, prompt, &out)
	return out, err
}

func (c *Client) chat(ctx context.Context, flow, prompt string, out any) error {
	ctx, span := c.startSpan(ctx, flow, attribute.Int("prompt.chars", len(prompt)))
	defer span.End()

	err := c.complete(ctx, prompt, out)
	endSpan(span, err)
	return err
}

// complete sends one user message and decodes the JSON object in the reply.
func (c *Client) complete(ctx context.Context, content any, out any) error {
	body, err := json.Marshal(chatRequest{
		Model:          c.cfg.Model,
		Messages:       []chatMessage{{Role: "user", Content: content}},
		Temperature:    0,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return err
	}
	return c.do(ctx, "/chat/completions", body, func(raw []byte) error {
		return decodeReply(raw, out)
	})
}

// do posts body with retries. Server errors, 429 and transport failures are
// retried; other statuses and undecodable replies are not.
func (c *Client) do(ctx context.Context, path string, body []byte, decode func([]byte) error) error {
	var lastErr error
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			lastErr = err
			return err
		}

		switch {
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("gateway status %d: %s", resp.StatusCode, truncate(raw))
			return lastErr
		case resp.StatusCode >= 400:
			lastErr = fmt.Errorf("gateway status %d: %s", resp.StatusCode, truncate(raw))
			return backoff.Permanent(lastErr)
		}

		if err := decode(raw); err != nil {
			lastErr = err
			return backoff.Permanent(err)
		}
		lastErr = nil
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxRetries)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		switch {
		case errors.Is(err, analysis.ErrBadResponse):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		case lastErr != nil:
			return fmt.Errorf("%w: %v", analysis.ErrUnavailable, lastErr)
		default:
			return fmt.Errorf("%w: %v", analysis.ErrUnavailable, err)
		}
	}
	return nil
}

// decodeReply reads the first choice and unmarshals the JSON object it
// contains, tolerating prose or code fences around it.
func decodeReply(raw []byte, out any) error {
	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || len(parsed.Choices) == 0 {
		return fmt.Errorf("%w: no choices in %s", analysis.ErrBadResponse, truncate(raw))
	}
	content := parsed.Choices[0].Message.Content
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("%w: no JSON object in reply", analysis.ErrBadResponse)
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), out); err != nil {
		return fmt.Errorf("%w: %v", analysis.ErrBadResponse, err)
	}
	return nil
}

func (c *Client) startSpan(ctx context.Context, flow string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("analysis.flow", flow),
		attribute.String("analysis.model", c.cfg.Model),
	)
	return otel.Tracer(tracerName).Start(ctx, "analysis."+flow, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
