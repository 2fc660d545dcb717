// Package analysis defines the AI analysis flows that supplement the
// keyword evaluator, and the helpers that run them against live calls.
package analysis

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Flow names, used in metrics, logs and published events.
const (
	FlowScamPatterns   = "scam-patterns"
	FlowEmotion        = "emotional-manipulation"
	FlowSyntheticVoice = "synthetic-voice"
	FlowSpeech         = "speech"
	FlowPatternUpdate  = "pattern-update"
)

var (
	// ErrUnavailable is returned when a provider cannot be reached or
	// keeps failing after retries.
	ErrUnavailable = errors.New("analysis provider unavailable")
	// ErrBadResponse is returned when a provider answers with something
	// that cannot be decoded.
	ErrBadResponse = errors.New("analysis provider returned an unusable response")
	// ErrInvalidInput is returned for requests a flow cannot process.
	ErrInvalidInput = errors.New("invalid analysis input")
)

// ScamPatternInput asks whether a transcript shows scam patterns.
type ScamPatternInput struct {
	Transcription string `json:"transcription" validate:"required"`
	Language      string `json:"language"`
}

// ScamPatternOutput is the verdict of scam-pattern detection.
type ScamPatternOutput struct {
	IsScam    bool   `json:"isScam"`
	Rationale string `json:"rationale"`
}

// EmotionInput asks for manipulation tactics in a piece of text.
type EmotionInput struct {
	Text string `json:"text" validate:"required"`
}

// EmotionOutput lists the manipulation tactics found.
type EmotionOutput struct {
	UrgencyDetected        bool   `json:"urgencyDetected"`
	GuiltInductionDetected bool   `json:"guiltInductionDetected"`
	FearInductionDetected  bool   `json:"fearInductionDetected"`
	OverallSentiment       string `json:"overallSentiment"`
	Rationale              string `json:"rationale"`
}

// SyntheticVoiceInput carries audio as a data URI.
type SyntheticVoiceInput struct {
	AudioDataURI string `json:"audioDataUri" validate:"required,startswith=data:"`
}

// SyntheticVoiceOutput is the verdict of synthetic-voice detection.
type SyntheticVoiceOutput struct {
	IsSynthetic bool    `json:"isSynthetic"`
	Confidence  float64 `json:"confidence"`
	Rationale   string  `json:"rationale"`
}

// SpeechInput asks for text to be spoken.
type SpeechInput struct {
	Text  string `json:"text" validate:"required"`
	Voice string `json:"voice"`
}

// SpeechOutput carries generated audio as a data URI.
type SpeechOutput struct {
	AudioDataURI string `json:"audioDataUri"`
}

// PatternUpdateInput asks for refreshed scam patterns of a region.
type PatternUpdateInput struct {
	Region            string `json:"region" validate:"required"`
	RecentScamReports string `json:"recentScamReports" validate:"required"`
}

// PatternUpdateOutput is the refreshed pattern list.
type PatternUpdateOutput struct {
	UpdatedScamPatterns string `json:"updatedScamPatterns"`
}

// Flows is the set of AI request/response collaborators.
type Flows interface {
	DetectScamPatterns(ctx context.Context, in ScamPatternInput) (ScamPatternOutput, error)
	AnalyzeEmotionalManipulation(ctx context.Context, in EmotionInput) (EmotionOutput, error)
	DetectSyntheticVoice(ctx context.Context, in SyntheticVoiceInput) (SyntheticVoiceOutput, error)
	GenerateSpeech(ctx context.Context, in SpeechInput) (SpeechOutput, error)
	UpdateScamPatterns(ctx context.Context, in PatternUpdateInput) (PatternUpdateOutput, error)
}

// DecodeDataURI returns the payload of a base64 audio data URI.
func DecodeDataURI(uri string) ([]byte, error) {
	meta, data, ok := strings.Cut(uri, ",")
	if !ok || !strings.HasPrefix(meta, "data:audio/") || !strings.HasSuffix(meta, ";base64") {
		return nil, fmt.Errorf("%w: expected a base64 audio data URI", ErrInvalidInput)
	}
	audio, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: empty audio", ErrInvalidInput)
	}
	return audio, nil
}

// EncodeDataURI wraps audio bytes in a base64 data URI.
func EncodeDataURI(mimeType string, audio []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(audio)
}

// AudioFormat returns the subtype of a data URI, such as "wav".
func AudioFormat(uri string) string {
	meta, _, _ := strings.Cut(strings.TrimPrefix(uri, "data:audio/"), ",")
	format, _, _ := strings.Cut(meta, ";")
	return format
}
