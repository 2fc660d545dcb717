// Package mock provides deterministic offline analysis flows.
// Verdicts come from fixed cue lists, so the service runs without an AI
// gateway and tests get stable answers.
package mock

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"slices"
	"strings"
	"time"

	"voiceguard-service/internal/service/analysis"
)

// Cue lists used by the mock verdicts.
var (
	ScamCues    = []string{"transfer", "gift card", "otp", "code", "warrant", "arrest", "don't tell", "urgent", "immediately", "safe account", "verification", "penalty", "refund"}
	UrgencyCues = []string{"urgent", "immediately", "right away", "now", "hurry", "too late", "no time"}
	GuiltCues   = []string{"mom", "dad", "family", "accident", "help me", "please", "hurt"}
	FearCues    = []string{"arrest", "police", "jail", "warrant", "blocked", "legal action", "cut", "compromised"}
)

// SyntheticThreshold is the confidence at which a voice is called synthetic.
const SyntheticThreshold = 0.7

// Flows implements analysis.Flows without any network access.
type Flows struct {
	// Delay simulates provider latency. Zero answers immediately.
	Delay time.Duration
}

// New creates mock flows.
func New() *Flows {
	return &Flows{}
}

func (f *Flows) wait(ctx context.Context) error {
	if f.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(f.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// DetectScamPatterns flags a transcript carrying two or more scam cues.
func (f *Flows) DetectScamPatterns(ctx context.Context, in analysis.ScamPatternInput) (analysis.ScamPatternOutput, error) {
	if err := f.wait(ctx); err != nil {
		return analysis.ScamPatternOutput{}, err
	}
	if strings.TrimSpace(in.Transcription) == "" {
		return analysis.ScamPatternOutput{}, fmt.Errorf("%w: empty transcription", analysis.ErrInvalidInput)
	}
	found := cuesIn(in.Transcription, ScamCues)
	if len(found) < 2 {
		return analysis.ScamPatternOutput{
			IsScam:    false,
			Rationale: "No recognised scam pattern in the conversation.",
		}, nil
	}
	return analysis.ScamPatternOutput{
		IsScam:    true,
		Rationale: "Conversation matches known scam patterns: " + strings.Join(found, ", ") + ".",
	}, nil
}

// AnalyzeEmotionalManipulation reports urgency, guilt and fear cues.
func (f *Flows) AnalyzeEmotionalManipulation(ctx context.Context, in analysis.EmotionInput) (analysis.EmotionOutput, error) {
	if err := f.wait(ctx); err != nil {
		return analysis.EmotionOutput{}, err
	}
	out := analysis.EmotionOutput{
		UrgencyDetected:        len(cuesIn(in.Text, UrgencyCues)) > 0,
		GuiltInductionDetected: len(cuesIn(in.Text, GuiltCues)) > 0,
		FearInductionDetected:  len(cuesIn(in.Text, FearCues)) > 0,
	}

	var tactics []string
	switch {
	case out.FearInductionDetected:
		out.OverallSentiment = "Threatening"
	case out.UrgencyDetected:
		out.OverallSentiment = "Stressed"
	case out.GuiltInductionDetected:
		out.OverallSentiment = "Negative"
	default:
		out.OverallSentiment = "Neutral"
	}
	if out.UrgencyDetected {
		tactics = append(tactics, "urgency")
	}
	if out.GuiltInductionDetected {
		tactics = append(tactics, "guilt")
	}
	if out.FearInductionDetected {
		tactics = append(tactics, "fear")
	}
	if len(tactics) == 0 {
		out.Rationale = "No manipulation tactics detected."
	} else {
		out.Rationale = "Speaker uses " + strings.Join(tactics, " and ") + " to pressure the listener."
	}
	return out, nil
}

// DetectSyntheticVoice derives a stable confidence from the audio bytes.
func (f *Flows) DetectSyntheticVoice(ctx context.Context, in analysis.SyntheticVoiceInput) (analysis.SyntheticVoiceOutput, error) {
	if err := f.wait(ctx); err != nil {
		return analysis.SyntheticVoiceOutput{}, err
	}
	audio, err := analysis.DecodeDataURI(in.AudioDataURI)
	if err != nil {
		return analysis.SyntheticVoiceOutput{}, err
	}
	h := fnv.New32a()
	h.Write(audio)
	confidence := float64(h.Sum32()%1000) / 1000

	out := analysis.SyntheticVoiceOutput{
		IsSynthetic: confidence >= SyntheticThreshold,
		Confidence:  confidence,
	}
	if out.IsSynthetic {
		out.Rationale = "Spectral profile is unusually uniform, consistent with generated speech."
	} else {
		out.Rationale = "Natural pitch variation and breathing detected."
	}
	return out, nil
}

// GenerateSpeech returns silent 8 kHz WAV audio sized to the text.
func (f *Flows) GenerateSpeech(ctx context.Context, in analysis.SpeechInput) (analysis.SpeechOutput, error) {
	if err := f.wait(ctx); err != nil {
		return analysis.SpeechOutput{}, err
	}
	words := len(strings.Fields(in.Text))
	if words == 0 {
		return analysis.SpeechOutput{}, fmt.Errorf("%w: empty text", analysis.ErrInvalidInput)
	}
	const sampleRate = 8000
	samples := min(words*sampleRate*3/10, 10*sampleRate)
	wav := silentWAV(sampleRate, samples)
	return analysis.SpeechOutput{
		AudioDataURI: analysis.EncodeDataURI("audio/wav", wav),
	}, nil
}

// UpdateScamPatterns turns the reports into a deduplicated pattern list.
func (f *Flows) UpdateScamPatterns(ctx context.Context, in analysis.PatternUpdateInput) (analysis.PatternUpdateOutput, error) {
	if err := f.wait(ctx); err != nil {
		return analysis.PatternUpdateOutput{}, err
	}
	var patterns []string
	for _, line := range strings.FieldsFunc(in.RecentScamReports, func(r rune) bool { return r == '\n' || r == '.' || r == ';' }) {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*"))
		if line == "" || slices.Contains(patterns, line) {
			continue
		}
		patterns = append(patterns, line)
	}
	if len(patterns) == 0 {
		return analysis.PatternUpdateOutput{}, fmt.Errorf("%w: no reports", analysis.ErrInvalidInput)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Scam patterns for %s:\n", in.Region)
	for _, p := range patterns {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	return analysis.PatternUpdateOutput{UpdatedScamPatterns: strings.TrimSuffix(b.String(), "\n")}, nil
}

func cuesIn(text string, cues []string) []string {
	lower := strings.ToLower(strings.ReplaceAll(text, "’", "'"))
	var found []string
	for _, c := range cues {
		if strings.Contains(lower, c) {
			found = append(found, c)
		}
	}
	return found
}

// silentWAV encodes mono 16-bit PCM silence.
func silentWAV(sampleRate, samples int) []byte {
	dataLen := samples * 2
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVEfmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(make([]byte, dataLen))
	return buf.Bytes()
}
