// Package risk scores call utterances for scam indicators.
package risk

import (
	"fmt"
	"strings"
)

// Level is the coarse classification of a risk score.
type Level int

const (
	LevelLow Level = iota
	LevelMedium
	LevelHigh
)

// String returns the lower-case level name.
func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// MarshalText renders the level name.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// ParseLevel parses a level name, case-insensitively. Unknown names are Low.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return LevelHigh
	case "medium":
		return LevelMedium
	default:
		return LevelLow
	}
}

// Legitimacy is the assessment of the calling number.
type Legitimacy string

const (
	LegitimacyVerified Legitimacy = "Verified"
	LegitimacyUnknown  Legitimacy = "Unknown"
	LegitimacySpoofed  Legitimacy = "Spoofed"
)

// Sentiment describes the emotional tone of the caller.
type Sentiment string

const (
	SentimentPositive    Sentiment = "Positive"
	SentimentNeutral     Sentiment = "Neutral"
	SentimentNegative    Sentiment = "Negative"
	SentimentStressed    Sentiment = "Stressed"
	SentimentThreatening Sentiment = "Threatening"
)

// severity orders sentiments from least to most alarming.
func (s Sentiment) severity() int {
	switch s {
	case SentimentPositive:
		return 0
	case SentimentNeutral:
		return 1
	case SentimentNegative:
		return 2
	case SentimentStressed:
		return 3
	case SentimentThreatening:
		return 4
	default:
		return 1
	}
}

// ParseSentiment maps free-form sentiment text onto a known value.
func ParseSentiment(s string) Sentiment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positive", "happy", "loving", "casual":
		return SentimentPositive
	case "negative", "sad":
		return SentimentNegative
	case "stressed":
		return SentimentStressed
	case "threatening":
		return SentimentThreatening
	default:
		return SentimentNeutral
	}
}

// Analysis is the signal snapshot of a call.
type Analysis struct {
	VoiceprintMatchPercent  int        `json:"voiceprintMatchPercent"`
	NumberLegitimacy        Legitimacy `json:"numberLegitimacy"`
	Sentiment               Sentiment  `json:"sentiment"`
	UrgencyDetected         bool       `json:"urgencyDetected"`
	SyntheticVoiceSuspected bool       `json:"syntheticVoiceSuspected"`
}

// DefaultAnalysis is the analysis of an idle session.
func DefaultAnalysis() Analysis {
	return Analysis{
		VoiceprintMatchPercent: 0,
		NumberLegitimacy:       LegitimacyUnknown,
		Sentiment:              SentimentNeutral,
	}
}

// Escalate merges next into a, keeping the more alarming value of every
// field. Spoofed, urgency and synthetic voice never revert, the voiceprint
// match never rises and sentiment never calms down.
func (a Analysis) Escalate(next Analysis) Analysis {
	out := a
	if next.NumberLegitimacy == LegitimacySpoofed {
		out.NumberLegitimacy = LegitimacySpoofed
	}
	out.UrgencyDetected = a.UrgencyDetected || next.UrgencyDetected
	out.SyntheticVoiceSuspected = a.SyntheticVoiceSuspected || next.SyntheticVoiceSuspected
	if next.VoiceprintMatchPercent < out.VoiceprintMatchPercent {
		out.VoiceprintMatchPercent = max(next.VoiceprintMatchPercent, 0)
	}
	if next.Sentiment.severity() > a.Sentiment.severity() {
		out.Sentiment = next.Sentiment
	}
	return out
}
