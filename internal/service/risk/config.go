package risk

import (
	"errors"
	"fmt"
)

// Config holds the tunable constants of the evaluator.
type Config struct {
	// Lexicon is the set of scam-indicative terms; every occurrence scores.
	Lexicon        []string
	PointsPerMatch int
	MaxScore       int
	// A score strictly above MediumAbove is Medium, strictly above HighAbove is High.
	MediumAbove int
	HighAbove   int

	// UrgencyTerms latch the urgency flag.
	UrgencyTerms []string
	// ImpersonationTerms are claims of institutional identity by the caller.
	ImpersonationTerms []string
	// ThreatTerms push the caller sentiment to Threatening.
	ThreatTerms []string

	// VoiceprintPenalty is subtracted from the voiceprint match for each
	// scored caller utterance carrying an impersonation claim.
	VoiceprintPenalty int
	// SyntheticVoiceBelow flags a synthetic voice once the voiceprint match
	// falls below it.
	SyntheticVoiceBelow int

	// Rationale is the explanation recorded when an utterance scores.
	Rationale string
}

// DefaultConfig returns the constants of the reference behaviour.
func DefaultConfig() Config {
	return Config{
		Lexicon:             []string{"urgent", "immediately", "now", "don't tell", "account", "money", "bank", "transfer"},
		PointsPerMatch:      15,
		MaxScore:            100,
		MediumAbove:         40,
		HighAbove:           75,
		UrgencyTerms:        []string{"urgent", "immediately", "now", "right away", "hurry"},
		ImpersonationTerms:  []string{"bank", "police", "officer", "department", "customs", "government", "tax", "security team"},
		ThreatTerms:         []string{"arrest", "jail", "legal action", "penalty", "blocked", "suspended"},
		VoiceprintPenalty:   10,
		SyntheticVoiceBelow: 40,
		Rationale:           "Detected suspicious keywords related to financial urgency.",
	}
}

var (
	ErrEmptyLexicon     = errors.New("risk lexicon is empty")
	ErrInvalidThreshold = errors.New("risk thresholds must satisfy 0 <= medium < high < max")
)

// Validate checks the constants for consistency.
func (c Config) Validate() error {
	if len(c.Lexicon) == 0 {
		return ErrEmptyLexicon
	}
	if c.PointsPerMatch <= 0 {
		return fmt.Errorf("points per match must be positive, got %d", c.PointsPerMatch)
	}
	if c.MediumAbove < 0 || c.MediumAbove >= c.HighAbove || c.HighAbove >= c.MaxScore {
		return fmt.Errorf("%w: medium=%d high=%d max=%d", ErrInvalidThreshold, c.MediumAbove, c.HighAbove, c.MaxScore)
	}
	if c.VoiceprintPenalty < 0 {
		return fmt.Errorf("voiceprint penalty must not be negative, got %d", c.VoiceprintPenalty)
	}
	return nil
}

// LevelFor derives the level of score.
func (c Config) LevelFor(score int) Level {
	switch {
	case score > c.HighAbove:
		return LevelHigh
	case score > c.MediumAbove:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Clamp bounds score to [0, MaxScore].
func (c Config) Clamp(score int) int {
	return min(max(score, 0), c.MaxScore)
}
