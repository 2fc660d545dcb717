package risk

import (
	"cmp"
	"regexp"
	"slices"
	"strings"

	"voiceguard-service/internal/service/segment"
)

// Result is the outcome of scoring one utterance.
type Result struct {
	ScoreDelta int
	Score      int
	Level      Level
	Analysis   Analysis
	// Rationale is empty when the utterance did not score; the previous
	// rationale then stays in place.
	Rationale string
	// Matches lists the lexicon terms found, one entry per occurrence.
	Matches []string
}

// Evaluator scores utterances against a keyword lexicon.
// It holds no per-call state and is safe for concurrent use.
type Evaluator struct {
	cfg           Config
	lexicon       *terms
	urgency       *terms
	impersonation *terms
	threat        *terms
}

// NewEvaluator validates cfg and compiles its term lists.
func NewEvaluator(cfg Config) (*Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{
		cfg:           cfg,
		lexicon:       compileTerms(cfg.Lexicon),
		urgency:       compileTerms(cfg.UrgencyTerms),
		impersonation: compileTerms(cfg.ImpersonationTerms),
		threat:        compileTerms(cfg.ThreatTerms),
	}, nil
}

// Config returns the constants the evaluator was built with.
func (e *Evaluator) Config() Config {
	return e.cfg
}

// LevelFor derives the level of score.
func (e *Evaluator) LevelFor(score int) Level {
	return e.cfg.LevelFor(score)
}

// Evaluate scores seg given the analysis and score accumulated so far.
// The returned score never falls below priorScore and the returned analysis
// is never less alarming than prior.
func (e *Evaluator) Evaluate(prior Analysis, priorScore int, seg segment.Segment) Result {
	text := normalize(seg.Text)
	matches := e.lexicon.findAll(text)
	delta := len(matches) * e.cfg.PointsPerMatch

	base := e.cfg.Clamp(priorScore)
	score := e.cfg.Clamp(base + delta)
	level := e.cfg.LevelFor(score)

	next := prior
	urgent := e.urgency.contains(text)
	if urgent {
		next.UrgencyDetected = true
	}
	if seg.Speaker == segment.SpeakerCaller {
		switch {
		case e.threat.contains(text):
			next.Sentiment = SentimentThreatening
		case urgent && delta > 0:
			next.Sentiment = SentimentStressed
		case delta > 0:
			next.Sentiment = SentimentNegative
		}

		if e.impersonation.contains(text) {
			if delta > 0 {
				next.VoiceprintMatchPercent = max(prior.VoiceprintMatchPercent-e.cfg.VoiceprintPenalty, 0)
				if next.VoiceprintMatchPercent < e.cfg.SyntheticVoiceBelow {
					next.SyntheticVoiceSuspected = true
				}
			}
			if level >= LevelMedium {
				next.NumberLegitimacy = LegitimacySpoofed
			}
		}
	}

	res := Result{
		ScoreDelta: delta,
		Score:      score,
		Level:      level,
		Analysis:   prior.Escalate(next),
		Matches:    matches,
	}
	if delta > 0 {
		res.Rationale = e.rationale(matches)
	}
	return res
}

func (e *Evaluator) rationale(matches []string) string {
	seen := make(map[string]bool, len(matches))
	var unique []string
	for _, m := range matches {
		if !seen[m] {
			seen[m] = true
			unique = append(unique, `"`+m+`"`)
		}
	}
	return e.cfg.Rationale + " Matched: " + strings.Join(unique, ", ") + "."
}

var quotes = strings.NewReplacer("’", "'", "‘", "'")

func normalize(text string) string {
	return quotes.Replace(text)
}

// terms is a case-insensitive matcher over a fixed word list. On overlap
// at the same position the longest term wins.
type terms struct {
	re *regexp.Regexp
}

func compileTerms(list []string) *terms {
	var quoted []string
	for _, t := range list {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(normalize(t)))
	}
	if len(quoted) == 0 {
		return &terms{}
	}
	slices.SortStableFunc(quoted, func(a, b string) int {
		return cmp.Compare(len(b), len(a))
	})
	return &terms{re: regexp.MustCompile(`(?i)(?:` + strings.Join(quoted, "|") + `)`)}
}

func (t *terms) findAll(text string) []string {
	if t.re == nil {
		return nil
	}
	found := t.re.FindAllString(text, -1)
	for i := range found {
		found[i] = strings.ToLower(found[i])
	}
	return found
}

func (t *terms) contains(text string) bool {
	return t.re != nil && t.re.MatchString(text)
}
