// Package segment splits raw labeled call transcripts into ordered
// speaker utterances.
package segment

import (
	"errors"
	"fmt"
	"iter"
	"regexp"
	"slices"
	"strings"
)

// ErrEmptyLabel rejects label patterns that can match the empty string.
var ErrEmptyLabel = errors.New("label pattern matches empty text")

// Segment is one utterance of a call transcript.
type Segment struct {
	Index   int     `json:"index"`
	Speaker Speaker `json:"speaker"`
	Label   string  `json:"label"`
	Text    string  `json:"text"`
}

// ID returns the event identifier of the segment within a call.
func (s Segment) ID(callID string) string {
	return fmt.Sprintf("%s-seg-%d", callID, s.Index+1)
}

// Segmenter tokenizes transcripts against a label table.
// Safe for concurrent use.
type Segmenter struct {
	rules []LabelRule
	tok   *tokenizer
}

// New compiles the given label table into a segmenter.
func New(rules []LabelRule) (*Segmenter, error) {
	tok, err := compile(rules)
	if err != nil {
		return nil, err
	}
	return &Segmenter{rules: slices.Clone(rules), tok: tok}, nil
}

// Default returns a segmenter over DefaultRules.
func Default() *Segmenter {
	s, err := New(DefaultRules)
	if err != nil {
		panic("segment: default rules do not compile: " + err.Error())
	}
	return s
}

// Split returns all segments of raw in transcript order.
func (s *Segmenter) Split(raw, callerLabel string) []Segment {
	return slices.Collect(s.Segments(raw, callerLabel))
}

// Segments returns a lazy sequence over the segments of raw. Each range over
// the sequence scans the transcript again from the start.
//
// callerLabel is the display name of the caller; a label spelling out that
// name is attributed to the caller even when the table does not know it.
// Text outside any recognized label is dropped and empty utterances are
// skipped, so malformed input yields fewer segments rather than an error.
func (s *Segmenter) Segments(raw, callerLabel string) iter.Seq[Segment] {
	tok := s.tokenizerFor(callerLabel)
	return func(yield func(Segment) bool) {
		index := 0
		cur, ok := tok.next(raw, 0)
		for ok {
			nxt, more := tok.next(raw, cur.end)
			textEnd := len(raw)
			if more {
				textEnd = nxt.start
			}
			if text := strings.TrimSpace(raw[cur.end:textEnd]); text != "" {
				seg := Segment{
					Index:   index,
					Speaker: cur.role,
					Label:   cur.label,
					Text:    text,
				}
				if !yield(seg) {
					return
				}
				index++
			}
			cur, ok = nxt, more
		}
	}
}

// tokenizerFor extends the table with exact rules for callerLabel, plain and
// with the (Scammer) suffix, when the table does not already recognize them.
func (s *Segmenter) tokenizerFor(callerLabel string) *tokenizer {
	callerLabel = strings.TrimSpace(callerLabel)
	if callerLabel == "" {
		return s.tok
	}
	rules := slices.Clone(s.rules)
	for _, label := range []string{callerLabel + " (Scammer):", callerLabel + ":"} {
		if !s.tok.recognizes(label) {
			rules = append(rules, LabelRule{Pattern: regexp.QuoteMeta(label), Role: SpeakerCaller})
		}
	}
	if len(rules) == len(s.rules) {
		return s.tok
	}
	tok, err := compile(rules)
	if err != nil {
		return s.tok
	}
	return tok
}

type match struct {
	start, end int
	role       Speaker
	label      string
}

// tokenizer is the label table compiled into a single alternation with one
// named group per rule.
type tokenizer struct {
	re     *regexp.Regexp
	groups []int
	roles  []Speaker
}

func compile(rules []LabelRule) (*tokenizer, error) {
	parts := make([]string, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("label rule %d (%q): %w", i, r.Pattern, err)
		}
		if re.MatchString("") {
			return nil, fmt.Errorf("label rule %d (%q): %w", i, r.Pattern, ErrEmptyLabel)
		}
		parts[i] = fmt.Sprintf("(?P<r%d>%s)", i, r.Pattern)
	}
	re, err := regexp.Compile(strings.Join(parts, "|"))
	if err != nil {
		return nil, fmt.Errorf("compile label table: %w", err)
	}
	t := &tokenizer{
		re:     re,
		groups: make([]int, len(rules)),
		roles:  make([]Speaker, len(rules)),
	}
	for i, r := range rules {
		t.groups[i] = re.SubexpIndex(fmt.Sprintf("r%d", i))
		t.roles[i] = r.Role
	}
	return t, nil
}

// next finds the first label at or after from.
func (t *tokenizer) next(raw string, from int) (match, bool) {
	if len(t.roles) == 0 || from >= len(raw) {
		return match{}, false
	}
	loc := t.re.FindStringSubmatchIndex(raw[from:])
	if loc == nil {
		return match{}, false
	}
	m := match{start: from + loc[0], end: from + loc[1]}
	for i, g := range t.groups {
		if loc[2*g] >= 0 {
			m.role = t.roles[i]
			break
		}
	}
	m.label = strings.TrimSuffix(strings.TrimSpace(raw[m.start:m.end]), ":")
	return m, true
}

// recognizes reports whether label as a whole is matched by the table.
func (t *tokenizer) recognizes(label string) bool {
	if len(t.roles) == 0 {
		return false
	}
	loc := t.re.FindStringIndex(label)
	return loc != nil && loc[0] == 0 && loc[1] == len(label)
}
