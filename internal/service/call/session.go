package call

import (
	"strings"
	"time"

	"voiceguard-service/internal/service/risk"
	"voiceguard-service/internal/service/segment"
)

const (
	idleRationale  = "System is ready to analyze incoming calls."
	idleTranscript = "Awaiting call..."
)

// Line is one delivered utterance.
type Line struct {
	Speaker segment.Speaker `json:"speaker"`
	Text    string          `json:"text"`
}

// Snapshot is a read-only copy of the session.
type Snapshot struct {
	CallID      string        `json:"callId,omitempty"`
	RecordID    string        `json:"recordId,omitempty"`
	CallerLabel string        `json:"callerLabel"`
	Status      Status        `json:"status"`
	Transcript  []Line        `json:"transcript"`
	RiskScore   int           `json:"riskScore"`
	RiskLevel   risk.Level    `json:"riskLevel"`
	Rationale   string        `json:"rationale"`
	Analysis    risk.Analysis `json:"analysis"`
	Pending     int           `json:"pending"`
	Delivered   int           `json:"delivered"`
	StartedAt   time.Time     `json:"startedAt,omitzero"`
	EndedAt     time.Time     `json:"endedAt,omitzero"`
	EndReason   EndReason     `json:"endReason,omitempty"`
}

// TranscriptText renders the delivered lines as "Speaker: text" paragraphs.
func (s Snapshot) TranscriptText() string {
	if s.Status == StatusIdle {
		return idleTranscript
	}
	parts := make([]string, len(s.Transcript))
	for i, l := range s.Transcript {
		parts[i] = l.Speaker.String() + ": " + l.Text
	}
	return strings.Join(parts, "\n\n")
}

// session is the mutable state owned by the machine.
type session struct {
	id          string
	recordID    string
	callerLabel string
	status      Status
	lines       []Line
	score       int
	rationale   string
	analysis    risk.Analysis
	pending     []segment.Segment
	delivered   int
	startedAt   time.Time
	endedAt     time.Time
	endReason   EndReason
	task        Task
	gen         uint64
}

func idleSession() session {
	return session{
		status:    StatusIdle,
		rationale: idleRationale,
		analysis:  risk.DefaultAnalysis(),
	}
}

func (s *session) snapshot(levelFor func(int) risk.Level) Snapshot {
	return Snapshot{
		CallID:      s.id,
		RecordID:    s.recordID,
		CallerLabel: s.callerLabel,
		Status:      s.status,
		Transcript:  append(make([]Line, 0, len(s.lines)), s.lines...),
		RiskScore:   s.score,
		RiskLevel:   levelFor(s.score),
		Rationale:   s.rationale,
		Analysis:    s.analysis,
		Pending:     len(s.pending),
		Delivered:   s.delivered,
		StartedAt:   s.startedAt,
		EndedAt:     s.endedAt,
		EndReason:   s.endReason,
	}
}
