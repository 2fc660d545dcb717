// Package models defines the payloads of published call events.
package models

import (
	"time"

	"voiceguard-service/internal/service/call"
	"voiceguard-service/internal/service/risk"
)

// Event types carried in the eventType field.
const (
	EventCallStarted  = "call.started"
	EventCallEnded    = "call.ended"
	EventCallSegment  = "call.segment"
	EventCallAnalysis = "call.analysis"
)

// AnalysisPayload is the signal snapshot of a call.
type AnalysisPayload struct {
	VoiceprintMatchPercent  int    `json:"voiceprintMatchPercent" validate:"gte=0,lte=100"`
	NumberLegitimacy        string `json:"numberLegitimacy" validate:"required,oneof=Verified Unknown Spoofed"`
	Sentiment               string `json:"sentiment" validate:"required"`
	UrgencyDetected         bool   `json:"urgencyDetected"`
	SyntheticVoiceSuspected bool   `json:"syntheticVoiceSuspected"`
}

// CallLifecycle is published when a call starts or ends.
type CallLifecycle struct {
	EventType   string          `json:"eventType" validate:"required,oneof=call.started call.ended"`
	CallID      string          `json:"callId" validate:"required"`
	RecordID    string          `json:"recordId,omitempty"`
	CallerLabel string          `json:"callerLabel" validate:"required"`
	Timestamp   int64           `json:"timestamp" validate:"gt=0"`
	Status      string          `json:"status" validate:"required,oneof=active ended"`
	Reason      string          `json:"reason,omitempty" validate:"omitempty,oneof=exhausted hangup shutdown"`
	Delivered   int             `json:"delivered" validate:"gte=0"`
	Pending     int             `json:"pending" validate:"gte=0"`
	RiskScore   int             `json:"riskScore" validate:"gte=0,lte=100"`
	RiskLevel   string          `json:"riskLevel" validate:"required,oneof=low medium high"`
	Rationale   string          `json:"rationale"`
	Analysis    AnalysisPayload `json:"analysis"`
}

// SegmentSnapshot is published for every delivered segment.
type SegmentSnapshot struct {
	EventType     string          `json:"eventType" validate:"required,eq=call.segment"`
	CallID        string          `json:"callId" validate:"required"`
	SegmentID     string          `json:"segmentId" validate:"required"`
	Timestamp     int64           `json:"timestamp" validate:"gt=0"`
	Speaker       string          `json:"speaker" validate:"required,oneof=You Caller"`
	Text          string          `json:"text" validate:"required"`
	ScoreDelta    int             `json:"scoreDelta" validate:"gte=0"`
	Matches       []string        `json:"matches,omitempty"`
	RiskScore     int             `json:"riskScore" validate:"gte=0,lte=100"`
	RiskLevel     string          `json:"riskLevel" validate:"required,oneof=low medium high"`
	PreviousLevel string          `json:"previousLevel" validate:"required,oneof=low medium high"`
	Rationale     string          `json:"rationale"`
	Analysis      AnalysisPayload `json:"analysis"`
}

// AnalysisResult is published for every AI flow run against a live call.
type AnalysisResult struct {
	EventType string `json:"eventType" validate:"required,eq=call.analysis"`
	CallID    string `json:"callId" validate:"required"`
	Timestamp int64  `json:"timestamp" validate:"gt=0"`
	Flow      string `json:"flow" validate:"required"`
	Provider  string `json:"provider" validate:"required"`
	IsScam    bool   `json:"isScam"`
	Sentiment string `json:"sentiment,omitempty"`
	Rationale string `json:"rationale,omitempty"`
	Applied   bool   `json:"applied"`
	Error     string `json:"error,omitempty"`
}

// NewAnalysisPayload converts an analysis.
func NewAnalysisPayload(a risk.Analysis) AnalysisPayload {
	return AnalysisPayload{
		VoiceprintMatchPercent:  a.VoiceprintMatchPercent,
		NumberLegitimacy:        string(a.NumberLegitimacy),
		Sentiment:               string(a.Sentiment),
		UrgencyDetected:         a.UrgencyDetected,
		SyntheticVoiceSuspected: a.SyntheticVoiceSuspected,
	}
}

// NewCallLifecycle builds the lifecycle payload of a started or ended event.
func NewCallLifecycle(e call.Event) CallLifecycle {
	s := e.Snapshot
	return CallLifecycle{
		EventType:   string(e.Type),
		CallID:      s.CallID,
		RecordID:    s.RecordID,
		CallerLabel: s.CallerLabel,
		Timestamp:   millis(e.At),
		Status:      s.Status.String(),
		Reason:      string(e.Reason),
		Delivered:   s.Delivered,
		Pending:     s.Pending,
		RiskScore:   s.RiskScore,
		RiskLevel:   s.RiskLevel.String(),
		Rationale:   s.Rationale,
		Analysis:    NewAnalysisPayload(s.Analysis),
	}
}

// NewSegmentSnapshot builds the payload of a segment event.
func NewSegmentSnapshot(e call.Event) SegmentSnapshot {
	s := e.Snapshot
	out := SegmentSnapshot{
		EventType:     string(e.Type),
		CallID:        s.CallID,
		Timestamp:     millis(e.At),
		ScoreDelta:    e.ScoreDelta,
		Matches:       e.Matches,
		RiskScore:     s.RiskScore,
		RiskLevel:     s.RiskLevel.String(),
		PreviousLevel: e.PreviousLevel.String(),
		Rationale:     s.Rationale,
		Analysis:      NewAnalysisPayload(s.Analysis),
	}
	if e.Segment != nil {
		out.SegmentID = e.Segment.ID(s.CallID)
		out.Speaker = e.Segment.Speaker.String()
		out.Text = e.Segment.Text
	}
	return out
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UnixMilli()
}
