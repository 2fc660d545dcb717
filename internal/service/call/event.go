package call

import (
	"time"

	"voiceguard-service/internal/service/risk"
	"voiceguard-service/internal/service/segment"
)

// EventType names a machine event.
type EventType string

const (
	EventStarted   EventType = "call.started"
	EventSegment   EventType = "call.segment"
	EventEnded     EventType = "call.ended"
	EventReset     EventType = "call.reset"
	EventAnnotated EventType = "call.annotated"
)

// Event is emitted after every transition and every delivered segment.
type Event struct {
	Type     EventType
	Snapshot Snapshot
	At       time.Time

	// Set on EventSegment.
	Segment       *segment.Segment
	ScoreDelta    int
	Matches       []string
	PreviousLevel risk.Level

	// Set on EventEnded.
	Reason EndReason

	// Set on EventAnnotated.
	Source string
}

// LevelChanged reports whether a segment moved the call to another level.
func (e Event) LevelChanged() bool {
	return e.Type == EventSegment && e.PreviousLevel != e.Snapshot.RiskLevel
}

// Observer receives machine events.
type Observer func(Event)
