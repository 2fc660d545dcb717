// Package call runs simulated calls: it delivers transcript segments on a
// fixed cadence, scores each one and keeps the live session.
package call

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of the call session.
type Status int

const (
	// StatusIdle - no call in progress.
	StatusIdle Status = iota
	// StatusActive - segments are being delivered.
	StatusActive
	// StatusEnded - terminal; the session folds back into Idle right away.
	StatusEnded
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusActive:
		return "active"
	case StatusEnded:
		return "ended"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText renders the status name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsTerminal returns true for Ended.
func (s Status) IsTerminal() bool {
	return s == StatusEnded
}

// EndReason records why a call ended.
type EndReason string

const (
	// ReasonExhausted - every segment was delivered.
	ReasonExhausted EndReason = "exhausted"
	// ReasonHangup - ended by the user.
	ReasonHangup EndReason = "hangup"
	// ReasonShutdown - ended because the service is stopping.
	ReasonShutdown EndReason = "shutdown"
)

// Errors returned by Start and Annotate.
var (
	ErrCallActive    = errors.New("a call is already active")
	ErrNoTranscripts = errors.New("no source transcripts available")
	ErrNotActive     = errors.New("call is not active")
)
