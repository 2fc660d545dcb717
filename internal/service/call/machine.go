package call

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"voiceguard-service/internal/observability/logging"
	"voiceguard-service/internal/service/risk"
	"voiceguard-service/internal/service/segment"
	"voiceguard-service/internal/service/source"
)

// DefaultInterval is the delivery cadence of the bundled demo.
const DefaultInterval = 4 * time.Second

const defaultCallerLabel = "Unknown Caller"

// Catalog supplies the transcripts calls are played from.
type Catalog interface {
	Get(id string) (source.Record, error)
	Random(r *rand.Rand) (source.Record, error)
}

// Selection chooses what a new call plays.
// Transcript wins over RecordID; with neither a random record is used.
type Selection struct {
	RecordID    string
	Transcript  string
	CallerLabel string
}

// Annotation is a supplementary signal from an external analysis.
// Every field can only escalate the current analysis.
type Annotation struct {
	Source                  string
	UrgencyDetected         bool
	SyntheticVoiceSuspected bool
	Spoofed                 bool
	Sentiment               risk.Sentiment
	Rationale               string
}

// Options configures a Machine. Zero values select the defaults.
type Options struct {
	Interval  time.Duration
	Scheduler Scheduler
	Segmenter *segment.Segmenter
	Clock     func() time.Time
	Rand      *rand.Rand
	NewID     func() string
}

// Machine owns the single call session.
//
// State transitions:
//
//	IDLE → ACTIVE → ENDED → IDLE
//	         │
//	         └── Tick() ──→ one segment per tick
//
// Observers run synchronously while the machine lock is held, in
// registration order. They must not block and must not call back into the
// machine.
type Machine struct {
	mu        sync.Mutex
	eval      *risk.Evaluator
	catalog   Catalog
	segmenter *segment.Segmenter
	sched     Scheduler
	interval  time.Duration
	now       func() time.Time
	rng       *rand.Rand
	newID     func() string
	observers []Observer
	cur       session
	gen       uint64
	logger    zerolog.Logger
}

// NewMachine creates an idle machine.
func NewMachine(eval *risk.Evaluator, catalog Catalog, opts Options) *Machine {
	m := &Machine{
		eval:      eval,
		catalog:   catalog,
		segmenter: opts.Segmenter,
		sched:     opts.Scheduler,
		interval:  opts.Interval,
		now:       opts.Clock,
		rng:       opts.Rand,
		newID:     opts.NewID,
		cur:       idleSession(),
		logger:    logging.WithComponent("call-machine"),
	}
	if m.segmenter == nil {
		m.segmenter = segment.Default()
	}
	if m.sched == nil {
		m.sched = TickerScheduler{}
	}
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.rng == nil {
		m.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	return m
}

// Subscribe registers an observer for all subsequent events.
func (m *Machine) Subscribe(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// Interval returns the delivery cadence.
func (m *Machine) Interval() time.Duration {
	return m.interval
}

// Snapshot returns a copy of the current session.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur.snapshot(m.eval.LevelFor)
}

// Start begins a new call. It fails with ErrCallActive while another call
// runs and with ErrNoTranscripts when there is nothing to play; the machine
// is left untouched in both cases.
func (m *Machine) Start(ctx context.Context, sel Selection) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur.status == StatusActive {
		return Snapshot{}, ErrCallActive
	}

	rec, err := m.selectRecord(sel)
	if err != nil {
		return Snapshot{}, err
	}

	m.gen++
	gen := m.gen
	s := session{
		id:          m.newID(),
		recordID:    rec.ID,
		callerLabel: rec.Contact,
		status:      StatusActive,
		rationale:   idleRationale,
		analysis:    m.seedAnalysis(rec),
		pending:     m.segmenter.Split(rec.Transcript, rec.Contact),
		startedAt:   m.now(),
		gen:         gen,
	}
	s.task = m.sched.Every(m.interval, func() { m.tick(gen) })
	m.cur = s

	m.logger.Info().
		Str("callId", s.id).
		Str("recordId", s.recordID).
		Str("callerLabel", s.callerLabel).
		Int("segments", len(s.pending)).
		Dur("interval", m.interval).
		Msg("Call started")

	snap := m.cur.snapshot(m.eval.LevelFor)
	m.emit(Event{Type: EventStarted, Snapshot: snap})
	return snap, nil
}

func (m *Machine) selectRecord(sel Selection) (source.Record, error) {
	if strings.TrimSpace(sel.Transcript) != "" {
		label := strings.TrimSpace(sel.CallerLabel)
		if label == "" {
			label = defaultCallerLabel
		}
		return source.Record{Contact: label, Transcript: sel.Transcript}, nil
	}
	if m.catalog == nil {
		return source.Record{}, ErrNoTranscripts
	}

	var (
		rec source.Record
		err error
	)
	if sel.RecordID != "" {
		rec, err = m.catalog.Get(sel.RecordID)
	} else {
		rec, err = m.catalog.Random(m.rng)
	}
	if errors.Is(err, source.ErrNoRecords) {
		return source.Record{}, ErrNoTranscripts
	}
	if err != nil {
		return source.Record{}, fmt.Errorf("select call record: %w", err)
	}
	if label := strings.TrimSpace(sel.CallerLabel); label != "" {
		rec.Contact = label
	}
	if rec.Contact == "" {
		rec.Contact = defaultCallerLabel
	}
	return rec, nil
}

// seedAnalysis is the analysis of a call that has just been picked up: the
// number presents as verified and the voiceprint as a plausible match. A
// record labeled high risk starts with a synthetic voice suspicion.
func (m *Machine) seedAnalysis(rec source.Record) risk.Analysis {
	a := risk.DefaultAnalysis()
	a.VoiceprintMatchPercent = 55 + m.rng.IntN(41)
	if rec.ID != "" {
		a.NumberLegitimacy = risk.LegitimacyVerified
	}
	a.SyntheticVoiceSuspected = rec.ID != "" && rec.RiskHint() == risk.LevelHigh
	return a
}

// Tick delivers the next pending segment of the active call, or ends the
// call when nothing is pending. It reports whether a segment was delivered.
func (m *Machine) Tick() bool {
	m.mu.Lock()
	gen := m.cur.gen
	m.mu.Unlock()
	return m.tick(gen)
}

func (m *Machine) tick(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	// A tick of a call that has since ended.
	if m.cur.status != StatusActive || m.cur.gen != gen {
		return false
	}

	if len(m.cur.pending) == 0 {
		m.end(ReasonExhausted)
		return false
	}

	seg := m.cur.pending[0]
	m.cur.pending = m.cur.pending[1:]

	prevLevel := m.eval.LevelFor(m.cur.score)
	res := m.eval.Evaluate(m.cur.analysis, m.cur.score, seg)

	m.cur.score = res.Score
	m.cur.analysis = res.Analysis
	if res.Rationale != "" {
		m.cur.rationale = res.Rationale
	}
	m.cur.lines = append(m.cur.lines, Line{Speaker: seg.Speaker, Text: seg.Text})
	m.cur.delivered++

	m.logger.Debug().
		Str("callId", m.cur.id).
		Str("segmentId", seg.ID(m.cur.id)).
		Stringer("speaker", seg.Speaker).
		Int("scoreDelta", res.ScoreDelta).
		Int("riskScore", res.Score).
		Stringer("riskLevel", res.Level).
		Msg("Segment delivered")

	m.emit(Event{
		Type:          EventSegment,
		Snapshot:      m.cur.snapshot(m.eval.LevelFor),
		Segment:       &seg,
		ScoreDelta:    res.ScoreDelta,
		Matches:       res.Matches,
		PreviousLevel: prevLevel,
	})
	return true
}

// End hangs up the active call. It is a no-op when no call is active and
// reports whether a call was ended.
func (m *Machine) End() bool {
	return m.endWith(ReasonHangup)
}

// Close ends any active call because the service is stopping.
func (m *Machine) Close() {
	m.endWith(ReasonShutdown)
}

func (m *Machine) endWith(reason EndReason) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur.status != StatusActive {
		return false
	}
	m.end(reason)
	return true
}

// end must be called with the lock held on an active session. The task is
// stopped before anything else so no further tick of this call is delivered.
func (m *Machine) end(reason EndReason) {
	if m.cur.task != nil {
		m.cur.task.Stop()
		m.cur.task = nil
	}
	m.cur.status = StatusEnded
	m.cur.endedAt = m.now()
	m.cur.endReason = reason
	discarded := len(m.cur.pending)
	m.cur.pending = nil

	m.logger.Info().
		Str("callId", m.cur.id).
		Str("reason", string(reason)).
		Int("delivered", m.cur.delivered).
		Int("discarded", discarded).
		Int("riskScore", m.cur.score).
		Msg("Call ended")

	m.emit(Event{Type: EventEnded, Snapshot: m.cur.snapshot(m.eval.LevelFor), Reason: reason})

	m.cur = idleSession()
	m.emit(Event{Type: EventReset, Snapshot: m.cur.snapshot(m.eval.LevelFor)})
}

// Annotate merges an external signal into the active call. It never
// changes the score. ErrNotActive is returned when callID is not the
// active call.
func (m *Machine) Annotate(callID string, a Annotation) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur.status != StatusActive || m.cur.id != callID {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotActive, callID)
	}

	next := m.cur.analysis
	if a.UrgencyDetected {
		next.UrgencyDetected = true
	}
	if a.SyntheticVoiceSuspected {
		next.SyntheticVoiceSuspected = true
	}
	if a.Spoofed {
		next.NumberLegitimacy = risk.LegitimacySpoofed
	}
	if a.Sentiment != "" {
		next.Sentiment = a.Sentiment
	}
	merged := m.cur.analysis.Escalate(next)

	if merged == m.cur.analysis {
		return m.cur.snapshot(m.eval.LevelFor), nil
	}
	m.cur.analysis = merged
	if a.Rationale != "" {
		m.cur.rationale = a.Rationale
	}

	m.logger.Info().
		Str("callId", callID).
		Str("source", a.Source).
		Msg("Call annotated")

	snap := m.cur.snapshot(m.eval.LevelFor)
	m.emit(Event{Type: EventAnnotated, Snapshot: snap, Source: a.Source})
	return snap, nil
}

func (m *Machine) emit(e Event) {
	if e.At.IsZero() {
		e.At = m.now()
	}
	for _, o := range m.observers {
		o(e)
	}
}
