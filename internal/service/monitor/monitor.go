// Package monitor fans call machine events out to Kafka, WebSocket
// clients, call history, metrics and the analysis enricher.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"voiceguard-service/internal/models"
	"voiceguard-service/internal/observability/logging"
	"voiceguard-service/internal/observability/metrics"
	"voiceguard-service/internal/realtime"
	"voiceguard-service/internal/service/call"
	"voiceguard-service/internal/store"
)

// DefaultQueueSize is the event buffer between the machine and the monitor.
const DefaultQueueSize = 256

// deliveryTimeout bounds each outbound operation.
const deliveryTimeout = 5 * time.Second

// Publisher publishes call events.
type Publisher interface {
	PublishLifecycle(ctx context.Context, key string, event any) error
	PublishSnapshot(ctx context.Context, key string, event any) error
}

// Broadcaster pushes frames to live clients.
type Broadcaster interface {
	Broadcast(f *realtime.Frame) bool
}

// History persists ended calls.
type History interface {
	SaveCall(ctx context.Context, c store.CallRecord) error
}

// EventHandler receives events after delivery, off the machine lock.
type EventHandler interface {
	HandleEvent(e call.Event)
}

// Options wires a Monitor. Nil collaborators are skipped.
type Options struct {
	QueueSize int
	Publisher Publisher
	Hub       Broadcaster
	History   History
	Enricher  EventHandler
	Metrics   *metrics.Metrics
}

// Monitor consumes machine events on a bounded queue.
//
// Observe is registered as a machine observer and never blocks; when the
// queue is full the event is dropped and counted. Run delivers queued
// events in order until Close.
type Monitor struct {
	queue     chan call.Event
	publisher Publisher
	hub       Broadcaster
	history   History
	enricher  EventHandler
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	mu     sync.RWMutex
	closed bool

	dropped   atomic.Int64
	delivered atomic.Int64
}

// New creates a monitor.
func New(opts Options) *Monitor {
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Monitor{
		queue:     make(chan call.Event, size),
		publisher: opts.Publisher,
		hub:       opts.Hub,
		history:   opts.History,
		enricher:  opts.Enricher,
		metrics:   m,
		logger:    logging.WithComponent("call-monitor"),
	}
}

// Observe enqueues an event. It is safe to call with the machine lock held.
func (m *Monitor) Observe(e call.Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		m.drop(e, "closed")
		return
	}
	select {
	case m.queue <- e:
	default:
		m.drop(e, "queue_full")
	}
}

func (m *Monitor) drop(e call.Event, reason string) {
	m.dropped.Add(1)
	m.metrics.RecordDropped(reason)
	m.logger.Warn().
		Str("type", string(e.Type)).
		Str("callId", e.Snapshot.CallID).
		Str("reason", reason).
		Msg("Dropped call event")
}

// Run delivers events until Close is called and the queue is drained.
func (m *Monitor) Run() {
	for e := range m.queue {
		m.handle(e)
		m.delivered.Add(1)
	}
}

// Close stops accepting events. Run returns once the queue is drained.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.queue)
}

// Dropped returns the number of events that were not delivered.
func (m *Monitor) Dropped() int64 {
	return m.dropped.Load()
}

// Delivered returns the number of events handled by Run.
func (m *Monitor) Delivered() int64 {
	return m.delivered.Load()
}

func (m *Monitor) handle(e call.Event) {
	s := e.Snapshot
	logger := logging.WithCall(s.CallID, s.RecordID)

	switch e.Type {
	case call.EventStarted:
		m.metrics.RecordCallStart()
		m.publishLifecycle(e)
		logger.Info().Str("callerLabel", s.CallerLabel).Int("pending", s.Pending).Msg("Call started")

	case call.EventSegment:
		if e.Segment != nil {
			m.metrics.RecordSegment(e.Segment.Speaker.String(), len(e.Matches))
			segLogger := logging.WithSegment(s.CallID, e.Segment.ID(s.CallID))
			segLogger.Debug().
				Stringer("speaker", e.Segment.Speaker).
				Strs("matches", e.Matches).
				Int("scoreDelta", e.ScoreDelta).
				Msg("Segment scored")
		}
		if e.LevelChanged() {
			m.metrics.RecordLevelChange(s.RiskLevel.String())
			logger.Info().
				Str("from", e.PreviousLevel.String()).
				Str("to", s.RiskLevel.String()).
				Int("score", s.RiskScore).
				Msg("Risk level changed")
		}
		m.publishSnapshot(e)

	case call.EventEnded:
		m.metrics.RecordCallEnd(string(e.Reason), s.RiskLevel.String(), s.RiskScore, s.EndedAt.Sub(s.StartedAt).Seconds())
		m.publishLifecycle(e)
		m.saveHistory(e)
		logger.Info().
			Str("reason", string(e.Reason)).
			Int("score", s.RiskScore).
			Str("level", s.RiskLevel.String()).
			Int("delivered", s.Delivered).
			Msg("Call ended")

	case call.EventAnnotated:
		m.metrics.RecordAnnotation(e.Source)
	}

	if m.hub != nil {
		m.hub.Broadcast(&realtime.Frame{Type: string(e.Type), Timestamp: e.At, Data: s})
	}
	if m.enricher != nil {
		m.enricher.HandleEvent(e)
	}
}

func (m *Monitor) publishLifecycle(e call.Event) {
	if m.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()
	if err := m.publisher.PublishLifecycle(ctx, e.Snapshot.CallID, models.NewCallLifecycle(e)); err != nil {
		m.logger.Error().Err(err).Str("callId", e.Snapshot.CallID).Str("type", string(e.Type)).Msg("Failed to publish lifecycle event")
	}
}

func (m *Monitor) publishSnapshot(e call.Event) {
	if m.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()
	if err := m.publisher.PublishSnapshot(ctx, e.Snapshot.CallID, models.NewSegmentSnapshot(e)); err != nil {
		m.logger.Error().Err(err).Str("callId", e.Snapshot.CallID).Msg("Failed to publish segment snapshot")
	}
}

func (m *Monitor) saveHistory(e call.Event) {
	if m.history == nil {
		return
	}
	s := e.Snapshot
	rec := store.CallRecord{
		CallID:      s.CallID,
		RecordID:    s.RecordID,
		CallerLabel: s.CallerLabel,
		StartedAt:   s.StartedAt,
		EndedAt:     s.EndedAt,
		EndReason:   string(e.Reason),
		RiskScore:   s.RiskScore,
		RiskLevel:   s.RiskLevel.String(),
		Rationale:   s.Rationale,
		Transcript:  s.TranscriptText(),
		Delivered:   s.Delivered,
		Analysis:    s.Analysis,
	}
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()
	if err := m.history.SaveCall(ctx, rec); err != nil {
		m.logger.Error().Err(err).Str("callId", s.CallID).Msg("Failed to save call history")
	}
}
