package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"voiceguard-service/internal/models"
	"voiceguard-service/internal/observability/logging"
	"voiceguard-service/internal/observability/metrics"
	"voiceguard-service/internal/service/call"
	"voiceguard-service/internal/service/risk"
	"voiceguard-service/internal/service/segment"
)

// Annotator merges external signals into the live call.
type Annotator interface {
	Annotate(callID string, a call.Annotation) (call.Snapshot, error)
}

// ResultPublisher publishes flow outcomes.
type ResultPublisher interface {
	PublishAnalysis(ctx context.Context, key string, event any) error
}

// EnricherConfig configures an Enricher.
type EnricherConfig struct {
	Provider string
	Language string
	// Every is the number of caller segments between two runs.
	Every   int
	Timeout time.Duration
}

// Enricher runs scam-pattern and emotion detection against live calls and
// feeds the verdicts back through the Annotator. Failures are logged and
// counted; they never reach the call.
type Enricher struct {
	flows     Flows
	annotator Annotator
	publisher ResultPublisher
	cfg       EnricherConfig
	metrics   *metrics.Metrics

	mu       sync.Mutex
	counts   map[string]int
	inflight map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEnricher creates an enricher. publisher may be nil.
func NewEnricher(flows Flows, annotator Annotator, publisher ResultPublisher, cfg EnricherConfig) *Enricher {
	if cfg.Every <= 0 {
		cfg.Every = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Provider == "" {
		cfg.Provider = "unknown"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Enricher{
		flows:     flows,
		annotator: annotator,
		publisher: publisher,
		cfg:       cfg,
		metrics:   metrics.DefaultMetrics,
		counts:    make(map[string]int),
		inflight:  make(map[string]bool),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// HandleEvent consumes a machine event. It must not be called while the
// machine lock is held.
func (e *Enricher) HandleEvent(ev call.Event) {
	callID := ev.Snapshot.CallID

	switch ev.Type {
	case call.EventEnded:
		e.mu.Lock()
		delete(e.counts, callID)
		e.mu.Unlock()
		return
	case call.EventSegment:
	default:
		return
	}
	if ev.Segment == nil || ev.Segment.Speaker != segment.SpeakerCaller {
		return
	}

	e.mu.Lock()
	e.counts[callID]++
	due := e.counts[callID]%e.cfg.Every == 0
	busy := e.inflight[callID]
	if due && !busy {
		e.inflight[callID] = true
	}
	e.mu.Unlock()

	if !due {
		return
	}
	if busy {
		e.metrics.RecordDropped("enrich_busy")
		return
	}

	transcript := ev.Snapshot.TranscriptText()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.inflight, callID)
			e.mu.Unlock()
		}()
		e.run(callID, transcript)
	}()
}

func (e *Enricher) run(callID, transcript string) {
	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.Timeout)
	defer cancel()
	logger := logging.WithFlow(e.cfg.Provider, "enrich").With().Str("callId", callID).Logger()

	var (
		scam       ScamPatternOutput
		scamErr    error
		emotion    EmotionOutput
		emotionErr error
	)
	// A plain group, not WithContext: one flow failing must not cancel the other.
	var g errgroup.Group
	g.Go(func() error {
		scam, scamErr = e.flows.DetectScamPatterns(ctx, ScamPatternInput{Transcription: transcript, Language: e.cfg.Language})
		if scamErr != nil {
			return fmt.Errorf("%s: %w", FlowScamPatterns, scamErr)
		}
		return nil
	})
	g.Go(func() error {
		emotion, emotionErr = e.flows.AnalyzeEmotionalManipulation(ctx, EmotionInput{Text: transcript})
		if emotionErr != nil {
			return fmt.Errorf("%s: %w", FlowEmotion, emotionErr)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		if scamErr != nil && emotionErr != nil {
			logger.Warn().AnErr("scamErr", scamErr).AnErr("emotionErr", emotionErr).Msg("Enrichment failed")
			e.metrics.RecordDropped("enrich_failed")
			e.publish(resultFor(callID, FlowScamPatterns, e.cfg.Provider, scamErr), false)
			e.publish(resultFor(callID, FlowEmotion, e.cfg.Provider, emotionErr), false)
			return
		}
		logger.Warn().Err(err).Msg("Enrichment degraded to one flow")
		e.metrics.RecordDropped("enrich_partial")
	}

	a := call.Annotation{Source: e.cfg.Provider}
	if scamErr == nil && scam.IsScam {
		a.Spoofed = true
		a.Rationale = scam.Rationale
	}
	if emotionErr == nil {
		a.UrgencyDetected = emotion.UrgencyDetected
		a.Sentiment = risk.ParseSentiment(emotion.OverallSentiment)
		if a.Rationale == "" && (emotion.UrgencyDetected || emotion.FearInductionDetected || emotion.GuiltInductionDetected) {
			a.Rationale = emotion.Rationale
		}
	}

	_, err := e.annotator.Annotate(callID, a)
	applied := err == nil
	if err != nil {
		logger.Debug().Err(err).Msg("Call ended before enrichment completed")
	} else {
		logger.Info().
			Bool("isScam", scam.IsScam).
			Str("sentiment", string(a.Sentiment)).
			Bool("urgency", a.UrgencyDetected).
			Msg("Call enriched")
	}

	scamResult := resultFor(callID, FlowScamPatterns, e.cfg.Provider, scamErr)
	if scamErr == nil {
		scamResult.IsScam = scam.IsScam
		scamResult.Rationale = scam.Rationale
	}
	emotionResult := resultFor(callID, FlowEmotion, e.cfg.Provider, emotionErr)
	if emotionErr == nil {
		emotionResult.Sentiment = emotion.OverallSentiment
		emotionResult.Rationale = emotion.Rationale
	}
	e.publish(scamResult, applied && scamErr == nil)
	e.publish(emotionResult, applied && emotionErr == nil)
}

func resultFor(callID, flow, provider string, err error) models.AnalysisResult {
	r := models.AnalysisResult{
		EventType: models.EventCallAnalysis,
		CallID:    callID,
		Timestamp: time.Now().UnixMilli(),
		Flow:      flow,
		Provider:  provider,
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// publish uses its own deadline so results still go out during Close.
func (e *Enricher) publish(r models.AnalysisResult, applied bool) {
	if e.publisher == nil {
		return
	}
	r.Applied = applied
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.publisher.PublishAnalysis(ctx, r.CallID, r); err != nil {
		logger := logging.WithComponent("enricher")
		logger.Warn().Err(err).Str("flow", r.Flow).Msg("Failed to publish analysis result")
	}
}

// Close cancels running flows and waits for them to return.
func (e *Enricher) Close() {
	e.cancel()
	e.wg.Wait()
}
