package analysis

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"voiceguard-service/internal/models"
	"voiceguard-service/internal/observability/metrics"
	"voiceguard-service/internal/service/call"
	"voiceguard-service/internal/service/risk"
	"voiceguard-service/internal/service/segment"
)

type fakeFlows struct {
	mu          sync.Mutex
	scamCalls   int
	scam        ScamPatternOutput
	scamErr     error
	emotion     EmotionOutput
	emotionErr  error
	block       chan struct{}
	transcripts []string
}

func (f *fakeFlows) DetectScamPatterns(ctx context.Context, in ScamPatternInput) (ScamPatternOutput, error) {
	f.mu.Lock()
	f.scamCalls++
	f.transcripts = append(f.transcripts, in.Transcription)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ScamPatternOutput{}, ctx.Err()
		}
	}
	return f.scam, f.scamErr
}

func (f *fakeFlows) AnalyzeEmotionalManipulation(context.Context, EmotionInput) (EmotionOutput, error) {
	return f.emotion, f.emotionErr
}

func (f *fakeFlows) DetectSyntheticVoice(context.Context, SyntheticVoiceInput) (SyntheticVoiceOutput, error) {
	return SyntheticVoiceOutput{}, nil
}

func (f *fakeFlows) GenerateSpeech(context.Context, SpeechInput) (SpeechOutput, error) {
	return SpeechOutput{}, nil
}

func (f *fakeFlows) UpdateScamPatterns(context.Context, PatternUpdateInput) (PatternUpdateOutput, error) {
	return PatternUpdateOutput{}, nil
}

type fakeAnnotator struct {
	mu    sync.Mutex
	calls []call.Annotation
	err   error
}

func (a *fakeAnnotator) Annotate(_ string, an call.Annotation) (call.Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, an)
	return call.Snapshot{}, a.err
}

type fakePublisher struct {
	mu      sync.Mutex
	results []models.AnalysisResult
}

func (p *fakePublisher) PublishAnalysis(_ context.Context, _ string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, event.(models.AnalysisResult))
	return nil
}

func segmentEvent(callID string, speaker segment.Speaker, text string) call.Event {
	return call.Event{
		Type: call.EventSegment,
		Snapshot: call.Snapshot{
			CallID:     callID,
			Status:     call.StatusActive,
			Transcript: []call.Line{{Speaker: speaker, Text: text}},
		},
		Segment: &segment.Segment{Speaker: speaker, Text: text},
	}
}

func TestEnricher_RunsEveryNCallerSegments(t *testing.T) {
	flows := &fakeFlows{
		scam:    ScamPatternOutput{IsScam: true, Rationale: "Bank impersonation."},
		emotion: EmotionOutput{UrgencyDetected: true, OverallSentiment: "Stressed", Rationale: "Pressure."},
	}
	ann := &fakeAnnotator{}
	pub := &fakePublisher{}
	e := NewEnricher(flows, ann, pub, EnricherConfig{Provider: "mock", Every: 2})

	e.HandleEvent(segmentEvent("c1", segment.SpeakerCaller, "Hello, this is your bank."))
	e.HandleEvent(segmentEvent("c1", segment.SpeakerYou, "Yes?"))
	e.HandleEvent(segmentEvent("c1", segment.SpeakerCaller, "Share the OTP."))
	e.HandleEvent(segmentEvent("c1", segment.SpeakerCaller, "Quickly."))
	e.Close()

	if flows.scamCalls != 1 {
		t.Fatalf("expected 1 run, got %d", flows.scamCalls)
	}
	if len(ann.calls) != 1 {
		t.Fatalf("expected 1 annotation, got %d", len(ann.calls))
	}
	got := ann.calls[0]
	if !got.Spoofed || !got.UrgencyDetected || got.Sentiment != risk.SentimentStressed {
		t.Errorf("unexpected annotation %+v", got)
	}
	if got.Rationale != "Bank impersonation." || got.Source != "mock" {
		t.Errorf("unexpected rationale/source %q/%q", got.Rationale, got.Source)
	}

	if len(pub.results) != 2 {
		t.Fatalf("expected 2 published results, got %d", len(pub.results))
	}
	for _, r := range pub.results {
		if !r.Applied || r.CallID != "c1" || r.EventType != models.EventCallAnalysis {
			t.Errorf("unexpected result %+v", r)
		}
	}
}

func TestEnricher_EmotionRationaleWhenNotScam(t *testing.T) {
	flows := &fakeFlows{
		emotion: EmotionOutput{GuiltInductionDetected: true, OverallSentiment: "Negative", Rationale: "Guilt trip."},
	}
	ann := &fakeAnnotator{}
	e := NewEnricher(flows, ann, nil, EnricherConfig{Every: 1})

	e.HandleEvent(segmentEvent("c1", segment.SpeakerCaller, "You never call."))
	e.Close()

	if len(ann.calls) != 1 {
		t.Fatalf("expected 1 annotation, got %d", len(ann.calls))
	}
	if ann.calls[0].Spoofed || ann.calls[0].Rationale != "Guilt trip." {
		t.Errorf("unexpected annotation %+v", ann.calls[0])
	}
}

func TestEnricher_BothFlowsFail(t *testing.T) {
	flows := &fakeFlows{scamErr: ErrUnavailable, emotionErr: ErrUnavailable}
	ann := &fakeAnnotator{}
	pub := &fakePublisher{}
	e := NewEnricher(flows, ann, pub, EnricherConfig{Every: 1})

	e.HandleEvent(segmentEvent("c1", segment.SpeakerCaller, "Hello"))
	e.Close()

	if len(ann.calls) != 0 {
		t.Error("failed enrichment must not annotate")
	}
	if len(pub.results) != 2 {
		t.Fatalf("expected 2 error results, got %d", len(pub.results))
	}
	for _, r := range pub.results {
		if r.Applied || r.Error == "" {
			t.Errorf("expected unapplied error result, got %+v", r)
		}
	}
}

func TestEnricher_OneFlowFails(t *testing.T) {
	flows := &fakeFlows{
		scamErr: ErrBadResponse,
		emotion: EmotionOutput{UrgencyDetected: true, OverallSentiment: "Stressed", Rationale: "Pressure."},
	}
	ann := &fakeAnnotator{}
	pub := &fakePublisher{}
	e := NewEnricher(flows, ann, pub, EnricherConfig{Every: 1})
	partial := metrics.DefaultMetrics.MonitorDropped.WithLabelValues("enrich_partial")
	before := testutil.ToFloat64(partial)

	e.HandleEvent(segmentEvent("c1", segment.SpeakerCaller, "Hurry up."))
	e.Close()

	if len(ann.calls) != 1 {
		t.Fatalf("expected the emotion verdict to be applied, got %d annotations", len(ann.calls))
	}
	if got := ann.calls[0]; got.Spoofed || !got.UrgencyDetected || got.Rationale != "Pressure." {
		t.Errorf("unexpected annotation %+v", got)
	}
	if got := testutil.ToFloat64(partial) - before; got != 1 {
		t.Errorf("expected one partial enrichment recorded, got %v", got)
	}

	if len(pub.results) != 2 {
		t.Fatalf("expected 2 published results, got %d", len(pub.results))
	}
	for _, r := range pub.results {
		switch r.Flow {
		case FlowScamPatterns:
			if r.Applied || r.Error == "" {
				t.Errorf("expected unapplied scam result with error, got %+v", r)
			}
		case FlowEmotion:
			if !r.Applied || r.Error != "" {
				t.Errorf("expected applied emotion result, got %+v", r)
			}
		}
	}
}

func TestEnricher_CallEndedBeforeAnnotate(t *testing.T) {
	flows := &fakeFlows{scam: ScamPatternOutput{IsScam: true}}
	ann := &fakeAnnotator{err: call.ErrNotActive}
	pub := &fakePublisher{}
	e := NewEnricher(flows, ann, pub, EnricherConfig{Every: 1})

	e.HandleEvent(segmentEvent("c1", segment.SpeakerCaller, "Hello"))
	e.Close()

	for _, r := range pub.results {
		if r.Applied {
			t.Errorf("result must not be applied: %+v", r)
		}
	}
}

func TestEnricher_SkipsWhileBusy(t *testing.T) {
	flows := &fakeFlows{block: make(chan struct{})}
	e := NewEnricher(flows, &fakeAnnotator{}, nil, EnricherConfig{Every: 1})

	e.HandleEvent(segmentEvent("c1", segment.SpeakerCaller, "one"))
	e.HandleEvent(segmentEvent("c1", segment.SpeakerCaller, "two"))
	close(flows.block)
	e.Close()

	if flows.scamCalls != 1 {
		t.Errorf("expected the second run to be skipped, got %d runs", flows.scamCalls)
	}
}

func TestEnricher_EndResetsCount(t *testing.T) {
	flows := &fakeFlows{}
	e := NewEnricher(flows, &fakeAnnotator{}, nil, EnricherConfig{Every: 2})

	e.HandleEvent(segmentEvent("c1", segment.SpeakerCaller, "one"))
	e.HandleEvent(call.Event{Type: call.EventEnded, Snapshot: call.Snapshot{CallID: "c1"}})
	e.HandleEvent(segmentEvent("c1", segment.SpeakerCaller, "two"))
	e.Close()

	if flows.scamCalls != 0 {
		t.Errorf("expected no run after reset, got %d", flows.scamCalls)
	}
}

func TestEnricher_CloseCancelsRunningFlows(t *testing.T) {
	flows := &fakeFlows{block: make(chan struct{})}
	pub := &fakePublisher{}
	e := NewEnricher(flows, &fakeAnnotator{}, pub, EnricherConfig{Every: 1})

	e.HandleEvent(segmentEvent("c1", segment.SpeakerCaller, "one"))
	e.Close()

	if len(pub.results) != 2 || pub.results[0].Error == "" {
		t.Errorf("expected cancelled scam flow to be reported, got %+v", pub.results)
	}
}
