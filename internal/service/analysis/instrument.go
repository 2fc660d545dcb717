package analysis

import (
	"context"
	"time"

	"voiceguard-service/internal/observability/logging"
	"voiceguard-service/internal/observability/metrics"
)

// Instrumented records latency and errors of every flow call.
type Instrumented struct {
	provider string
	next     Flows
	metrics  *metrics.Metrics
}

// Instrument wraps flows with metrics and logging. A nil m uses
// metrics.DefaultMetrics.
func Instrument(provider string, next Flows, m *metrics.Metrics) *Instrumented {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Instrumented{provider: provider, next: next, metrics: m}
}

// Provider names the wrapped implementation.
func (i *Instrumented) Provider() string {
	return i.provider
}

func (i *Instrumented) observe(flow string, start time.Time, err error) {
	latency := time.Since(start)
	i.metrics.RecordAnalysis(i.provider, flow, err, latency.Seconds())

	logger := logging.WithFlow(i.provider, flow)
	if err != nil {
		logger.Warn().Err(err).Dur("latency", latency).Msg("Analysis flow failed")
		return
	}
	logger.Debug().Dur("latency", latency).Msg("Analysis flow completed")
}

func (i *Instrumented) DetectScamPatterns(ctx context.Context, in ScamPatternInput) (out ScamPatternOutput, err error) {
	defer func(start time.Time) { i.observe(FlowScamPatterns, start, err) }(time.Now())
	return i.next.DetectScamPatterns(ctx, in)
}

func (i *Instrumented) AnalyzeEmotionalManipulation(ctx context.Context, in EmotionInput) (out EmotionOutput, err error) {
	defer func(start time.Time) { i.observe(FlowEmotion, start, err) }(time.Now())
	return i.next.AnalyzeEmotionalManipulation(ctx, in)
}

func (i *Instrumented) DetectSyntheticVoice(ctx context.Context, in SyntheticVoiceInput) (out SyntheticVoiceOutput, err error) {
	defer func(start time.Time) { i.observe(FlowSyntheticVoice, start, err) }(time.Now())
	return i.next.DetectSyntheticVoice(ctx, in)
}

func (i *Instrumented) GenerateSpeech(ctx context.Context, in SpeechInput) (out SpeechOutput, err error) {
	defer func(start time.Time) { i.observe(FlowSpeech, start, err) }(time.Now())
	return i.next.GenerateSpeech(ctx, in)
}

func (i *Instrumented) UpdateScamPatterns(ctx context.Context, in PatternUpdateInput) (out PatternUpdateOutput, err error) {
	defer func(start time.Time) { i.observe(FlowPatternUpdate, start, err) }(time.Now())
	return i.next.UpdateScamPatterns(ctx, in)
}
