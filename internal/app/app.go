// Package app assembles the service components and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voiceguard-service/internal/config"
	"voiceguard-service/internal/events"
	"voiceguard-service/internal/observability/logging"
	"voiceguard-service/internal/observability/metrics"
	"voiceguard-service/internal/realtime"
	"voiceguard-service/internal/schema"
	"voiceguard-service/internal/service/analysis"
	"voiceguard-service/internal/service/analysis/gateway"
	"voiceguard-service/internal/service/analysis/mock"
	"voiceguard-service/internal/service/call"
	"voiceguard-service/internal/service/monitor"
	"voiceguard-service/internal/service/risk"
	"voiceguard-service/internal/service/source"
	"voiceguard-service/internal/store"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Catalog   *source.Catalog
	Machine   *call.Machine
	Store     *store.Store
	Publisher *events.Publisher
	Hub       *realtime.Hub
	Monitor   *monitor.Monitor
	Flows     *analysis.Instrumented
	Enricher  *analysis.Enricher
	Validator *schema.Validator
	Metrics   *metrics.Metrics

	monitorDone chan struct{}
	started     bool
	stopOnce    sync.Once
}

// New constructs the application from the provided configuration.
func New(cfg *config.Config) (*Application, error) {
	a := &Application{
		Cfg:         cfg,
		Logger:      logging.WithComponent("application"),
		Validator:   schema.New(),
		Metrics:     metrics.DefaultMetrics,
		monitorDone: make(chan struct{}),
	}

	eval, err := risk.NewEvaluator(cfg.Risk)
	if err != nil {
		return nil, fmt.Errorf("risk evaluator: %w", err)
	}

	a.Catalog, err = source.Load(cfg.Call.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("call catalog: %w", err)
	}

	a.Store, err = store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	flows, err := newFlows(cfg.Analysis)
	if err != nil {
		a.Store.Close()
		return nil, err
	}
	a.Flows = analysis.Instrument(cfg.Analysis.Provider, flows, a.Metrics)

	a.Publisher = events.New(&events.Config{
		Enabled:        cfg.Kafka.Enabled,
		Brokers:        cfg.Kafka.Brokers,
		ClientID:       cfg.Kafka.ClientID,
		TopicLifecycle: cfg.Kafka.TopicLifecycle,
		TopicSnapshot:  cfg.Kafka.TopicSnapshot,
		TopicAnalysis:  cfg.Kafka.TopicAnalysis,
		Principal:      cfg.Kafka.Principal,
	})

	a.Machine = call.NewMachine(eval, a.Catalog, call.Options{Interval: cfg.Call.TickInterval})

	a.Hub = realtime.NewHub(func() *realtime.Frame {
		return &realtime.Frame{Type: "snapshot", Timestamp: time.Now(), Data: a.Machine.Snapshot()}
	})

	opts := monitor.Options{
		QueueSize: cfg.Call.QueueSize,
		Publisher: a.Publisher,
		Hub:       a.Hub,
		History:   a.Store,
		Metrics:   a.Metrics,
	}
	if cfg.Analysis.EnrichEvery > 0 {
		a.Enricher = analysis.NewEnricher(a.Flows, a.Machine, a.Publisher, analysis.EnricherConfig{
			Provider: cfg.Analysis.Provider,
			Language: cfg.Analysis.Language,
			Every:    cfg.Analysis.EnrichEvery,
			Timeout:  cfg.Analysis.Timeout,
		})
		opts.Enricher = a.Enricher
	}
	a.Monitor = monitor.New(opts)
	a.Machine.Subscribe(a.Monitor.Observe)

	a.Logger.Info().
		Int("records", a.Catalog.Len()).
		Str("provider", cfg.Analysis.Provider).
		Bool("kafka", a.Publisher.Enabled()).
		Dur("tickInterval", a.Machine.Interval()).
		Msg("VoiceGuard application created")
	return a, nil
}

func newFlows(cfg config.AnalysisConfig) (analysis.Flows, error) {
	switch cfg.Provider {
	case "mock", "":
		return mock.New(), nil
	case "gateway":
		c, err := gateway.New(gateway.Config{
			BaseURL:       cfg.GatewayURL,
			APIKey:        cfg.APIKey,
			Model:         cfg.Model,
			Timeout:       cfg.Timeout,
			MaxRetries:    cfg.MaxRetries,
			RatePerSecond: cfg.RatePerSecond,
			Burst:         cfg.Burst,
		})
		if err != nil {
			return nil, fmt.Errorf("analysis gateway: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown analysis provider %q", cfg.Provider)
	}
}

// Start launches the background workers. They stop when ctx is cancelled
// or Shutdown is called.
func (a *Application) Start(ctx context.Context) error {
	a.StartupTime = time.Now().UTC()
	a.started = true

	go a.Hub.Run(ctx)
	go func() {
		defer close(a.monitorDone)
		a.Monitor.Run()
	}()

	if a.Cfg.Call.WatchCatalog {
		if err := a.Catalog.Watch(ctx); err != nil {
			a.Logger.Warn().Err(err).Str("path", a.Catalog.Path()).Msg("Catalog hot reload disabled")
		}
	}

	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Msg("VoiceGuard service starting")
	return nil
}

// Ready reports whether the service can take calls.
func (a *Application) Ready(ctx context.Context) error {
	if a.Catalog.Len() == 0 {
		return call.ErrNoTranscripts
	}
	if err := a.Store.Ping(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

// Shutdown ends the active call, flushes pending events and releases
// resources. It is safe to call more than once.
func (a *Application) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		a.Logger.Info().Msg("VoiceGuard service shutting down")

		a.Machine.Close()
		a.Monitor.Close()
		if a.started {
			select {
			case <-a.monitorDone:
			case <-ctx.Done():
				a.Logger.Warn().Msg("Timed out flushing call events")
			}
		}
		if a.Enricher != nil {
			a.Enricher.Close()
		}
		err = errors.Join(a.Publisher.Close(), a.Store.Close())
	})
	return err
}
