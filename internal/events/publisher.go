// Package events publishes call events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"voiceguard-service/internal/observability/metrics"
	"voiceguard-service/internal/schema"
)

// messageWriter is the part of kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher publishes call events to separate Kafka topics.
type Publisher struct {
	writerLifecycle messageWriter
	writerSnapshot  messageWriter
	writerAnalysis  messageWriter
	principal       string
	clientID        string
	topicLifecycle  string
	topicSnapshot   string
	topicAnalysis   string
	enabled         bool
	validator       *schema.Validator
	metrics         *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers        []string
	ClientID       string
	TopicLifecycle string
	TopicSnapshot  string
	TopicAnalysis  string
	Principal      string
	Enabled        bool
}

// New creates a Kafka publisher with one writer per topic. With Kafka
// disabled the publisher only logs events.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics
	v := schema.New()

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{validator: v, metrics: m}
	}

	p := &Publisher{
		principal:      cfg.Principal,
		clientID:       cfg.ClientID,
		topicLifecycle: cfg.TopicLifecycle,
		topicSnapshot:  cfg.TopicSnapshot,
		topicAnalysis:  cfg.TopicAnalysis,
		validator:      v,
		metrics:        m,
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	// Longer dial timeout for DNS resolution in Kubernetes.
	dialer := &kafka.Dialer{
		ClientID:  cfg.ClientID,
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial:     dialer.DialFunc,
		ClientID: cfg.ClientID,
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}
	p.writerLifecycle = newWriter(cfg.TopicLifecycle)
	p.writerSnapshot = newWriter(cfg.TopicSnapshot)
	p.writerAnalysis = newWriter(cfg.TopicAnalysis)
	p.enabled = true

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicLifecycle", cfg.TopicLifecycle).
		Str("topicSnapshot", cfg.TopicSnapshot).
		Str("topicAnalysis", cfg.TopicAnalysis).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return p
}

// Enabled reports whether events reach Kafka.
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// PublishLifecycle publishes a call start or end.
func (p *Publisher) PublishLifecycle(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerLifecycle, p.topicLifecycle, "lifecycle", key, event)
}

// PublishSnapshot publishes a delivered segment with the resulting risk.
func (p *Publisher) PublishSnapshot(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerSnapshot, p.topicSnapshot, "snapshot", key, event)
}

// PublishAnalysis publishes the outcome of an AI flow.
func (p *Publisher) PublishAnalysis(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerAnalysis, p.topicAnalysis, "analysis", key, event)
}

func (p *Publisher) publish(ctx context.Context, writer messageWriter, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}
	if err := p.validate(event); err != nil {
		log.Error().Err(err).Str("topic", topic).Str("key", key).Msg("Rejected invalid event")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	// Keyed by call ID so one call's events stay ordered on one partition.
	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// validate checks struct payloads against their tags. Other payloads
// carry no schema and pass.
func (p *Publisher) validate(event any) error {
	t := reflect.TypeOf(event)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}
	return p.validator.Validate(event)
}

// Close closes all Kafka writers.
func (p *Publisher) Close() error {
	var errs []error
	for name, w := range map[string]messageWriter{
		"lifecycle": p.writerLifecycle,
		"snapshot":  p.writerSnapshot,
		"analysis":  p.writerAnalysis,
	} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil {
			log.Error().Err(err).Str("writer", name).Msg("Error closing Kafka writer")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
