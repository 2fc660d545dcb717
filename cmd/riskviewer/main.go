// Risk viewer: consumes the call event topics from Kafka and prints a live
// feed of call lifecycle, segment risk and AI analysis events.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"voiceguard-service/internal/models"
)

// envelope carries the field every event shares.
type envelope struct {
	EventType string `json:"eventType"`
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// format renders one event as a single line. Unknown events yield "".
func format(value []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return "", err
	}

	switch env.EventType {
	case models.EventCallStarted, models.EventCallEnded:
		var e models.CallLifecycle
		if err := json.Unmarshal(value, &e); err != nil {
			return "", err
		}
		if e.EventType == models.EventCallStarted {
			return fmt.Sprintf("START  %s caller=%q pending=%d", e.CallID, e.CallerLabel, e.Pending), nil
		}
		return fmt.Sprintf("END    %s reason=%s score=%d level=%s delivered=%d", e.CallID, e.Reason, e.RiskScore, e.RiskLevel, e.Delivered), nil

	case models.EventCallSegment:
		var e models.SegmentSnapshot
		if err := json.Unmarshal(value, &e); err != nil {
			return "", err
		}
		line := fmt.Sprintf("SEG    %s [%3d %-6s] %s: %s", e.SegmentID, e.RiskScore, e.RiskLevel, e.Speaker, truncate(e.Text, 60))
		if e.RiskLevel != e.PreviousLevel {
			line += fmt.Sprintf("  (%s -> %s)", e.PreviousLevel, e.RiskLevel)
		}
		return line, nil

	case models.EventCallAnalysis:
		var e models.AnalysisResult
		if err := json.Unmarshal(value, &e); err != nil {
			return "", err
		}
		if e.Error != "" {
			return fmt.Sprintf("AI     %s %s/%s failed: %s", e.CallID, e.Provider, e.Flow, e.Error), nil
		}
		return fmt.Sprintf("AI     %s %s/%s scam=%t sentiment=%s applied=%t %s",
			e.CallID, e.Provider, e.Flow, e.IsScam, e.Sentiment, e.Applied, truncate(e.Rationale, 60)), nil
	}
	return "", nil
}

type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) print(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%s %s\n", time.Now().Format(time.TimeOnly), line)
}

func consumeKafka(ctx context.Context, p *printer, brokers []string, topic string, since time.Duration) {
	// Use partition reader without consumer group (works better through port-forward)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-since)); err != nil {
		log.Printf("Failed to seek %s: %v", topic, err)
	}
	log.Printf("Consuming from Kafka topic: %s partition 0 (last %v)", topic, since)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Kafka read error on %s: %v", topic, err)
			time.Sleep(time.Second)
			continue
		}

		line, err := format(msg.Value)
		if err != nil {
			log.Printf("JSON unmarshal error on %s: %v", topic, err)
			continue
		}
		if line != "" {
			p.print(line)
		}
	}
}

func main() {
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topics := flag.String("topics", "voiceguard.call.lifecycle,voiceguard.call.snapshot,voiceguard.call.analysis", "Topics to follow (comma-separated)")
	since := flag.Duration("since", time.Hour, "Replay events newer than this")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := &printer{out: os.Stdout}
	brokerList := strings.Split(*brokers, ",")

	var wg sync.WaitGroup
	for _, topic := range strings.Split(*topics, ",") {
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumeKafka(ctx, p, brokerList, strings.TrimSpace(topic), *since)
		}()
	}

	log.Printf("Risk viewer following %s on %s", *topics, *brokers)
	wg.Wait()
}
