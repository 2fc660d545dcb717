// Test client: starts a simulated call over the HTTP API and prints the live
// snapshots streamed over the WebSocket until the call ends.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
)

type frame struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      snapshot  `json:"data"`
}

type line struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

type snapshot struct {
	CallID      string `json:"callId"`
	CallerLabel string `json:"callerLabel"`
	Status      string `json:"status"`
	Transcript  []line `json:"transcript"`
	RiskScore   int    `json:"riskScore"`
	RiskLevel   string `json:"riskLevel"`
	Rationale   string `json:"rationale"`
	Pending     int    `json:"pending"`
	EndReason   string `json:"endReason"`
}

func main() {
	server := flag.String("server", "localhost:8080", "HTTP API address")
	recordID := flag.String("record", "", "Call record ID (random when empty)")
	transcript := flag.String("transcript", "", "Ad-hoc transcript, overrides -record")
	caller := flag.String("caller", "", "Caller label")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Subscribe before starting so no segment is missed.
	wsURL := url.URL{Scheme: "ws", Host: *server, Path: "/v1/calls/stream", RawQuery: "type=call.segment&type=call.ended&type=call.annotated"}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		log.Fatalf("Failed to connect to stream: %v", err)
	}
	defer conn.Close()
	log.Printf("Connected to %s", wsURL.String())

	callID, err := startCall(ctx, *server, *recordID, *transcript, *caller)
	if err != nil {
		log.Fatalf("Failed to start call: %v", err)
	}
	log.Printf("Call started: callId=%s", callID)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Fatalf("Stream read failed: %v", err)
		}
		if f.Data.CallID != callID {
			continue
		}

		switch f.Type {
		case "call.segment":
			last := f.Data.Transcript[len(f.Data.Transcript)-1]
			fmt.Printf("[%3d %-6s] %s: %s\n", f.Data.RiskScore, f.Data.RiskLevel, last.Speaker, last.Text)
		case "call.annotated":
			fmt.Printf("[%3d %-6s] analysis: %s\n", f.Data.RiskScore, f.Data.RiskLevel, f.Data.Rationale)
		case "call.ended":
			fmt.Printf("Call ended (%s): score=%d level=%s\n  %s\n", f.Data.EndReason, f.Data.RiskScore, f.Data.RiskLevel, f.Data.Rationale)
			return
		}
	}
}

func startCall(ctx context.Context, server, recordID, transcript, caller string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"recordId":    recordID,
		"transcript":  transcript,
		"callerLabel": caller,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+server+"/v1/calls", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, e.Error)
	}

	var s snapshot
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return "", err
	}
	return s.CallID, nil
}
