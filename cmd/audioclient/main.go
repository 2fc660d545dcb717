// Audio client: reads a PCM WAV file, registers it as a recording with the
// HTTP API and optionally attaches a transcript so it can be played as a call.
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// Audio above this size is registered without its data URI.
const maxInlineBytes = 8 << 20

type wavInfo struct {
	Format        uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
	DataBytes     int64
}

// Duration derives the playback length from the PCM data size.
func (w wavInfo) Duration() time.Duration {
	bytesPerSecond := int64(w.SampleRate) * int64(w.Channels) * int64(w.BitsPerSample) / 8
	if bytesPerSecond == 0 {
		return 0
	}
	return time.Duration(w.DataBytes * int64(time.Second) / bytesPerSecond)
}

func readHeader(header []byte, size int64) (wavInfo, error) {
	if len(header) < wavHeaderSize || string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return wavInfo{}, fmt.Errorf("not a valid WAV file")
	}
	info := wavInfo{
		Format:        binary.LittleEndian.Uint16(header[20:22]),
		Channels:      binary.LittleEndian.Uint16(header[22:24]),
		SampleRate:    binary.LittleEndian.Uint32(header[24:28]),
		BitsPerSample: binary.LittleEndian.Uint16(header[34:36]),
		DataBytes:     size - wavHeaderSize,
	}
	if info.Format != 1 { // PCM
		return wavInfo{}, fmt.Errorf("only PCM format supported, got %d", info.Format)
	}
	return info, nil
}

func main() {
	audioFile := flag.String("audio", "testdata/sample-8khz.wav", "Path to WAV file (PCM)")
	server := flag.String("server", "localhost:8080", "HTTP API address")
	transcript := flag.String("transcript", "", "Transcript to attach, e.g. \"Speaker1: Hello. Speaker2: Hi.\"")
	flag.Parse()

	data, err := os.ReadFile(*audioFile)
	if err != nil {
		log.Fatalf("Failed to read audio file: %v", err)
	}

	info, err := readHeader(data, int64(len(data)))
	if err != nil {
		log.Fatalf("Failed to parse WAV header: %v", err)
	}
	log.Printf("WAV file: format=%d channels=%d sampleRate=%d bitsPerSample=%d duration=%v",
		info.Format, info.Channels, info.SampleRate, info.BitsPerSample, info.Duration())

	req := map[string]any{
		"fileName":        filepath.Base(*audioFile),
		"contentType":     "audio/wav",
		"sizeBytes":       len(data),
		"durationSeconds": info.Duration().Seconds(),
		"transcript":      *transcript,
	}
	if len(data) <= maxInlineBytes {
		req["audioDataUri"] = "data:audio/wav;base64," + base64.StdEncoding.EncodeToString(data)
	} else {
		log.Printf("Warning: %d bytes is too large to inline, registering metadata only", len(data))
	}

	body, err := json.Marshal(req)
	if err != nil {
		log.Fatalf("Failed to encode request: %v", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post("http://"+*server+"/v1/recordings", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("Failed to register recording: %v", err)
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		log.Fatalf("Server rejected recording: status=%d body=%s", resp.StatusCode, out)
	}

	var rec struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(out, &rec); err != nil {
		log.Fatalf("Failed to decode response: %v", err)
	}
	log.Printf("Recording registered: id=%s", rec.ID)
	if *transcript != "" {
		log.Printf("Play it with: testclient -record %s", rec.ID)
	}
}
