// Package source holds the call records that simulated calls are played from.
package source

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"voiceguard-service/internal/observability/logging"
	"voiceguard-service/internal/service/risk"
)

//go:embed defaults.yaml
var defaultRecords []byte

var (
	ErrNoRecords     = errors.New("no call records available")
	ErrUnknownRecord = errors.New("unknown call record")
)

// CallType is the direction of a logged call.
type CallType string

const (
	CallIncoming CallType = "Incoming"
	CallOutgoing CallType = "Outgoing"
	CallUploaded CallType = "Uploaded"
)

// Record is one entry of the call log.
type Record struct {
	ID           string   `yaml:"id" json:"id"`
	Type         CallType `yaml:"type" json:"type"`
	Contact      string   `yaml:"contact" json:"contact"`
	Number       string   `yaml:"number,omitempty" json:"number,omitempty"`
	Duration     string   `yaml:"duration" json:"duration"`
	Date         string   `yaml:"date" json:"date"`
	Risk         string   `yaml:"risk" json:"risk"`
	Emotion      string   `yaml:"emotion" json:"emotion"`
	Voice        string   `yaml:"voice" json:"voice"`
	Transcript   string   `yaml:"transcript" json:"transcript"`
	AudioDataURI string   `yaml:"audioDataUri,omitempty" json:"audioDataUri,omitempty"`
}

// RiskHint returns the risk level the record was labeled with.
func (r Record) RiskHint() risk.Level {
	return risk.ParseLevel(r.Risk)
}

type file struct {
	Records []Record `yaml:"records"`
}

// Parse decodes a YAML catalog document.
func Parse(data []byte) ([]Record, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	seen := make(map[string]bool, len(f.Records))
	for i, r := range f.Records {
		if strings.TrimSpace(r.ID) == "" {
			return nil, fmt.Errorf("catalog record %d: missing id", i)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("catalog record %d: duplicate id %q", i, r.ID)
		}
		seen[r.ID] = true
		if r.Type == "" {
			f.Records[i].Type = CallIncoming
		}
	}
	return f.Records, nil
}

// Catalog is the in-memory call log. Safe for concurrent use.
//
// Records come from a YAML file, or from the built-in set when no path is
// configured. Records added at runtime survive reloads of the file.
type Catalog struct {
	mu      sync.RWMutex
	path    string
	records []Record
	added   []Record
	logger  zerolog.Logger
}

// Load builds a catalog from path, or from the built-in records when path
// is empty.
func Load(path string) (*Catalog, error) {
	c := &Catalog{
		path:   path,
		logger: logging.WithComponent("source-catalog"),
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// New builds a catalog over a fixed set of records.
func New(records []Record) *Catalog {
	return &Catalog{
		records: slices.Clone(records),
		logger:  logging.WithComponent("source-catalog"),
	}
}

// Path returns the backing file, empty for built-in records.
func (c *Catalog) Path() string {
	return c.path
}

// Reload re-reads the backing file. On error the current records are kept.
func (c *Catalog) Reload() error {
	data := defaultRecords
	if c.path != "" {
		var err error
		data, err = os.ReadFile(c.path)
		if err != nil {
			return fmt.Errorf("read catalog %s: %w", c.path, err)
		}
	}
	records, err := Parse(data)
	if err != nil {
		return err
	}
	// A file caught mid-write decodes to nothing.
	if len(records) == 0 && c.path != "" {
		return fmt.Errorf("catalog %s: %w", c.path, ErrNoRecords)
	}

	c.mu.Lock()
	c.records = records
	c.mu.Unlock()

	c.logger.Info().
		Str("path", c.path).
		Int("records", len(records)).
		Msg("Call catalog loaded")
	return nil
}

// Get returns the record with the given ID.
func (c *Catalog) Get(id string) (Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, list := range [][]Record{c.records, c.added} {
		if i := slices.IndexFunc(list, func(r Record) bool { return r.ID == id }); i >= 0 {
			return list[i], nil
		}
	}
	return Record{}, fmt.Errorf("%w: %s", ErrUnknownRecord, id)
}

// List returns a copy of all records, file records first.
func (c *Catalog) List() []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Concat(c.records, c.added)
}

// Len returns the number of records.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records) + len(c.added)
}

// Random picks a record using r.
func (c *Catalog) Random(r *rand.Rand) (Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := len(c.records) + len(c.added)
	if n == 0 {
		return Record{}, ErrNoRecords
	}
	i := r.IntN(n)
	if i < len(c.records) {
		return c.records[i], nil
	}
	return c.added[i-len(c.records)], nil
}

// Add appends a record created at runtime. A missing ID is generated.
func (c *Catalog) Add(r Record) Record {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Type == "" {
		r.Type = CallUploaded
	}
	c.mu.Lock()
	c.added = append(c.added, r)
	c.mu.Unlock()
	return r
}

// Remove drops a record added at runtime. File records cannot be removed.
func (c *Catalog) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.added)
	c.added = slices.DeleteFunc(c.added, func(r Record) bool { return r.ID == id })
	return len(c.added) != n
}

// Watch reloads the catalog whenever its file changes, until ctx is done.
// It returns immediately when the catalog has no backing file.
func (c *Catalog) Watch(ctx context.Context) error {
	if c.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Editors replace files on save, so watch the directory.
	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		watcher.Close()
		return err
	}
	target := filepath.Clean(c.path)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(evt.Name) != target {
					continue
				}
				if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := c.Reload(); err != nil {
					c.logger.Error().Err(err).Msg("Catalog reload failed, keeping previous records")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn().Err(err).Msg("Catalog watcher error")
			}
		}
	}()
	return nil
}
