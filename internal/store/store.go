// Package store persists uploaded recordings and ended calls in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"voiceguard-service/internal/service/risk"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps SQLite access for recordings and call history.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS recordings (
			id TEXT PRIMARY KEY,
			file_name TEXT NOT NULL,
			content_type TEXT,
			size_bytes INTEGER,
			duration_seconds REAL,
			transcript TEXT,
			audio_data_uri TEXT,
			created_at TIMESTAMP,
			updated_at TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS call_history (
			call_id TEXT PRIMARY KEY,
			record_id TEXT,
			caller_label TEXT,
			started_at TIMESTAMP,
			ended_at TIMESTAMP,
			end_reason TEXT,
			risk_score INTEGER,
			risk_level TEXT,
			rationale TEXT,
			transcript TEXT,
			delivered INTEGER,
			analysis_json TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_call_history_ended ON call_history(ended_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Recording is the metadata of an uploaded audio file.
type Recording struct {
	ID              string    `json:"id"`
	FileName        string    `json:"fileName"`
	ContentType     string    `json:"contentType,omitempty"`
	SizeBytes       int64     `json:"sizeBytes"`
	DurationSeconds float64   `json:"durationSeconds"`
	Transcript      string    `json:"transcript"`
	AudioDataURI    string    `json:"audioDataUri,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// CreateRecording inserts r, stamping its timestamps.
func (s *Store) CreateRecording(ctx context.Context, r *Recording) error {
	if r.ID == "" || strings.TrimSpace(r.FileName) == "" {
		return errors.New("recording id and file name are required")
	}
	ts := s.now()
	r.CreatedAt, r.UpdatedAt = ts, ts
	_, err := s.db.ExecContext(ctx, `INSERT INTO recordings(id, file_name, content_type, size_bytes, duration_seconds, transcript, audio_data_uri, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.FileName, r.ContentType, r.SizeBytes, r.DurationSeconds, r.Transcript, r.AudioDataURI, ts, ts)
	if err != nil {
		return fmt.Errorf("insert recording %s: %w", r.ID, err)
	}
	return nil
}

const recordingColumns = `id, file_name, content_type, size_bytes, duration_seconds, transcript, audio_data_uri, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecording(row scanner) (*Recording, error) {
	var (
		r                           Recording
		contentType, transcript, au sql.NullString
	)
	if err := row.Scan(&r.ID, &r.FileName, &contentType, &r.SizeBytes, &r.DurationSeconds, &transcript, &au, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.ContentType = contentType.String
	r.Transcript = transcript.String
	r.AudioDataURI = au.String
	return &r, nil
}

// GetRecording returns the recording with the given ID.
func (s *Store) GetRecording(ctx context.Context, id string) (*Recording, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE id=?`, id)
	r, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("recording %s: %w", id, ErrNotFound)
	}
	return r, err
}

// ListRecordings returns recordings, newest first.
func (s *Store) ListRecordings(ctx context.Context) ([]Recording, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordingColumns+` FROM recordings ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Recording{}
	for rows.Next() {
		r, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// RenameRecording changes the file name of a recording.
func (s *Store) RenameRecording(ctx context.Context, id, fileName string) error {
	if strings.TrimSpace(fileName) == "" {
		return errors.New("file name is required")
	}
	return s.update(ctx, id, `UPDATE recordings SET file_name=?, updated_at=? WHERE id=?`, fileName, s.now(), id)
}

// SetTranscript stores the transcript of a recording.
func (s *Store) SetTranscript(ctx context.Context, id, transcript string) error {
	return s.update(ctx, id, `UPDATE recordings SET transcript=?, updated_at=? WHERE id=?`, transcript, s.now(), id)
}

// DeleteRecording removes a recording.
func (s *Store) DeleteRecording(ctx context.Context, id string) error {
	return s.update(ctx, id, `DELETE FROM recordings WHERE id=?`, id)
}

func (s *Store) update(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update recording %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("recording %s: %w", id, ErrNotFound)
	}
	return nil
}

// CallRecord is the final state of an ended call.
type CallRecord struct {
	CallID      string        `json:"callId"`
	RecordID    string        `json:"recordId,omitempty"`
	CallerLabel string        `json:"callerLabel"`
	StartedAt   time.Time     `json:"startedAt"`
	EndedAt     time.Time     `json:"endedAt"`
	EndReason   string        `json:"endReason"`
	RiskScore   int           `json:"riskScore"`
	RiskLevel   string        `json:"riskLevel"`
	Rationale   string        `json:"rationale"`
	Transcript  string        `json:"transcript"`
	Delivered   int           `json:"delivered"`
	Analysis    risk.Analysis `json:"analysis"`
}

// Duration returns how long the call lasted.
func (c CallRecord) Duration() time.Duration {
	return c.EndedAt.Sub(c.StartedAt)
}

// SaveCall stores an ended call. Saving the same call twice overwrites it.
func (s *Store) SaveCall(ctx context.Context, c CallRecord) error {
	analysis, err := json.Marshal(c.Analysis)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO call_history(call_id, record_id, caller_label, started_at, ended_at, end_reason, risk_score, risk_level, rationale, transcript, delivered, analysis_json)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(call_id) DO UPDATE SET ended_at=excluded.ended_at, end_reason=excluded.end_reason, risk_score=excluded.risk_score,
			risk_level=excluded.risk_level, rationale=excluded.rationale, transcript=excluded.transcript, delivered=excluded.delivered, analysis_json=excluded.analysis_json`,
		c.CallID, c.RecordID, c.CallerLabel, c.StartedAt.UTC(), c.EndedAt.UTC(), c.EndReason, c.RiskScore, c.RiskLevel, c.Rationale, c.Transcript, c.Delivered, string(analysis))
	if err != nil {
		return fmt.Errorf("save call %s: %w", c.CallID, err)
	}
	return nil
}

const historyColumns = `call_id, record_id, caller_label, started_at, ended_at, end_reason, risk_score, risk_level, rationale, transcript, delivered, analysis_json`

func scanCall(row scanner) (*CallRecord, error) {
	var (
		c        CallRecord
		analysis string
	)
	if err := row.Scan(&c.CallID, &c.RecordID, &c.CallerLabel, &c.StartedAt, &c.EndedAt, &c.EndReason, &c.RiskScore, &c.RiskLevel, &c.Rationale, &c.Transcript, &c.Delivered, &analysis); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(analysis), &c.Analysis); err != nil {
		return nil, fmt.Errorf("decode analysis of call %s: %w", c.CallID, err)
	}
	return &c, nil
}

// GetCall returns one ended call.
func (s *Store) GetCall(ctx context.Context, callID string) (*CallRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+historyColumns+` FROM call_history WHERE call_id=?`, callID)
	c, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("call %s: %w", callID, ErrNotFound)
	}
	return c, err
}

// ListCalls returns up to limit ended calls, most recent first.
// A non-positive limit returns all.
func (s *Store) ListCalls(ctx context.Context, limit int) ([]CallRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+historyColumns+` FROM call_history ORDER BY ended_at DESC, call_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []CallRecord{}
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
