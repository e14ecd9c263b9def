package evaluator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// RunRecord is one row of run history.
type RunRecord struct {
	ID           string    `json:"id"`
	TaskID       string    `json:"task_id"`
	Category     string    `json:"category"`
	Model        string    `json:"model"`
	ExecMode     string    `json:"exec_mode"`
	Status       string    `json:"status"`
	Reason       string    `json:"reason"`
	Turns        int       `json:"turns"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	DurationSecs float64   `json:"duration_secs"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Store persists run history and events to SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the run history database at path. Use
// ":memory:" for an ephemeral store.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			category TEXT,
			model TEXT,
			exec_mode TEXT,
			status TEXT NOT NULL,
			reason TEXT,
			turns INTEGER,
			input_tokens INTEGER,
			output_tokens INTEGER,
			duration_secs REAL,
			started_at DATETIME,
			finished_at DATETIME
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			type TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			data TEXT,
			PRIMARY KEY (run_id, seq)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create events table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_runs_task ON runs(task_id)",
		"CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)",
	}
	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// SaveRun inserts a finished run with its events. A missing ID is
// assigned.
func (s *Store) SaveRun(ctx context.Context, run *RunRecord, events []Event) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, task_id, category, model, exec_mode, status, reason, turns, input_tokens, output_tokens, duration_secs, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.TaskID, run.Category, run.Model, run.ExecMode, run.Status, run.Reason,
		run.Turns, run.InputTokens, run.OutputTokens, run.DurationSecs, run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (run_id, seq, type, timestamp, data) VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		var data []byte
		if ev.Data != nil {
			data, err = json.Marshal(ev.Data)
			if err != nil {
				return fmt.Errorf("failed to marshal event data: %w", err)
			}
		}
		if _, err := stmt.ExecContext(ctx, run.ID, ev.Seq, string(ev.Type), ev.Timestamp, string(data)); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ListRuns returns the most recent runs, newest first. A non-empty
// taskID filters to that task.
func (s *Store) ListRuns(ctx context.Context, taskID string, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, task_id, category, model, exec_mode, status, reason, turns, input_tokens, output_tokens, duration_secs, started_at, finished_at
		FROM runs
	`
	args := []any{}
	if taskID != "" {
		query += " WHERE task_id = ?"
		args = append(args, taskID)
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.TaskID, &r.Category, &r.Model, &r.ExecMode, &r.Status, &r.Reason,
			&r.Turns, &r.InputTokens, &r.OutputTokens, &r.DurationSecs, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, &r)
	}

	return runs, rows.Err()
}

// Events returns the events of a run in sequence order.
func (s *Store) Events(ctx context.Context, runID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, type, timestamp, data FROM events WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var typ, data string
		if err := rows.Scan(&ev.Seq, &typ, &ev.Timestamp, &data); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Type = EventType(typ)
		if data != "" {
			if err := json.Unmarshal([]byte(data), &ev.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
			}
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
