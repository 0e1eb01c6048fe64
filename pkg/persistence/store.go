// Package persistence provides SQLite-backed storage for session and
// iteration records. Each Store owns its own connection; there is no
// global database state.
package persistence

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"forge/pkg/logx"
)

// CurrentSchemaVersion is bumped with every schema change.
const CurrentSchemaVersion = 1

// Store is one open database handle scoped to a session's lifetime.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open creates or opens the database at dbPath. A missing file is created
// with a fresh schema.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, logger: logx.NewLogger("persistence")}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SessionRecord is one executive run.
type SessionRecord struct {
	ID           string
	Goal         string
	StartedAt    time.Time
	EndedAt      sql.NullTime
	Outcome      string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// IterationRecord is one attempt within a step.
type IterationRecord struct {
	SessionID       string
	Step            int
	Attempt         int
	Outcome         string
	CheckpointID    string
	DiagnosticCount int
	ErrorCount      int
	CreatedAt       time.Time
}

// StartSession records a session's beginning.
func (s *Store) StartSession(id, goal string) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, goal, started_at) VALUES (?, ?, ?)`,
		id, goal, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// EndSession records a session's final outcome and usage totals.
func (s *Store) EndSession(id, outcome string, inputTokens, outputTokens int, costUSD float64) error {
	_, err := s.db.Exec(
		`UPDATE sessions
		 SET ended_at = ?, outcome = ?, input_tokens = ?, output_tokens = ?, cost_usd = ?
		 WHERE id = ?`,
		time.Now().UTC(), outcome, inputTokens, outputTokens, costUSD, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize session: %w", err)
	}
	return nil
}

// RecordIteration appends one attempt record.
func (s *Store) RecordIteration(rec *IterationRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO iterations
		 (session_id, step, attempt, outcome, checkpoint_id, diagnostic_count, error_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Step, rec.Attempt, rec.Outcome,
		rec.CheckpointID, rec.DiagnosticCount, rec.ErrorCount, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert iteration: %w", err)
	}
	return nil
}

// GetSession loads one session record.
func (s *Store) GetSession(id string) (*SessionRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, goal, started_at, ended_at, outcome, input_tokens, output_tokens, cost_usd
		 FROM sessions WHERE id = ?`, id,
	)
	var rec SessionRecord
	var outcome sql.NullString
	if err := row.Scan(&rec.ID, &rec.Goal, &rec.StartedAt, &rec.EndedAt,
		&outcome, &rec.InputTokens, &rec.OutputTokens, &rec.CostUSD); err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	rec.Outcome = outcome.String
	return &rec, nil
}

// ListIterations returns a session's attempts in insertion order.
func (s *Store) ListIterations(sessionID string) ([]IterationRecord, error) {
	rows, err := s.db.Query(
		`SELECT session_id, step, attempt, outcome, checkpoint_id, diagnostic_count, error_count, created_at
		 FROM iterations WHERE session_id = ? ORDER BY step, attempt`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query iterations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []IterationRecord
	for rows.Next() {
		var rec IterationRecord
		if err := rows.Scan(&rec.SessionID, &rec.Step, &rec.Attempt, &rec.Outcome,
			&rec.CheckpointID, &rec.DiagnosticCount, &rec.ErrorCount, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan iteration: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
