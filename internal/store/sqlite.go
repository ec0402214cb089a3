package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/edu-data/mas/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			video_ref TEXT NOT NULL,
			status TEXT NOT NULL,
			progress INTEGER NOT NULL DEFAULT 0,
			fail_code TEXT,
			error TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			started_at DATETIME,
			ended_at DATETIME,
			elapsed_ms INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at)`,
		`CREATE TABLE IF NOT EXISTS agent_records (
			run_id TEXT NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			progress INTEGER NOT NULL DEFAULT 0,
			confidence REAL NOT NULL DEFAULT 0,
			error TEXT,
			attempts INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME,
			ended_at DATETIME,
			elapsed_ms INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (run_id, name),
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			agent TEXT,
			message TEXT,
			elapsed_ms INTEGER NOT NULL DEFAULT 0,
			payload TEXT,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, seq)`,
		`CREATE TABLE IF NOT EXISTS results (
			run_id TEXT PRIMARY KEY,
			overall_score REAL NOT NULL DEFAULT 0,
			context TEXT NOT NULL,
			event_count INTEGER NOT NULL DEFAULT 0,
			elapsed_ms INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun creates a new run row.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, video_ref, status, progress, created_at) VALUES (?, ?, ?, ?, ?)`,
		run.RunID, run.VideoRef, run.Status, run.Progress, run.CreatedAt)
	return err
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, video_ref, status, progress, fail_code, error, created_at, started_at, ended_at, elapsed_ms
		 FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	var failCode, errData sql.NullString
	var startedAt, endedAt sql.NullTime
	err := row.Scan(&run.RunID, &run.VideoRef, &run.Status, &run.Progress,
		&failCode, &errData, &run.CreatedAt, &startedAt, &endedAt, &run.ElapsedMs)
	if err != nil {
		return nil, err
	}
	if failCode.Valid {
		run.FailCode = domain.FailReason(failCode.String)
	}
	if errData.Valid {
		run.Error = json.RawMessage(errData.String)
	}
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		run.EndedAt = &endedAt.Time
	}
	return &run, nil
}

// ListRuns lists the most recent runs.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	query := `SELECT run_id, video_ref, status, progress, fail_code, error, created_at, started_at, ended_at, elapsed_ms
		 FROM runs ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// UpdateRunStatus updates status and progress; started_at is stamped on the
// first transition to RUNNING.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus, progress int) error {
	if status == domain.RunStatusRunning {
		_, err := s.db.ExecContext(ctx,
			`UPDATE runs SET status = ?, progress = ?, started_at = COALESCE(started_at, ?) WHERE run_id = ?`,
			status, progress, time.Now(), runID)
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, progress = ? WHERE run_id = ?`,
		status, progress, runID)
	return err
}

// UpdateRunCompleted finalizes a run row.
func (s *SQLiteStore) UpdateRunCompleted(ctx context.Context, runID string, status domain.RunStatus, progress int, failCode domain.FailReason, errData []byte) error {
	now := time.Now()
	var errStr, failStr sql.NullString
	if errData != nil {
		errStr = sql.NullString{String: string(errData), Valid: true}
	}
	if failCode != "" {
		failStr = sql.NullString{String: string(failCode), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, progress = ?, fail_code = ?, error = ?, ended_at = ?,
		 elapsed_ms = CAST((julianday(?) - julianday(created_at)) * 86400000 AS INTEGER)
		 WHERE run_id = ?`,
		status, progress, failStr, errStr, now, now, runID)
	return err
}

// UpsertAgentRecord writes the current state of one agent within a run.
func (s *SQLiteStore) UpsertAgentRecord(ctx context.Context, runID string, rec *domain.AgentRecord) error {
	var errStr sql.NullString
	if rec.Error != "" {
		errStr = sql.NullString{String: rec.Error, Valid: true}
	}
	var startedAt, endedAt sql.NullTime
	if rec.StartedAt != nil {
		startedAt = sql.NullTime{Time: *rec.StartedAt, Valid: true}
	}
	if rec.EndedAt != nil {
		endedAt = sql.NullTime{Time: *rec.EndedAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO agent_records (run_id, name, status, progress, confidence, error, attempts, started_at, ended_at, elapsed_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, rec.Name, rec.Status, rec.Progress, rec.Confidence, errStr, rec.Attempts, startedAt, endedAt, rec.ElapsedMs)
	return err
}

// GetAgentRecords retrieves all agent records for a run.
func (s *SQLiteStore) GetAgentRecords(ctx context.Context, runID string) ([]domain.AgentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, status, progress, confidence, error, attempts, started_at, ended_at, elapsed_ms
		 FROM agent_records WHERE run_id = ? ORDER BY name`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.AgentRecord
	for rows.Next() {
		var rec domain.AgentRecord
		var errStr sql.NullString
		var startedAt, endedAt sql.NullTime
		if err := rows.Scan(&rec.Name, &rec.Status, &rec.Progress, &rec.Confidence, &errStr, &rec.Attempts, &startedAt, &endedAt, &rec.ElapsedMs); err != nil {
			return nil, err
		}
		if errStr.Valid {
			rec.Error = errStr.String
		}
		if startedAt.Valid {
			rec.StartedAt = &startedAt.Time
		}
		if endedAt.Valid {
			rec.EndedAt = &endedAt.Time
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CreateEvent appends a timeline event.
func (s *SQLiteStore) CreateEvent(ctx context.Context, event *domain.TimelineEvent) error {
	var agent, message, payload sql.NullString
	if event.Agent != "" {
		agent = sql.NullString{String: event.Agent, Valid: true}
	}
	if event.Message != "" {
		message = sql.NullString{String: event.Message, Valid: true}
	}
	if event.Payload != nil {
		payload = sql.NullString{String: string(event.Payload), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, run_id, seq, ts, type, agent, message, elapsed_ms, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.EventID, event.RunID, event.Seq, event.Ts, event.Type, agent, message, event.ElapsedMs, payload)
	return err
}

// GetEvents retrieves events for a run after the given sequence number.
func (s *SQLiteStore) GetEvents(ctx context.Context, runID string, afterSeq int64, limit int) ([]domain.TimelineEvent, error) {
	query := `SELECT event_id, run_id, seq, ts, type, agent, message, elapsed_ms, payload
		 FROM events WHERE run_id = ? AND seq > ? ORDER BY seq ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, runID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.TimelineEvent
	for rows.Next() {
		var event domain.TimelineEvent
		var agent, message, payload sql.NullString
		if err := rows.Scan(&event.EventID, &event.RunID, &event.Seq, &event.Ts, &event.Type, &agent, &message, &event.ElapsedMs, &payload); err != nil {
			return nil, err
		}
		if agent.Valid {
			event.Agent = agent.String
		}
		if message.Valid {
			event.Message = message.String
		}
		if payload.Valid {
			event.Payload = json.RawMessage(payload.String)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// CountEvents counts events recorded for a run.
func (s *SQLiteStore) CountEvents(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

// SaveResult persists the final analysis result for a completed run.
func (s *SQLiteStore) SaveResult(ctx context.Context, result *domain.AnalysisResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO results (run_id, overall_score, context, event_count, elapsed_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		result.RunID, result.OverallScore, string(result.Context), result.EventCount, result.ElapsedMs, result.CreatedAt)
	return err
}

// GetResult retrieves the final result for a run.
func (s *SQLiteStore) GetResult(ctx context.Context, runID string) (*domain.AnalysisResult, error) {
	var result domain.AnalysisResult
	var contextStr string
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, overall_score, context, event_count, elapsed_ms, created_at FROM results WHERE run_id = ?`,
		runID).Scan(&result.RunID, &result.OverallScore, &contextStr, &result.EventCount, &result.ElapsedMs, &result.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	result.Context = json.RawMessage(contextStr)
	return &result, nil
}
