package costlog

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Logger is the interface for logging sink write failures.
type Logger interface {
	Warn(msg string, fields ...any)
}

// SQLiteSink appends records to a local SQLite database.
//
// Writes are best-effort: any database error is logged and dropped, never
// returned to the caller.
type SQLiteSink struct {
	db     *sql.DB
	logger Logger
}

// NewSQLiteSink opens (creating if needed) the sink database at path.
func NewSQLiteSink(path string, logger Logger) (*SQLiteSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS cost_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			context TEXT NOT NULL DEFAULT '',
			worker_id TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			cost REAL NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return &SQLiteSink{db: db, logger: logger}, nil
}

// RecordError implements Sink.
func (s *SQLiteSink) RecordError(context string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	s.insert(Record{Kind: "error", Context: context, Error: msg, Time: time.Now().UTC()})
}

// RecordCost implements Sink.
func (s *SQLiteSink) RecordCost(workerID string, cost float64) {
	s.insert(Record{Kind: "cost", WorkerID: workerID, Cost: cost, Time: time.Now().UTC()})
}

// Recent returns the most recent records, newest first. Intended for
// inspection tooling; not part of the hot path.
func (s *SQLiteSink) Recent(limit int) ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT kind, context, worker_id, error, cost, created_at
		 FROM cost_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var created string
		if err := rows.Scan(&r.Kind, &r.Context, &r.WorkerID, &r.Error, &r.Cost, &created); err != nil {
			return nil, err
		}
		r.Time, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

func (s *SQLiteSink) insert(r Record) {
	_, err := s.db.Exec(
		`INSERT INTO cost_events (kind, context, worker_id, error, cost, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.Kind, r.Context, r.WorkerID, r.Error, r.Cost, r.Time.Format(time.RFC3339Nano))
	if err != nil && s.logger != nil {
		s.logger.Warn("cost_sink_write_failed", "error", err.Error())
	}
}
