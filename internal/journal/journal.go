// Package journal keeps a local SQLite ledger of what the engine did: status
// transitions written to the task store, inconclusive attempts per record and
// the new-contact entries handled by passive discovery.
//
// The task store stays the source of truth. The journal only answers
// questions the store cannot: how many times a record was retried and whether
// a passive entry was already welcomed.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Journal is a SQLite-backed ledger. Safe for concurrent use.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the journal at path, creating parent directories.
//
// The database runs in WAL mode with a 5 second busy timeout and a single
// connection, since both loops write to it.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}

	return &Journal{db: db, now: time.Now}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Transition is one status move written to the task store.
type Transition struct {
	RunID      string
	RecordID   string
	ContactKey string
	From       string
	To         string
	Reason     string
	At         time.Time
}

// RecordTransition appends t. A zero At is set to now.
func (j *Journal) RecordTransition(ctx context.Context, t Transition) error {
	if t.At.IsZero() {
		t.At = j.now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO transitions (run_id, record_id, contact_key, from_status, to_status, reason, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.RunID, t.RecordID, t.ContactKey, t.From, t.To, t.Reason, t.At.UnixMilli())
	if err != nil {
		return fmt.Errorf("record transition %s: %w", t.RecordID, err)
	}
	return nil
}

// Recent returns up to limit transitions, newest first. A non-empty recordID
// restricts the result to that record.
func (j *Journal) Recent(ctx context.Context, recordID string, limit int) ([]Transition, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT run_id, record_id, contact_key, from_status, to_status, reason, at
	          FROM transitions`
	args := []any{}
	if recordID != "" {
		query += ` WHERE record_id = ?`
		args = append(args, recordID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		var at int64
		if err := rows.Scan(&t.RunID, &t.RecordID, &t.ContactKey, &t.From, &t.To, &t.Reason, &at); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.At = time.UnixMilli(at)
		out = append(out, t)
	}
	return out, rows.Err()
}

// IncrementAttempts counts one more inconclusive attempt for recordID and
// returns the new total.
func (j *Journal) IncrementAttempts(ctx context.Context, recordID, outcome string) (int, error) {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO attempts (record_id, count, last_outcome, updated_at) VALUES (?, 1, ?, ?)
		 ON CONFLICT(record_id) DO UPDATE SET
		   count = count + 1, last_outcome = excluded.last_outcome, updated_at = excluded.updated_at`,
		recordID, outcome, j.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("increment attempts %s: %w", recordID, err)
	}
	return j.Attempts(ctx, recordID)
}

// Attempts returns the inconclusive attempt count for recordID.
func (j *Journal) Attempts(ctx context.Context, recordID string) (int, error) {
	var n int
	err := j.db.QueryRowContext(ctx, `SELECT count FROM attempts WHERE record_id = ?`, recordID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read attempts %s: %w", recordID, err)
	}
	return n, nil
}

// ResetAttempts forgets the attempt count of recordID.
func (j *Journal) ResetAttempts(ctx context.Context, recordID string) error {
	if _, err := j.db.ExecContext(ctx, `DELETE FROM attempts WHERE record_id = ?`, recordID); err != nil {
		return fmt.Errorf("reset attempts %s: %w", recordID, err)
	}
	return nil
}

// Welcomed reports whether the passive entry key was already welcomed.
func (j *Journal) Welcomed(ctx context.Context, key string) (bool, error) {
	var welcomed bool
	err := j.db.QueryRowContext(ctx, `SELECT welcomed FROM passive_seen WHERE key = ?`, key).Scan(&welcomed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read passive entry %q: %w", key, err)
	}
	return welcomed, nil
}

// MarkProcessed records that the passive entry key was handled. Once an entry
// is marked welcomed it stays welcomed.
func (j *Journal) MarkProcessed(ctx context.Context, key string, welcomed bool) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO passive_seen (key, welcomed, processed_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   welcomed = MAX(welcomed, excluded.welcomed), processed_at = excluded.processed_at`,
		key, welcomed, j.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("mark passive entry %q: %w", key, err)
	}
	return nil
}
