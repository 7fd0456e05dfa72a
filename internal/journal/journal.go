// Package journal keeps an append-only SQLite log of operator commands
// and their outcome.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/command"
)

const (
	dirPermissions    = 0750
	connectionTimeout = 5 * time.Second
	timeLayout        = "2006-01-02T15:04:05.000000000Z07:00" // fixed width so text order is time order
)

const schema = `
CREATE TABLE IF NOT EXISTS commands (
	id TEXT PRIMARY KEY,
	received_at TEXT NOT NULL,
	kind TEXT NOT NULL,
	power_watts INTEGER NOT NULL DEFAULT 0,
	raw TEXT NOT NULL,
	result TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_commands_received ON commands(received_at DESC);
`

// Entry is one journaled command
type Entry struct {
	ID         string    `json:"id"`
	ReceivedAt time.Time `json:"received_at"`
	Kind       string    `json:"kind"`
	PowerWatts int       `json:"power_watts"`
	Raw        string    `json:"raw"`
	Result     string    `json:"result"`
	Error      string    `json:"error,omitempty"`
}

// Journal wraps the SQLite connection
type Journal struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the journal at path. ":memory:" gives a
// throwaway journal.
func Open(path string) (*Journal, error) {
	connStr := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
		connStr = fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	// Single writer; also keeps a :memory: database alive across calls
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("verifying journal connection: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}

	return &Journal{db: db, path: path}, nil
}

// Close closes the database connection
func (j *Journal) Close() error {
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("closing journal: %w", err)
	}
	return nil
}

// Path returns the database path
func (j *Journal) Path() string {
	return j.path
}

// Record inserts e, assigning an ID and timestamp when unset
func (j *Journal) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO commands (id, received_at, kind, power_watts, raw, result, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ReceivedAt.UTC().Format(timeLayout), e.Kind, e.PowerWatts, e.Raw, e.Result, e.Error)
	if err != nil {
		return fmt.Errorf("inserting command %s: %w", e.ID, err)
	}
	return nil
}

// RecordCommand journals a dispatched command
func (j *Journal) RecordCommand(ctx context.Context, rec command.Record) error {
	e := &Entry{
		ReceivedAt: rec.Received,
		Kind:       rec.Intent.Kind.String(),
		PowerWatts: rec.Intent.PowerWatts,
		Raw:        rec.Intent.Raw,
		Result:     rec.Result,
	}
	if rec.Err != nil {
		e.Error = rec.Err.Error()
	}
	return j.Record(ctx, e)
}

// Recent returns up to limit entries, newest first
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, received_at, kind, power_watts, raw, result, error
		 FROM commands ORDER BY received_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var at string
		if err := rows.Scan(&e.ID, &at, &e.Kind, &e.PowerWatts, &e.Raw, &e.Result, &e.Error); err != nil {
			return nil, fmt.Errorf("scanning command: %w", err)
		}
		e.ReceivedAt, err = time.Parse(timeLayout, at)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp of command %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating commands: %w", err)
	}
	return entries, nil
}
