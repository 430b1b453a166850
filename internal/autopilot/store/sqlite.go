package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/endorhq/rover/internal/core"
	"github.com/endorhq/rover/internal/fsutil"
	_ "modernc.org/sqlite"
)

// SQLiteTraceStore persists trace-index snapshots in a SQLite
// database instead of traces.json. Spans and actions on disk remain
// authoritative either way; the snapshot only speeds up restart.
type SQLiteTraceStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteTraceStore opens (and migrates) the snapshot database at
// dbPath, typically <project>/autopilot/traces.db.
func NewSQLiteTraceStore(dbPath string) (*SQLiteTraceStore, error) {
	if err := fsutil.EnsureDir(filepath.Dir(dbPath)); err != nil {
		return nil, err
	}

	// WAL mode for better concurrency with the status API readers.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening trace database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS traces (
			trace_id   TEXT PRIMARY KEY,
			snapshot   TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating traces table: %w", err)
	}

	return &SQLiteTraceStore{db: db}, nil
}

// Close closes the database connection.
func (t *SQLiteTraceStore) Close() error {
	return t.db.Close()
}

// SaveTraces replaces the stored snapshot set with the given traces.
func (t *SQLiteTraceStore) SaveTraces(traces map[string]core.TraceSnapshot) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tx, err := t.db.Begin()
	if err != nil {
		return ioErr("beginning trace transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM traces`); err != nil {
		return ioErr("clearing traces", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO traces (trace_id, snapshot) VALUES (?, ?)`)
	if err != nil {
		return ioErr("preparing trace insert", err)
	}
	defer stmt.Close()

	for id, snap := range traces {
		data, err := json.Marshal(snap)
		if err != nil {
			return ioErr("encoding trace snapshot", err)
		}
		if _, err := stmt.Exec(id, string(data)); err != nil {
			return ioErr("inserting trace snapshot", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ioErr("committing trace snapshots", err)
	}
	return nil
}

// LoadTraces reads all stored snapshots.
func (t *SQLiteTraceStore) LoadTraces() (map[string]core.TraceSnapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rows, err := t.db.Query(`SELECT trace_id, snapshot FROM traces`)
	if err != nil {
		return nil, ioErr("querying traces", err)
	}
	defer rows.Close()

	traces := make(map[string]core.TraceSnapshot)
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, ioErr("scanning trace row", err)
		}
		var snap core.TraceSnapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			return nil, ioErr("decoding trace snapshot", err)
		}
		traces[id] = snap
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr("iterating trace rows", err)
	}
	return traces, nil
}

// NewTraceStore selects the snapshot backend by name: "sqlite" opens
// traces.db next to the JSON files, anything else uses the store's
// JSON implementation.
func NewTraceStore(s *Store, backend string) (TraceStore, error) {
	if backend == "sqlite" {
		return NewSQLiteTraceStore(filepath.Join(s.BaseDir(), "autopilot", "traces.db"))
	}
	return s, nil
}
