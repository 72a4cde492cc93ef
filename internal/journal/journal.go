// Package journal persists module_patched outcomes to SQLite so patch runs
// can be inspected after the process exits.
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"splice/internal/events"
	"splice/internal/logging"
)

// Entry is one recorded patch outcome.
type Entry struct {
	ID        int64
	EngineID  string
	ModuleID  string
	Patched   bool
	Applied   []string
	Error     string
	CreatedAt time.Time
}

// Summary aggregates recorded outcomes.
type Summary struct {
	Modules int
	Patched int
	Failed  int
}

// Store is the SQLite-backed journal.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// Open opens (creating if needed) the journal at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	s := &Store{db: db, path: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS patch_outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		engine_id TEXT NOT NULL,
		module_id TEXT NOT NULL,
		patched INTEGER NOT NULL DEFAULT 0,
		applied TEXT,
		error TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_outcomes_module ON patch_outcomes(module_id);
	CREATE INDEX IF NOT EXISTS idx_outcomes_engine ON patch_outcomes(engine_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}
	return nil
}

// Path returns the database path.
func (s *Store) Path() string { return s.path }

// Record appends e.
func (s *Store) Record(e Entry) error {
	applied, err := json.Marshal(e.Applied)
	if err != nil {
		return fmt.Errorf("failed to encode applied registrars: %w", err)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		`INSERT INTO patch_outcomes (engine_id, module_id, patched, applied, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.EngineID, e.ModuleID, e.Patched, string(applied), e.Error, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome for %s: %w", e.ModuleID, err)
	}
	return nil
}

// List returns the most recent entries, newest first. limit <= 0 means all.
func (s *Store) List(limit int) ([]Entry, error) {
	query := `SELECT id, engine_id, module_id, patched, applied, error, created_at
		FROM patch_outcomes ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var applied, errText sql.NullString
		if err := rows.Scan(&e.ID, &e.EngineID, &e.ModuleID, &e.Patched, &applied, &errText, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		if applied.Valid && applied.String != "" {
			if err := json.Unmarshal([]byte(applied.String), &e.Applied); err != nil {
				return nil, fmt.Errorf("failed to decode applied registrars: %w", err)
			}
		}
		e.Error = errText.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// Summarize counts distinct modules, patched outcomes and failed outcomes.
func (s *Store) Summarize() (Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum Summary
	err := s.db.QueryRow(`SELECT
		COUNT(DISTINCT module_id),
		COALESCE(SUM(CASE WHEN patched = 1 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN error IS NOT NULL AND error != '' THEN 1 ELSE 0 END), 0)
		FROM patch_outcomes`).Scan(&sum.Modules, &sum.Patched, &sum.Failed)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to summarize journal: %w", err)
	}
	return sum, nil
}

// Listener returns a module_patched listener that records outcomes under
// engineID. Write failures are logged.
func (s *Store) Listener(engineID string) events.Listener {
	return func(ev events.Event) {
		if ev.Name != events.ModulePatched {
			return
		}
		e := Entry{
			EngineID: engineID,
			ModuleID: ev.ModuleID,
			Patched:  ev.Patched,
			Applied:  ev.Applied,
		}
		if ev.Err != nil {
			e.Error = ev.Err.Error()
		}
		if err := s.Record(e); err != nil {
			logging.JournalError("%v", err)
		}
	}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
