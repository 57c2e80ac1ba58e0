package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/entrhq/merlin/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS attempts (
	seq       INTEGER PRIMARY KEY AUTOINCREMENT,
	id        TEXT NOT NULL UNIQUE,
	level     INTEGER NOT NULL,
	kind      TEXT NOT NULL,
	payload   TEXT NOT NULL,
	response  TEXT NOT NULL DEFAULT '',
	outcome   TEXT NOT NULL,
	tactic    TEXT NOT NULL DEFAULT '',
	hint      TEXT NOT NULL DEFAULT '',
	ts        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_level ON attempts(level);
`

// SQLiteStore keeps the attempt log in a SQLite database, one row per
// attempt, ordered by insertion.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at path in WAL mode and ensures the
// schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("memory: init directory for %s: %w", path, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memory: open sqlite %s: %w", path, err)
	}
	// One writer keeps appends serialized.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("memory: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("memory: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, a types.Attempt) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO attempts (id, level, kind, payload, response, outcome, tactic, hint, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Level, string(a.Kind), a.Payload, a.Response, string(a.Outcome), a.Tactic, a.Hint,
		a.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("memory: insert attempt %s: %w", a.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("memory: insert attempt %s: %w", a.ID, err)
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) ([]types.Attempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, level, kind, payload, response, outcome, tactic, hint, ts FROM attempts ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("memory: query attempts: %w", err)
	}
	defer rows.Close()

	var out []types.Attempt
	for rows.Next() {
		var (
			a             types.Attempt
			kind, outcome string
			ts            string
		)
		if err := rows.Scan(&a.ID, &a.Level, &kind, &a.Payload, &a.Response, &outcome, &a.Tactic, &a.Hint, &ts); err != nil {
			return nil, fmt.Errorf("memory: scan attempt: %w", err)
		}
		a.Kind = types.ActionKind(kind)
		a.Outcome = types.Outcome(outcome)
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			a.Timestamp = t
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory: iterate attempts: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
