package session

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/toolrelay/toolrelay/internal/schema"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteStore archives conversations into a SQLite database, one row per
// turn.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the archive at dsn.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("session store: open: %w", err)
	}

	// Enable WAL mode for concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session store: set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session store: enable foreign keys: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session store: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Archive replaces any earlier archive with the same id.
func (s *SQLiteStore) Archive(ctx context.Context, rec Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("session store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, rec.ID); err != nil {
		return fmt.Errorf("session store: clear turns: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, ended_at, turn_count) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET ended_at = excluded.ended_at, turn_count = excluded.turn_count`,
		rec.ID,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.EndedAt.UTC().Format(time.RFC3339Nano),
		len(rec.Turns),
	)
	if err != nil {
		return fmt.Errorf("session store: insert session: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO turns (session_id, seq, kind, step, at, body) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("session store: prepare: %w", err)
	}
	defer stmt.Close()

	for i, t := range rec.Turns {
		body, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("session store: marshal turn %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, rec.ID, i, string(t.Kind), t.Step, t.At.UTC().Format(time.RFC3339Nano), string(body)); err != nil {
			return fmt.Errorf("session store: insert turn %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("session store: commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (Record, error) {
	var created, ended string
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at, ended_at FROM sessions WHERE id = ?`, id).Scan(&created, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("session store: load %s: %w", id, err)
	}

	rec := Record{ID: id}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	rec.EndedAt, _ = time.Parse(time.RFC3339Nano, ended)

	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM turns WHERE session_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return Record{}, fmt.Errorf("session store: load turns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return Record{}, fmt.Errorf("session store: scan turn: %w", err)
		}
		var t schema.Turn
		if err := json.Unmarshal([]byte(body), &t); err != nil {
			return Record{}, fmt.Errorf("session store: decode turn: %w", err)
		}
		rec.Turns = append(rec.Turns, t)
	}
	return rec, rows.Err()
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Summary, error) {
	query := `SELECT id, created_at, ended_at, turn_count FROM sessions ORDER BY ended_at DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("session store: list: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum            Summary
			created, ended string
		)
		if err := rows.Scan(&sum.ID, &created, &ended, &sum.Turns); err != nil {
			return nil, fmt.Errorf("session store: scan: %w", err)
		}
		sum.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		sum.EndedAt, _ = time.Parse(time.RFC3339Nano, ended)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
