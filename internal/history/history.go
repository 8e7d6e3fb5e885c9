// Package history keeps a SQLite ledger of processed action files. The inbox
// uses it to skip documents that already succeeded and to count failed
// attempts across daemon restarts.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Outcome string

const (
	OutcomeSucceeded    Outcome = "succeeded"
	OutcomeFailed       Outcome = "failed"
	OutcomeRejected     Outcome = "rejected"
	OutcomeDeadLettered Outcome = "dead_lettered"
)

// Entry is one processing attempt of one document version.
type Entry struct {
	ID          int64
	SourcePath  string
	Digest      string
	ActionType  string
	Outcome     Outcome
	Attempts    int
	Error       string
	ProcessedAt time.Time
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open migrates and opens the ledger at path, creating parent directories.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	if err := runMigrations(path); err != nil {
		return nil, fmt.Errorf("migrate history db: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// One writer; avoids SQLITE_BUSY between parallel inbox workers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func runMigrations(path string) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, "sqlite3://"+path)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Succeeded reports whether this exact document (path + digest) was executed
// successfully before.
func (s *Store) Succeeded(ctx context.Context, sourcePath, digest string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM processed_actions
		WHERE source_path = ? AND digest = ? AND outcome = ?
		LIMIT 1`, sourcePath, digest, OutcomeSucceeded).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query succeeded: %w", err)
	}
	return true, nil
}

// Attempts counts failed executions of this exact document since it last
// left the inbox (succeeded or dead-lettered). A redelivery starts from zero.
func (s *Store) Attempts(ctx context.Context, sourcePath, digest string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM processed_actions
		WHERE source_path = ? AND digest = ? AND outcome = ?
		  AND id > COALESCE((
		    SELECT MAX(id) FROM processed_actions
		    WHERE source_path = ? AND digest = ? AND outcome IN (?, ?)), 0)`,
		sourcePath, digest, OutcomeFailed,
		sourcePath, digest, OutcomeSucceeded, OutcomeDeadLettered).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}

// Record inserts e and returns its ID. A zero ProcessedAt is set to now.
func (s *Store) Record(ctx context.Context, e Entry) (int64, error) {
	if e.ProcessedAt.IsZero() {
		e.ProcessedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_actions (
			source_path, digest, action_type, outcome, attempts, error, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.SourcePath, e.Digest, e.ActionType, string(e.Outcome), e.Attempts, e.Error,
		e.ProcessedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert history entry: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_path, digest, action_type, outcome, attempts, error, processed_at
		FROM processed_actions
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			outcome string
			at      string
		)
		if err := rows.Scan(&e.ID, &e.SourcePath, &e.Digest, &e.ActionType, &outcome, &e.Attempts, &e.Error, &at); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		e.Outcome = Outcome(outcome)
		if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
			e.ProcessedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Counts returns the number of entries per outcome.
func (s *Store) Counts(ctx context.Context) (map[Outcome]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM processed_actions GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("query counts: %w", err)
	}
	defer rows.Close()

	out := make(map[Outcome]int)
	for rows.Next() {
		var (
			o string
			n int
		)
		if err := rows.Scan(&o, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[Outcome(o)] = n
	}
	return out, rows.Err()
}
