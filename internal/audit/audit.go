// Package audit is a small SQLite-backed append-only trail for
// administrative actions: access-list changes and slash-commands that
// failed to resolve. It exists alongside the circular operator log
// (internal/logstore) rather than instead of it -- the circular log is
// for tailing live operation, this is for answering "who did what"
// after the fact.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	_ "modernc.org/sqlite"
)

// Store is a single-writer sqlite database. The driver is registered by
// the blank modernc.org/sqlite import; no cgo is involved.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open creates (or reuses) the database at path, applying pragmas
// appropriate for a single-writer, many-reader workload, and runs the
// schema migration.
func Open(path string, busyTimeout time.Duration, log zerolog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("audit: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	// A single writer matches sqlite's own concurrency sweet spot.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if busyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &Store{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS audit (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	at     TEXT NOT NULL,
	sender INTEGER NOT NULL,
	chat   INTEGER NOT NULL,
	action TEXT NOT NULL,
	detail TEXT
)`)
	return err
}

// Record writes one entry. It is called from the request-handling path
// and deliberately swallows its own error (logged, not returned) so a
// slow or failing disk never blocks a reply the way a failed command
// dispatch would.
func (s *Store) Record(sender, chat int64, action, detail string) {
	if s == nil || s.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, sender, chat, action, detail) VALUES(?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), sender, chat, action, detail,
	); err != nil {
		s.log.Warn().Err(err).Str("action", action).Msg("audit: record failed")
	}
}

// Prune deletes entries older than olderThan, mirroring the retention
// housekeeping a long-running audit trail needs so it doesn't grow
// without bound. It is meant to be driven by a periodic scheduler, not
// called per-request.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit WHERE at < ?`, olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("audit: prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
