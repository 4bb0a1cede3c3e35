// Package store is the sole owner of persistent state for the crawler
// core: a thread-safe key/value and queue layer over an embedded SQLite
// database in WAL mode. It serialises writes behind a single mutex and
// lets reads proceed concurrently via WAL, matching the single
// write-serialising-mutex discipline spec.md requires without needing
// per-goroutine thread-local connections (Go connection pooling already
// gives us that, see DESIGN.md).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-linkstore/dlog"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

type (
	// Config carries optional Store construction parameters.
	Config struct {
		// Logger is kept on the Store; no Store method logs through it.
		// Defaults to dlog.Discard{} if nil.
		Logger dlog.Logger
	}

	// Store is a thread-safe persistent key/value and queue layer.
	// Instances must be created with Open.
	Store struct {
		path string
		log  dlog.Logger

		// write serialises every statement that mutates the database.
		// SQLite allows only one writer at a time; restricting this pool
		// to a single connection turns "database is locked" failures
		// into ordinary mutex contention.
		write *sql.DB
		// writeMu additionally serialises at the Go level, so that
		// multi-statement operations (e.g. ResetInProgress) observe a
		// consistent view without an explicit BEGIN in every caller.
		writeMu sync.Mutex

		// read is a separate connection pool opened against the same
		// file in read-only mode. WAL lets it proceed without blocking
		// the writer.
		read *sql.DB

		closed atomic.Bool
	}
)

// Open opens (or creates) the SQLite database at path, applies the
// schema and pragmas, and stamps the schema version into run_metadata.
// path must not be ":memory:": WAL mode requires a real file.
func Open(path string, cfg *Config) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: empty path")
	}

	var logger dlog.Logger
	if cfg != nil {
		logger = cfg.Logger
	}
	logger = dlog.Or(logger)

	write, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}
	// Single writer: every mutation serialises through this connection,
	// avoiding "database is locked" under concurrent producers.
	write.SetMaxOpenConns(1)

	if err := applyPragmas(write); err != nil {
		_ = write.Close()
		return nil, err
	}
	if _, err := write.Exec(schemaDDL); err != nil {
		_ = write.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	read, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		_ = write.Close()
		return nil, fmt.Errorf("store: open read pool %q: %w", path, err)
	}

	s := &Store{path: path, log: logger, write: write, read: read}

	if _, err := s.write.Exec(
		`INSERT INTO run_metadata (key, value) VALUES ('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		fmt.Sprintf("%d", SchemaVersion),
	); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("store: stamp schema version: %w", err)
	}

	return s, nil
}

// applyPragmas mirrors the original implementation's connection setup:
// WAL for concurrent readers, NORMAL synchronous (durable across
// application crashes, not OS crashes), an 8MB page cache, and a busy
// timeout so transient writer contention resolves without surfacing
// "database is locked" to callers.
func applyPragmas(db *sql.DB) error {
	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA synchronous = NORMAL`,
		`PRAGMA cache_size = -8000`,
		`PRAGMA busy_timeout = 5000`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	return nil
}

// Close closes both connection pools. Close is idempotent; any
// operation attempted after Close fails fast with ErrClosed.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	err1 := s.write.Close()
	err2 := s.read.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// DeleteDB closes the store, then removes the primary database file
// and its write-ahead-log/shared-memory sidecars.
func (s *Store) DeleteDB() error {
	path := s.path
	if err := s.Close(); err != nil {
		return err
	}
	var firstErr error
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// checkOpen returns ErrClosed if the store has been closed.
func (s *Store) checkOpen() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// execWrite runs fn against the write connection while holding writeMu,
// after checking the store is still open.
func (s *Store) execWrite(ctx context.Context, fn func(ctx context.Context, db *sql.DB) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return fn(ctx, s.write)
}

// inTx runs fn inside a transaction on the write connection, while
// holding writeMu for the duration.
func (s *Store) inTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	return nil
}
