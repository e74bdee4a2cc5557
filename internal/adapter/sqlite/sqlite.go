// Package sqlite implements the palace store on an embedded SQLite file
// with FTS5 full-text and vector side-indices. Schema upgrades run through
// goose migrations guarded by a sibling lock file.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/mnemolabs/palace/internal/domain"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store owns the embedded database file. All content mutations must go
// through the write lane; readers rely on SQLite snapshot isolation (WAL).
type Store struct {
	db  *sql.DB
	now func() time.Time // for testing
}

// Options configures opening the store.
type Options struct {
	Path                 string
	MigrationLockFile    string
	MigrationLockTimeout time.Duration
}

// Open opens (or creates) the store and applies pending migrations under
// the migration file lock.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if dir := filepath.Dir(opts.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", opts.Path+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	lock := opts.MigrationLockFile
	if lock == "" {
		lock = opts.Path + ".migrate.lock"
	}
	unlock, err := acquireMigrationLock(ctx, lock, opts.MigrationLockTimeout)
	if err != nil {
		db.Close()
		return nil, err
	}
	defer unlock()

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for read-only diagnostics.
func (s *Store) DB() *sql.DB { return s.db }

// runMigrations applies all pending goose migrations from the embedded SQL.
func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetTableName("schema_migrations")

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// acquireMigrationLock takes an exclusive file lock by atomic create.
// Polls until the timeout, then fails with migration_lock_timeout.
func acquireMigrationLock(ctx context.Context, path string, timeout time.Duration) (func(), error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	deadline := time.Now().Add(timeout)

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return func() { os.Remove(path) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("migration lock %s: %w", path, err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("migration lock %s held past deadline: %w", path, domain.ErrMigrationLockTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
