// Package collection is a small labeled sample store backed by SQLite. A
// collection holds image samples, each with a file path, optional image
// dimensions and named label fields (classifications or detections).
package collection

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/Noofbiz/stagedata/internal/ctxlog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a named collection does not exist.
var ErrNotFound = errors.New("collection not found")

// ErrExists is returned by Create when the name is taken.
var ErrExists = errors.New("collection already exists")

// Store holds any number of named collections in one SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema. Use ":memory:" for a throwaway store.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection store %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases and foreign keys
	// consistent across statements.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrateUp(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrateUp(ctx context.Context) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// m is not closed: that would close the shared *sql.DB.
	m.Log = &migrateLogger{logger: ctxlog.FromContext(ctx)}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// migrateLogger implements migrate.Logger on top of slog.
type migrateLogger struct {
	logger *slog.Logger
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf("[migrate] "+format, v...))
}

func (l *migrateLogger) Verbose() bool { return false }

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create adds an empty collection.
func (s *Store) Create(ctx context.Context, name string) (*Collection, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM collections WHERE name = ?`, name).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to look up collection %q: %w", name, err)
	}
	if exists > 0 {
		return nil, fmt.Errorf("%w: %q", ErrExists, name)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO collections (name) VALUES (?)`, name); err != nil {
		return nil, fmt.Errorf("failed to create collection %q: %w", name, err)
	}
	return &Collection{store: s, name: name}, nil
}

// Load returns an existing collection.
func (s *Store) Load(ctx context.Context, name string) (*Collection, error) {
	var found string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM collections WHERE name = ?`, name).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load collection %q: %w", name, err)
	}
	return &Collection{store: s, name: found}, nil
}

// Delete removes a collection with all of its samples.
func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete collection %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return nil
}

// Names lists the collections in the store in name order.
func (s *Store) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM collections ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}
