package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrClosed is returned by operations on a closed Database.
var ErrClosed = errors.New("database connection is closed")

// Database owns the SQLite connection used for run history.
//
// Usage:
//
//	database, err := db.Open(".trainwatch/runs.db")
//	if err != nil {
//	    return err
//	}
//	defer database.Close()
type Database struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// Open creates the file and its parent directory if needed, applies pending
// migrations on a separate connection, then opens the working connection.
func Open(path string) (*Database, error) {
	return OpenWithConfig(DefaultConnectionConfig(path))
}

// OpenWithConfig is Open with a custom connection configuration.
func OpenWithConfig(config ConnectionConfig) (*Database, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if dir := filepath.Dir(config.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	// golang-migrate closes the connection it is given.
	if err := MigrateUpFromPath(config.Path); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	conn, err := NewSQLiteConnection(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	return &Database{conn: conn, path: config.Path}, nil
}

// Path returns the database file path.
func (d *Database) Path() string {
	return d.path
}

// Ping verifies the connection is alive.
func (d *Database) Ping(ctx context.Context) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.conn == nil {
		return ErrClosed
	}
	return d.conn.PingContext(ctx)
}

// Close closes the connection. Calling Close twice is a no-op.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return nil
	}
	if err := d.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	d.conn = nil
	return nil
}

// ShutdownHook adapts Close to the shutdown registry signature.
func (d *Database) ShutdownHook() func(ctx context.Context) error {
	return func(context.Context) error {
		return d.Close()
	}
}

func (d *Database) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.conn == nil {
		return nil, ErrClosed
	}
	return d.conn.ExecContext(ctx, query, args...)
}

// query runs fn over the result rows while holding the read lock so Close
// cannot race an in-flight scan.
func (d *Database) query(ctx context.Context, fn func(*sql.Rows) error, query string, args ...any) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.conn == nil {
		return ErrClosed
	}
	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (d *Database) queryRow(ctx context.Context, dest []any, query string, args ...any) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.conn == nil {
		return ErrClosed
	}
	return d.conn.QueryRowContext(ctx, query, args...).Scan(dest...)
}
