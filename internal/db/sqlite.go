package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	busyTimeout = 5 * time.Second

	// sqliteReaderConns is the size of the read-only pool. WAL mode lets
	// these proceed concurrently with the single writer.
	sqliteReaderConns = 4
)

// OpenSQLite opens the write side of a SQLite database. The pool is pinned
// to one connection so writes serialize instead of failing with
// SQLITE_BUSY. The file and its parent directory are created when missing.
func OpenSQLite(dbPath string) (*sql.DB, error) {
	path, err := prepareSQLitePath(dbPath)
	if err != nil {
		return nil, err
	}

	// WAL for read concurrency, NORMAL sync as the durability tradeoff,
	// busy_timeout so transient lock contention waits instead of erroring.
	dsn := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_mode=rwc&_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL&_cache=shared",
		path, int(busyTimeout/time.Millisecond),
	)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	return conn, nil
}

// OpenSQLiteReader opens a read-only pool against the same file. Readers
// see consistent WAL snapshots and never block the writer.
func OpenSQLiteReader(dbPath string) (*sql.DB, error) {
	path, err := normalizeSQLitePath(dbPath)
	if err != nil {
		return nil, err
	}

	// journal_mode and synchronous are database-level settings owned by
	// the writer; the reader only needs ro mode and the shared cache.
	dsn := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_mode=ro&_busy_timeout=%d&_cache=shared",
		path, int(busyTimeout/time.Millisecond),
	)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open read-only database: %w", err)
	}

	conn.SetMaxOpenConns(sqliteReaderConns)
	conn.SetMaxIdleConns(sqliteReaderConns)
	return conn, nil
}

// prepareSQLitePath normalizes the path and makes sure the file exists, so
// that a read-only pool opened immediately after does not fail on a
// missing database.
func prepareSQLitePath(dbPath string) (string, error) {
	path, err := normalizeSQLitePath(dbPath)
	if err != nil {
		return "", err
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to prepare database directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", err
	}
	return path, nil
}

func normalizeSQLitePath(dbPath string) (string, error) {
	if dbPath == "" {
		return "", fmt.Errorf("database path is empty")
	}
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return dbPath, nil
	}
	return abs, nil
}
