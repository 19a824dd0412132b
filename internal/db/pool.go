// Package db opens and pairs the database connections backing the feature
// store. SQLite gets a single-connection writer plus a concurrent read-only
// pool; Postgres uses one pgx pool for both sides.
package db

import (
	"github.com/jmoiron/sqlx"

	"github.com/featflow/featflow/internal/db/dialect"
)

// Pool pairs the writer and reader connections a repository runs on.
type Pool struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// NewPool wraps existing writer and reader connections.
func NewPool(writer, reader *sqlx.DB) *Pool {
	return &Pool{writer: writer, reader: reader}
}

// NewSQLitePool opens the writer and reader pools for a SQLite file.
func NewSQLitePool(dbPath string) (*Pool, error) {
	writer, err := OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	reader, err := OpenSQLiteReader(dbPath)
	if err != nil {
		_ = writer.Close()
		return nil, err
	}
	return &Pool{
		writer: sqlx.NewDb(writer, dialect.SQLite3),
		reader: sqlx.NewDb(reader, dialect.SQLite3),
	}, nil
}

// NewPostgresPool opens a single pgx pool serving both sides.
func NewPostgresPool(dsn string, maxConns, minConns int) (*Pool, error) {
	conn, err := OpenPostgres(dsn, maxConns, minConns)
	if err != nil {
		return nil, err
	}
	both := sqlx.NewDb(conn, dialect.PGX)
	return &Pool{writer: both, reader: both}, nil
}

// Writer returns the pool for INSERT, UPDATE, DELETE and transactions.
// For SQLite this is limited to a single connection.
func (p *Pool) Writer() *sqlx.DB { return p.writer }

// Reader returns the pool for SELECT queries. For SQLite these run on
// read-only connections that operate concurrently with the writer.
func (p *Pool) Reader() *sqlx.DB { return p.reader }

// Close closes both pools, tolerating the shared-pool case.
func (p *Pool) Close() error {
	wErr := p.writer.Close()
	if p.reader != p.writer {
		if rErr := p.reader.Close(); rErr != nil && wErr == nil {
			return rErr
		}
	}
	return wErr
}
