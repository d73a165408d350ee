// Package postgres implements repository.Registry on PostgreSQL.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new PostgreSQL connection pool
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Ping reports whether the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Close closes the connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS indexed_files (
	file_id       TEXT PRIMARY KEY,
	file_name     TEXT NOT NULL,
	file_type     TEXT NOT NULL,
	modified_time TIMESTAMPTZ NOT NULL,
	chunk_count   INTEGER NOT NULL DEFAULT 0,
	indexed_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_indexed_files_file_type ON indexed_files (file_type);

CREATE TABLE IF NOT EXISTS index_metadata (
	id                SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	last_refresh_time TIMESTAMPTZ NOT NULL,
	total_files       INTEGER NOT NULL,
	total_chunks      INTEGER NOT NULL,
	chunk_size        INTEGER NOT NULL,
	chunk_overlap     INTEGER NOT NULL,
	reranking_model   TEXT NOT NULL,
	indexed_by        TEXT NOT NULL,
	run_id            UUID NOT NULL
);
`

// Migrate creates the registry tables when they do not exist.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
