package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store wraps the sqlite database holding every collection: phages,
// genes, phams, the score cache, domain hits and the job table.
// Cascades are explicit Go code, never storage-engine triggers, so the
// invalidation order (cache before structural delete) stays visible.
type Store struct {
	sql *sql.DB
}

// Open opens (and if needed initializes) the database at path.
// Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// sqlite allows one writer; a single connection also keeps
	// ":memory:" databases from silently forking per connection.
	conn.SetMaxOpenConns(1)

	s := &Store{sql: conn}
	if err := s.init(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.sql.Close()
}

// DB exposes the underlying handle for read-only status queries.
func (s *Store) DB() *sql.DB {
	return s.sql
}

const schema = `
CREATE TABLE IF NOT EXISTS collection (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	name         TEXT NOT NULL UNIQUE,
	cdd_search   INTEGER NOT NULL DEFAULT 0,
	created_at   TIMESTAMP NOT NULL,
	modified_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS phage (
	collection_id INTEGER NOT NULL,
	phage_id      TEXT NOT NULL,
	name          TEXT NOT NULL,
	sequence      TEXT NOT NULL,
	modified_at   TIMESTAMP NOT NULL,
	PRIMARY KEY (collection_id, phage_id)
);

CREATE TABLE IF NOT EXISTS gene (
	collection_id   INTEGER NOT NULL,
	gene_id         TEXT NOT NULL,
	phage_id        TEXT NOT NULL,
	name            TEXT NOT NULL,
	translation     TEXT NOT NULL,
	order_added     INTEGER NOT NULL,
	clustalw_status TEXT NOT NULL,
	blast_status    TEXT NOT NULL,
	cdd_status      TEXT NOT NULL,
	pham_name       INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (collection_id, gene_id)
);
CREATE INDEX IF NOT EXISTS gene_phage_idx ON gene (collection_id, phage_id);

CREATE TABLE IF NOT EXISTS pham (
	collection_id INTEGER NOT NULL,
	name          INTEGER NOT NULL,
	order_added   INTEGER NOT NULL,
	PRIMARY KEY (collection_id, name)
);

-- Colors outlive their pham: a retired name keeps its row so the color
-- stays reserved and is never handed to a new pham.
CREATE TABLE IF NOT EXISTS pham_color (
	collection_id INTEGER NOT NULL,
	name          INTEGER NOT NULL,
	color         TEXT NOT NULL,
	PRIMARY KEY (collection_id, name)
);

CREATE TABLE IF NOT EXISTS pham_history (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	collection_id INTEGER NOT NULL,
	child_name    INTEGER NOT NULL,
	parent_name   INTEGER NOT NULL,
	action        TEXT NOT NULL,
	recorded_at   TIMESTAMP NOT NULL
);

-- Pairwise score cache. gene_a < gene_b lexicographically.
CREATE TABLE IF NOT EXISTS score (
	collection_id INTEGER NOT NULL,
	gene_a        TEXT NOT NULL,
	gene_b        TEXT NOT NULL,
	kind          TEXT NOT NULL,
	state         TEXT NOT NULL,
	value         REAL,
	PRIMARY KEY (collection_id, gene_a, gene_b, kind)
);
CREATE INDEX IF NOT EXISTS score_b_idx ON score (collection_id, gene_b);

CREATE TABLE IF NOT EXISTS gene_domain (
	collection_id INTEGER NOT NULL,
	gene_id       TEXT NOT NULL,
	hit_id        TEXT NOT NULL,
	description   TEXT NOT NULL,
	domain_id     TEXT NOT NULL,
	name          TEXT NOT NULL,
	query_start   INTEGER NOT NULL,
	query_end     INTEGER NOT NULL,
	expect        REAL NOT NULL,
	PRIMARY KEY (collection_id, gene_id, hit_id)
);

CREATE TABLE IF NOT EXISTS job (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	collection_id  INTEGER NOT NULL,
	task_id        TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL,
	status_message TEXT NOT NULL DEFAULT '',
	error          TEXT NOT NULL DEFAULT '',
	changes        TEXT NOT NULL,
	created_at     TIMESTAMP NOT NULL,
	started_at     TIMESTAMP,
	ended_at       TIMESTAMP,
	seen           INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS job_collection_idx ON job (collection_id, state);

CREATE TABLE IF NOT EXISTS counter (
	collection_id INTEGER NOT NULL,
	name          TEXT NOT NULL,
	value         INTEGER NOT NULL,
	PRIMARY KEY (collection_id, name)
);
`

func (s *Store) init() error {
	if _, err := s.sql.Exec(schema); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	return nil
}

// WithTx runs fn inside a transaction. Committed state is the only state
// readers ever observe; a failure anywhere rolls everything back.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

// querier lets store methods run inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return s.sql
}
