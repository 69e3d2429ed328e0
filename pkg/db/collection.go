package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yumyai/phamdb/pkg/model"
)

// Collection is one independently clustered genome collection.
type Collection struct {
	ID         int64
	Name       string
	CddSearch  bool
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// CreateCollection registers a new collection. Name collisions surface
// as a conflict, not a retry.
func (s *Store) CreateCollection(ctx context.Context, name string, cddSearch bool) (*Collection, error) {
	now := time.Now().UTC()
	res, err := s.sql.ExecContext(ctx, `
		INSERT INTO collection (name, cdd_search, created_at, modified_at)
		VALUES (?, ?, ?, ?)`,
		name, cddSearch, now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, fmt.Errorf("collection name %q: %w", name, model.ErrConflict)
		}
		return nil, fmt.Errorf("create collection: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &Collection{
		ID: id, Name: name, CddSearch: cddSearch,
		CreatedAt: now, ModifiedAt: now,
	}, nil
}

func (s *Store) GetCollection(ctx context.Context, id int64) (*Collection, error) {
	var c Collection
	err := s.sql.QueryRowContext(ctx, `
		SELECT id, name, cdd_search, created_at, modified_at
		FROM collection WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.CddSearch, &c.CreatedAt, &c.ModifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get collection: %w", err)
	}
	return &c, nil
}

func (s *Store) TouchCollection(ctx context.Context, tx *sql.Tx, id int64) error {
	_, err := s.q(tx).ExecContext(ctx,
		`UPDATE collection SET modified_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	return err
}

// NextCounter increments and returns the named per-collection counter.
// Used for the pham name sequence and gene insertion order.
func (s *Store) NextCounter(ctx context.Context, tx *sql.Tx, collectionID int64, name string) (int64, error) {
	q := s.q(tx)
	_, err := q.ExecContext(ctx, `
		INSERT INTO counter (collection_id, name, value) VALUES (?, ?, 1)
		ON CONFLICT (collection_id, name) DO UPDATE SET value = value + 1`,
		collectionID, name)
	if err != nil {
		return 0, fmt.Errorf("bump counter %s: %w", name, err)
	}

	var v int64
	err = q.QueryRowContext(ctx,
		`SELECT value FROM counter WHERE collection_id = ? AND name = ?`,
		collectionID, name).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read counter %s: %w", name, err)
	}
	return v, nil
}

func (s *Store) ListCollections(ctx context.Context) ([]*Collection, error) {
	rows, err := s.sql.QueryContext(ctx, `
		SELECT id, name, cdd_search, created_at, modified_at
		FROM collection ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var out []*Collection
	for rows.Next() {
		var c Collection
		err := rows.Scan(&c.ID, &c.Name, &c.CddSearch, &c.CreatedAt, &c.ModifiedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// Summary returns the per-collection counts shown on status pages.
func (s *Store) Summary(ctx context.Context, collectionID int64) (*model.Summary, error) {
	var sum model.Summary
	row := s.sql.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM phage WHERE collection_id = ?),
			(SELECT COUNT(*) FROM pham WHERE collection_id = ?),
			(SELECT COUNT(*) FROM pham p WHERE collection_id = ?
				AND 1 = (SELECT COUNT(*) FROM gene g
					WHERE g.collection_id = p.collection_id
					AND g.pham_name = p.name)),
			(SELECT COUNT(*) FROM gene_domain WHERE collection_id = ?)`,
		collectionID, collectionID, collectionID, collectionID)
	if err := row.Scan(&sum.Phages, &sum.Phams, &sum.Orphams, &sum.DomainHits); err != nil {
		return nil, fmt.Errorf("collection summary: %w", err)
	}
	return &sum, nil
}
