package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/yumyai/phamdb/pkg/model"
)

// Score rows back the pairwise comparison cache. gene_a < gene_b is the
// canonical key order and is the caller's (scorecache) responsibility.

func (s *Store) GetScore(ctx context.Context, collectionID int64, geneA, geneB string, kind model.ScoreKind) (*model.PairScore, error) {
	ps := &model.PairScore{GeneA: geneA, GeneB: geneB, Kind: kind}

	var state string
	var value sql.NullFloat64
	err := s.sql.QueryRowContext(ctx, `
		SELECT state, value FROM score
		WHERE collection_id = ? AND gene_a = ? AND gene_b = ? AND kind = ?`,
		collectionID, geneA, geneB, kind).Scan(&state, &value)
	if errors.Is(err, sql.ErrNoRows) {
		ps.State = model.PairAbsent
		return ps, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get score %s/%s: %w", geneA, geneB, err)
	}

	ps.State = model.PairState(state)
	if value.Valid {
		ps.Value = value.Float64
	}
	return ps, nil
}

// MarkScorePending creates or re-arms a score row for computation.
// A row already computed may only go pending again via this path, which
// the tracker drives when an entry went stale.
func (s *Store) MarkScorePending(ctx context.Context, tx *sql.Tx, collectionID int64, geneA, geneB string, kind model.ScoreKind) error {
	_, err := s.q(tx).ExecContext(ctx, `
		INSERT INTO score (collection_id, gene_a, gene_b, kind, state, value)
		VALUES (?, ?, ?, ?, 'pending', NULL)
		ON CONFLICT (collection_id, gene_a, gene_b, kind)
		DO UPDATE SET state = 'pending', value = NULL`,
		collectionID, geneA, geneB, kind)
	if err != nil {
		return fmt.Errorf("mark score pending %s/%s: %w", geneA, geneB, err)
	}
	return nil
}

// PutScore commits a computed value. The guarded UPDATE only succeeds
// while the entry is pending, so two writers can never race on one key
// and a write can never clobber a committed value.
func (s *Store) PutScore(ctx context.Context, tx *sql.Tx, collectionID int64, geneA, geneB string, kind model.ScoreKind, value float64) error {
	res, err := s.q(tx).ExecContext(ctx, `
		UPDATE score SET state = 'computed', value = ?
		WHERE collection_id = ? AND gene_a = ? AND gene_b = ? AND kind = ?
		AND state = 'pending'`,
		value, collectionID, geneA, geneB, kind)
	if err != nil {
		return fmt.Errorf("put score %s/%s: %w", geneA, geneB, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("score %s/%s/%s not pending: %w", geneA, geneB, kind, model.ErrConflict)
	}
	return nil
}

// DeleteScoresOfGene removes every cache row referencing the gene, on
// either side of the pair. Returns the counterpart gene ids so the
// tracker can mark them stale.
func (s *Store) DeleteScoresOfGene(ctx context.Context, tx *sql.Tx, collectionID int64, geneID string) ([]string, error) {
	q := s.q(tx)

	rows, err := q.QueryContext(ctx, `
		SELECT DISTINCT CASE WHEN gene_a = ? THEN gene_b ELSE gene_a END
		FROM score
		WHERE collection_id = ? AND (gene_a = ? OR gene_b = ?)`,
		geneID, collectionID, geneID, geneID)
	if err != nil {
		return nil, fmt.Errorf("find counterparts of %s: %w", geneID, err)
	}
	defer rows.Close()

	var counterparts []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		counterparts = append(counterparts, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	_, err = q.ExecContext(ctx, `
		DELETE FROM score
		WHERE collection_id = ? AND (gene_a = ? OR gene_b = ?)`,
		collectionID, geneID, geneID)
	if err != nil {
		return nil, fmt.Errorf("delete scores of %s: %w", geneID, err)
	}
	return counterparts, nil
}

// NeighborsAbove returns genes whose cached score against geneID passes
// the threshold for the given kind.
func (s *Store) NeighborsAbove(ctx context.Context, tx *sql.Tx, collectionID int64, geneID string, kind model.ScoreKind, threshold float64) ([]string, error) {
	rows, err := s.q(tx).QueryContext(ctx, `
		SELECT CASE WHEN gene_a = ? THEN gene_b ELSE gene_a END
		FROM score
		WHERE collection_id = ? AND (gene_a = ? OR gene_b = ?)
		AND kind = ? AND state = 'computed' AND value >= ?`,
		geneID, collectionID, geneID, geneID, kind, threshold)
	if err != nil {
		return nil, fmt.Errorf("neighbors of %s: %w", geneID, err)
	}
	defer rows.Close()

	var neighbors []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		neighbors = append(neighbors, id)
	}
	return neighbors, rows.Err()
}

// PairFullyComputed reports whether every score kind for the canonical
// pair is already computed. The scheduler skips re-arming such pairs,
// so removing a gene never throws away the valid scores between its
// surviving counterparts.
func (s *Store) PairFullyComputed(ctx context.Context, tx *sql.Tx, collectionID int64, geneA, geneB string) (bool, error) {
	var n int
	err := s.q(tx).QueryRowContext(ctx, `
		SELECT COUNT(*) FROM score
		WHERE collection_id = ? AND gene_a = ? AND gene_b = ?
		AND state = 'computed'`,
		collectionID, geneA, geneB).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check pair %s/%s: %w", geneA, geneB, err)
	}
	return n == len(model.ScoreKinds), nil
}

// CountComputedScoresOfGene counts computed entries of one kind that
// reference the gene. Used for the done-status invariant check.
func (s *Store) CountComputedScoresOfGene(ctx context.Context, tx *sql.Tx, collectionID int64, geneID string, kind model.ScoreKind) (int, error) {
	var n int
	err := s.q(tx).QueryRowContext(ctx, `
		SELECT COUNT(*) FROM score
		WHERE collection_id = ? AND (gene_a = ? OR gene_b = ?)
		AND kind = ? AND state = 'computed'`,
		collectionID, geneID, geneID, kind).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count scores of %s: %w", geneID, err)
	}
	return n, nil
}
