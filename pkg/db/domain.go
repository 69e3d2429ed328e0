package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/yumyai/phamdb/pkg/model"
)

func (s *Store) InsertDomainHit(ctx context.Context, tx *sql.Tx, collectionID int64, h *model.DomainHit) error {
	_, err := s.q(tx).ExecContext(ctx, `
		INSERT INTO gene_domain (collection_id, gene_id, hit_id, description,
			domain_id, name, query_start, query_end, expect)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (collection_id, gene_id, hit_id) DO NOTHING`,
		collectionID, h.GeneID, h.HitID, h.Description,
		h.DomainID, h.Name, h.QueryStart, h.QueryEnd, h.Expect)
	if err != nil {
		return fmt.Errorf("insert domain hit %s/%s: %w", h.GeneID, h.HitID, err)
	}
	return nil
}

func (s *Store) DeleteDomainHitsOfGene(ctx context.Context, tx *sql.Tx, collectionID int64, geneID string) error {
	_, err := s.q(tx).ExecContext(ctx,
		`DELETE FROM gene_domain WHERE collection_id = ? AND gene_id = ?`,
		collectionID, geneID)
	if err != nil {
		return fmt.Errorf("delete domain hits of %s: %w", geneID, err)
	}
	return nil
}

func (s *Store) ListDomainHits(ctx context.Context, collectionID int64, geneID string) ([]*model.DomainHit, error) {
	rows, err := s.sql.QueryContext(ctx, `
		SELECT gene_id, hit_id, description, domain_id, name,
			query_start, query_end, expect
		FROM gene_domain WHERE collection_id = ? AND gene_id = ?`,
		collectionID, geneID)
	if err != nil {
		return nil, fmt.Errorf("list domain hits of %s: %w", geneID, err)
	}
	defer rows.Close()

	var hits []*model.DomainHit
	for rows.Next() {
		var h model.DomainHit
		err := rows.Scan(&h.GeneID, &h.HitID, &h.Description, &h.DomainID,
			&h.Name, &h.QueryStart, &h.QueryEnd, &h.Expect)
		if err != nil {
			return nil, err
		}
		hits = append(hits, &h)
	}
	return hits, rows.Err()
}
