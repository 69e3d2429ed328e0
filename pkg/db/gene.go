package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/yumyai/phamdb/pkg/model"
)

// InsertPhage writes a phage row. Genes are inserted separately so the
// mutator controls the ordering of the whole cascade.
func (s *Store) InsertPhage(ctx context.Context, tx *sql.Tx, collectionID int64, p *model.Phage) error {
	_, err := s.q(tx).ExecContext(ctx, `
		INSERT INTO phage (collection_id, phage_id, name, sequence, modified_at)
		VALUES (?, ?, ?, ?, ?)`,
		collectionID, p.PhageID, p.Name, p.Sequence, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert phage %s: %w", p.PhageID, err)
	}
	return nil
}

func (s *Store) DeletePhage(ctx context.Context, tx *sql.Tx, collectionID int64, phageID string) error {
	_, err := s.q(tx).ExecContext(ctx,
		`DELETE FROM phage WHERE collection_id = ? AND phage_id = ?`,
		collectionID, phageID)
	if err != nil {
		return fmt.Errorf("delete phage %s: %w", phageID, err)
	}
	return nil
}

func (s *Store) PhageExists(ctx context.Context, tx *sql.Tx, collectionID int64, phageID string) (bool, error) {
	var n int
	err := s.q(tx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM phage WHERE collection_id = ? AND phage_id = ?`,
		collectionID, phageID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) InsertGene(ctx context.Context, tx *sql.Tx, collectionID int64, g *model.Gene) error {
	_, err := s.q(tx).ExecContext(ctx, `
		INSERT INTO gene (collection_id, gene_id, phage_id, name, translation,
			order_added, clustalw_status, blast_status, cdd_status, pham_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		collectionID, g.GeneID, g.PhageID, g.Name, g.Translation,
		g.OrderAdded, g.ClustalwStatus, g.BlastStatus, g.CddStatus, g.PhamName)
	if err != nil {
		return fmt.Errorf("insert gene %s: %w", g.GeneID, err)
	}
	return nil
}

func (s *Store) DeleteGenesOfPhage(ctx context.Context, tx *sql.Tx, collectionID int64, phageID string) error {
	_, err := s.q(tx).ExecContext(ctx,
		`DELETE FROM gene WHERE collection_id = ? AND phage_id = ?`,
		collectionID, phageID)
	if err != nil {
		return fmt.Errorf("delete genes of %s: %w", phageID, err)
	}
	return nil
}

const geneColumns = `gene_id, phage_id, name, translation, order_added,
	clustalw_status, blast_status, cdd_status, pham_name`

func scanGene(rows *sql.Rows) (*model.Gene, error) {
	var g model.Gene
	err := rows.Scan(&g.GeneID, &g.PhageID, &g.Name, &g.Translation,
		&g.OrderAdded, &g.ClustalwStatus, &g.BlastStatus, &g.CddStatus,
		&g.PhamName)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) geneQuery(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]*model.Gene, error) {
	rows, err := s.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var genes []*model.Gene
	for rows.Next() {
		g, err := scanGene(rows)
		if err != nil {
			return nil, err
		}
		genes = append(genes, g)
	}
	return genes, rows.Err()
}

func (s *Store) GetGene(ctx context.Context, tx *sql.Tx, collectionID int64, geneID string) (*model.Gene, error) {
	genes, err := s.geneQuery(ctx, tx, `
		SELECT `+geneColumns+` FROM gene
		WHERE collection_id = ? AND gene_id = ?`, collectionID, geneID)
	if err != nil {
		return nil, fmt.Errorf("get gene %s: %w", geneID, err)
	}
	if len(genes) == 0 {
		return nil, nil
	}
	return genes[0], nil
}

func (s *Store) ListGenes(ctx context.Context, tx *sql.Tx, collectionID int64) ([]*model.Gene, error) {
	genes, err := s.geneQuery(ctx, tx, `
		SELECT `+geneColumns+` FROM gene
		WHERE collection_id = ? ORDER BY order_added`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list genes: %w", err)
	}
	return genes, nil
}

func (s *Store) ListGenesOfPhage(ctx context.Context, tx *sql.Tx, collectionID int64, phageID string) ([]*model.Gene, error) {
	genes, err := s.geneQuery(ctx, tx, `
		SELECT `+geneColumns+` FROM gene
		WHERE collection_id = ? AND phage_id = ? ORDER BY order_added`,
		collectionID, phageID)
	if err != nil {
		return nil, fmt.Errorf("list genes of %s: %w", phageID, err)
	}
	return genes, nil
}

var errUnknownKind = errors.New("unknown comparison kind")

func statusColumn(kind model.ComparisonKind) (string, error) {
	switch kind {
	case model.CompClustalw:
		return "clustalw_status", nil
	case model.CompBlast:
		return "blast_status", nil
	case model.CompCDD:
		return "cdd_status", nil
	default:
		return "", fmt.Errorf("%w: %q", errUnknownKind, kind)
	}
}

// SetGeneStatus writes one status column without transition checking;
// the tracker is the only caller and does the checking.
func (s *Store) SetGeneStatus(ctx context.Context, tx *sql.Tx, collectionID int64, geneID string, kind model.ComparisonKind, status model.Status) error {
	col, err := statusColumn(kind)
	if err != nil {
		return err
	}
	res, err := s.q(tx).ExecContext(ctx,
		`UPDATE gene SET `+col+` = ? WHERE collection_id = ? AND gene_id = ?`,
		status, collectionID, geneID)
	if err != nil {
		return fmt.Errorf("set %s status of %s: %w", kind, geneID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Inconsistency("status update for missing gene %s", geneID)
	}
	return nil
}

// SetPhamAssignments rewrites gene -> pham membership for the given
// genes only. Runs inside the clustering commit transaction.
func (s *Store) SetPhamAssignments(ctx context.Context, tx *sql.Tx, collectionID int64, assignment map[string]int64) error {
	for geneID, name := range assignment {
		_, err := s.q(tx).ExecContext(ctx,
			`UPDATE gene SET pham_name = ? WHERE collection_id = ? AND gene_id = ?`,
			name, collectionID, geneID)
		if err != nil {
			return fmt.Errorf("assign gene %s to pham %d: %w", geneID, name, err)
		}
	}
	return nil
}
