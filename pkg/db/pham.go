package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/yumyai/phamdb/pkg/model"
)

// PhamSnapshot is the committed clustering state of one collection:
// live pham membership plus every color ever assigned, including colors
// of retired names, which stay reserved.
type PhamSnapshot struct {
	Members    map[int64][]string
	OrderAdded map[int64]int64
	Colors     map[int64]string
}

func (s *Store) LoadPhamSnapshot(ctx context.Context, tx *sql.Tx, collectionID int64) (*PhamSnapshot, error) {
	snap := &PhamSnapshot{
		Members:    make(map[int64][]string),
		OrderAdded: make(map[int64]int64),
		Colors:     make(map[int64]string),
	}

	q := s.q(tx)

	rows, err := q.QueryContext(ctx,
		`SELECT name, order_added FROM pham WHERE collection_id = ?`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("load phams: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, order int64
		if err := rows.Scan(&name, &order); err != nil {
			return nil, err
		}
		snap.Members[name] = nil
		snap.OrderAdded[name] = order
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	genes, err := q.QueryContext(ctx, `
		SELECT gene_id, pham_name FROM gene
		WHERE collection_id = ? AND pham_name != 0
		ORDER BY order_added`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("load pham members: %w", err)
	}
	defer genes.Close()
	for genes.Next() {
		var geneID string
		var name int64
		if err := genes.Scan(&geneID, &name); err != nil {
			return nil, err
		}
		snap.Members[name] = append(snap.Members[name], geneID)
	}
	if err := genes.Err(); err != nil {
		return nil, err
	}

	colors, err := q.QueryContext(ctx,
		`SELECT name, color FROM pham_color WHERE collection_id = ?`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("load pham colors: %w", err)
	}
	defer colors.Close()
	for colors.Next() {
		var name int64
		var color string
		if err := colors.Scan(&name, &color); err != nil {
			return nil, err
		}
		snap.Colors[name] = color
	}
	return snap, colors.Err()
}

func (s *Store) InsertPham(ctx context.Context, tx *sql.Tx, collectionID, name, orderAdded int64) error {
	_, err := s.q(tx).ExecContext(ctx,
		`INSERT INTO pham (collection_id, name, order_added) VALUES (?, ?, ?)`,
		collectionID, name, orderAdded)
	if err != nil {
		return fmt.Errorf("insert pham %d: %w", name, err)
	}
	return nil
}

// DeletePham removes a live pham row. The pham_color row stays behind
// on purpose.
func (s *Store) DeletePham(ctx context.Context, tx *sql.Tx, collectionID, name int64) error {
	_, err := s.q(tx).ExecContext(ctx,
		`DELETE FROM pham WHERE collection_id = ? AND name = ?`,
		collectionID, name)
	if err != nil {
		return fmt.Errorf("delete pham %d: %w", name, err)
	}
	return nil
}

func (s *Store) SetPhamColor(ctx context.Context, tx *sql.Tx, collectionID, name int64, color string) error {
	_, err := s.q(tx).ExecContext(ctx, `
		INSERT INTO pham_color (collection_id, name, color) VALUES (?, ?, ?)
		ON CONFLICT (collection_id, name) DO UPDATE SET color = excluded.color`,
		collectionID, name, color)
	if err != nil {
		return fmt.Errorf("set color of pham %d: %w", name, err)
	}
	return nil
}

// AppendHistory writes one lineage entry. The log is append-only; there
// is deliberately no update or delete counterpart.
func (s *Store) AppendHistory(ctx context.Context, tx *sql.Tx, collectionID int64, h *model.PhamHistory) error {
	if h.Action != model.ActionJoin && h.Action != model.ActionSplit {
		return model.Inconsistency("unknown history action %q", h.Action)
	}
	now := h.RecordedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	_, err := s.q(tx).ExecContext(ctx, `
		INSERT INTO pham_history (collection_id, child_name, parent_name, action, recorded_at)
		VALUES (?, ?, ?, ?, ?)`,
		collectionID, h.ChildName, h.ParentName, h.Action, now)
	if err != nil {
		return fmt.Errorf("append pham history: %w", err)
	}
	return nil
}

// ListHistory returns lineage entries in commit order.
func (s *Store) ListHistory(ctx context.Context, collectionID int64) ([]*model.PhamHistory, error) {
	rows, err := s.sql.QueryContext(ctx, `
		SELECT id, child_name, parent_name, action, recorded_at
		FROM pham_history WHERE collection_id = ? ORDER BY id`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list pham history: %w", err)
	}
	defer rows.Close()

	var out []*model.PhamHistory
	for rows.Next() {
		var h model.PhamHistory
		if err := rows.Scan(&h.ID, &h.ChildName, &h.ParentName, &h.Action, &h.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}
