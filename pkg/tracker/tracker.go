// Package tracker keeps the per-gene comparison status machine in step
// with the score cache: avail -> pending -> done, with done -> stale on
// invalidating events. stale is a consistency hint, not a hard block;
// the scheduler treats it exactly like avail.
package tracker

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/yumyai/phamdb/pkg/db"
	"github.com/yumyai/phamdb/pkg/model"
)

type Tracker struct {
	store        *db.Store
	collectionID int64
}

func New(store *db.Store, collectionID int64) *Tracker {
	return &Tracker{store: store, collectionID: collectionID}
}

func geneStatus(g *model.Gene, kind model.ComparisonKind) (model.Status, error) {
	switch kind {
	case model.CompClustalw:
		return g.ClustalwStatus, nil
	case model.CompBlast:
		return g.BlastStatus, nil
	case model.CompCDD:
		return g.CddStatus, nil
	default:
		return "", fmt.Errorf("unknown comparison kind %q", kind)
	}
}

func (t *Tracker) transition(ctx context.Context, tx *sql.Tx, geneID string, kind model.ComparisonKind, to model.Status) error {
	g, err := t.store.GetGene(ctx, tx, t.collectionID, geneID)
	if err != nil {
		return err
	}
	if g == nil {
		return model.Inconsistency("status transition for missing gene %s", geneID)
	}

	from, err := geneStatus(g, kind)
	if err != nil {
		return err
	}
	if err := model.ValidateTransition(from, to); err != nil {
		return fmt.Errorf("gene %s %s: %w", geneID, kind, err)
	}
	return t.store.SetGeneStatus(ctx, tx, t.collectionID, geneID, kind, to)
}

// Schedule moves a comparison to pending. Only avail and stale entries
// are schedulable; done entries stay done.
func (t *Tracker) Schedule(ctx context.Context, tx *sql.Tx, geneID string, kind model.ComparisonKind) error {
	return t.transition(ctx, tx, geneID, kind, model.StatusPending)
}

// Complete records a successful computation: pending -> done.
func (t *Tracker) Complete(ctx context.Context, tx *sql.Tx, geneID string, kind model.ComparisonKind) error {
	return t.transition(ctx, tx, geneID, kind, model.StatusDone)
}

// Fail returns a failed computation to avail so a later job can retry.
// The failure itself is surfaced on the job, not here.
func (t *Tracker) Fail(ctx context.Context, tx *sql.Tx, geneID string, kind model.ComparisonKind) error {
	return t.transition(ctx, tx, geneID, kind, model.StatusAvail)
}

// MarkStale flags a gene's comparison after one of its counterparts was
// removed. Comparisons that were never done have nothing to invalidate
// and keep their current status.
func (t *Tracker) MarkStale(ctx context.Context, tx *sql.Tx, geneID string, kinds ...model.ComparisonKind) error {
	g, err := t.store.GetGene(ctx, tx, t.collectionID, geneID)
	if err != nil {
		return err
	}
	if g == nil {
		// The counterpart itself is being removed in the same cascade.
		return nil
	}

	for _, kind := range kinds {
		from, err := geneStatus(g, kind)
		if err != nil {
			return err
		}
		if from != model.StatusDone {
			continue
		}
		if err := t.store.SetGeneStatus(ctx, tx, t.collectionID, geneID, kind, model.StatusStale); err != nil {
			return err
		}
	}
	return nil
}

// NeedingCompute lists genes whose status for the kind is avail or
// stale. This is the scheduler's work list.
func (t *Tracker) NeedingCompute(ctx context.Context, tx *sql.Tx, kind model.ComparisonKind) ([]*model.Gene, error) {
	genes, err := t.store.ListGenes(ctx, tx, t.collectionID)
	if err != nil {
		return nil, err
	}

	var out []*model.Gene
	for _, g := range genes {
		st, err := geneStatus(g, kind)
		if err != nil {
			return nil, err
		}
		if st.NeedsCompute() {
			out = append(out, g)
		}
	}
	return out, nil
}

// VerifyDone checks the done invariant for one gene and kind: a
// comparison is done iff the cache holds a computed value for every
// required counterpart. scoreKind maps the comparison to the cache rows
// that witness it.
func (t *Tracker) VerifyDone(ctx context.Context, tx *sql.Tx, geneID string, scoreKind model.ScoreKind, computedCount int) error {
	genes, err := t.store.ListGenes(ctx, tx, t.collectionID)
	if err != nil {
		return err
	}

	// Every other live gene is a required counterpart.
	required := len(genes) - 1
	if required < 0 {
		required = 0
	}
	if computedCount < required {
		return model.Inconsistency(
			"gene %s marked done with %d/%d computed %s entries",
			geneID, computedCount, required, scoreKind)
	}
	return nil
}
