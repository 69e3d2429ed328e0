// Package mutator applies structural edits to one collection's gene
// set. Cascades are spelled out here instead of leaning on storage
// triggers, so the invalidation order is guaranteed: score-cache
// entries go before any structural delete, and counterpart genes only
// go stale once no cache entry references a removed gene.
package mutator

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/yumyai/phamdb/logger"
	"github.com/yumyai/phamdb/pkg/db"
	"github.com/yumyai/phamdb/pkg/model"
	"github.com/yumyai/phamdb/pkg/scorecache"
	"github.com/yumyai/phamdb/pkg/tracker"
	"go.uber.org/zap"
)

type Mutator struct {
	store        *db.Store
	cache        *scorecache.Cache
	tracker      *tracker.Tracker
	collectionID int64
}

func New(store *db.Store, cache *scorecache.Cache, tr *tracker.Tracker, collectionID int64) *Mutator {
	return &Mutator{
		store:        store,
		cache:        cache,
		tracker:      tr,
		collectionID: collectionID,
	}
}

// AddPhage inserts a parsed phage and its genes. New genes start avail
// on every comparison and own no cache entries yet; nothing else in the
// collection is touched. Returns the inserted gene ids.
func (m *Mutator) AddPhage(ctx context.Context, tx *sql.Tx, record *model.PhageRecord) ([]string, error) {
	if record.PhageID == "" {
		return nil, &model.ValidationError{Message: "phage record has no id"}
	}

	exists, err := m.store.PhageExists(ctx, tx, m.collectionID, record.PhageID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, &model.ValidationError{
			Message: fmt.Sprintf("phage %s already exists", record.PhageID),
		}
	}

	err = m.store.InsertPhage(ctx, tx, m.collectionID, &model.Phage{
		PhageID:  record.PhageID,
		Name:     record.Name,
		Sequence: record.Sequence,
	})
	if err != nil {
		return nil, err
	}

	geneIDs := make([]string, 0, len(record.Genes))
	for _, g := range record.Genes {
		order, err := m.store.NextCounter(ctx, tx, m.collectionID, "gene_order")
		if err != nil {
			return nil, err
		}
		gene := &model.Gene{
			GeneID:         g.GeneID,
			PhageID:        record.PhageID,
			Name:           g.Name,
			Translation:    g.Translation,
			OrderAdded:     order,
			ClustalwStatus: model.StatusAvail,
			BlastStatus:    model.StatusAvail,
			CddStatus:      model.StatusAvail,
		}
		if err := m.store.InsertGene(ctx, tx, m.collectionID, gene); err != nil {
			return nil, err
		}
		geneIDs = append(geneIDs, g.GeneID)
	}

	logger.Info("Added phage",
		zap.Int64("collection", m.collectionID),
		zap.String("phage", record.PhageID),
		zap.Int("genes", len(geneIDs)))
	return geneIDs, nil
}

// RemovePhage deletes a phage and everything hanging off it, in the
// order the tracker invariant requires:
//
//  1. score-cache invalidate per gene (collecting counterparts)
//  2. domain hits
//  3. gene rows (and with them pham membership)
//  4. phage row
//  5. counterpart genes marked stale
//
// Returns the removed gene ids and the counterpart gene ids that went
// stale; both feed the clustering frontier.
func (m *Mutator) RemovePhage(ctx context.Context, tx *sql.Tx, phageID string) (removed, stale []string, err error) {
	genes, err := m.store.ListGenesOfPhage(ctx, tx, m.collectionID, phageID)
	if err != nil {
		return nil, nil, err
	}
	if len(genes) == 0 {
		exists, err := m.store.PhageExists(ctx, tx, m.collectionID, phageID)
		if err != nil {
			return nil, nil, err
		}
		if !exists {
			return nil, nil, &model.ValidationError{
				Message: fmt.Sprintf("phage %s does not exist", phageID),
			}
		}
	}

	removedSet := make(map[string]bool, len(genes))
	for _, g := range genes {
		removedSet[g.GeneID] = true
	}

	staleSet := make(map[string]bool)
	for _, g := range genes {
		counterparts, err := m.cache.Invalidate(ctx, tx, g.GeneID)
		if err != nil {
			return nil, nil, err
		}
		for _, other := range counterparts {
			if !removedSet[other] {
				staleSet[other] = true
			}
		}
		if err := m.store.DeleteDomainHitsOfGene(ctx, tx, m.collectionID, g.GeneID); err != nil {
			return nil, nil, err
		}
	}

	if err := m.store.DeleteGenesOfPhage(ctx, tx, m.collectionID, phageID); err != nil {
		return nil, nil, err
	}
	if err := m.store.DeletePhage(ctx, tx, m.collectionID, phageID); err != nil {
		return nil, nil, err
	}

	// Only after no cache entry references the removed genes do the
	// survivors go stale.
	for other := range staleSet {
		err := m.tracker.MarkStale(ctx, tx, other, model.CompClustalw, model.CompBlast)
		if err != nil {
			return nil, nil, err
		}
		stale = append(stale, other)
	}

	for _, g := range genes {
		removed = append(removed, g.GeneID)
	}
	sort.Strings(stale)

	logger.Info("Removed phage",
		zap.Int64("collection", m.collectionID),
		zap.String("phage", phageID),
		zap.Int("genes", len(removed)),
		zap.Int("stale_neighbors", len(stale)))
	return removed, stale, nil
}
