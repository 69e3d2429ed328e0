// Package scorecache is the pairwise comparison cache. Entries are keyed
// by the canonical unordered gene pair plus a score kind and live in the
// score table, with a small LRU layer in front for the read-heavy
// clustering pass.
package scorecache

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/yumyai/phamdb/pkg/db"
	"github.com/yumyai/phamdb/pkg/model"
)

type Cache struct {
	store        *db.Store
	collectionID int64
	hot          *lru.Cache[string, float64]

	// One lock per in-flight key so writes for the same pair are
	// mutually exclusive inside the process as well as in the store.
	mu    sync.Mutex
	inUse map[string]*sync.Mutex
}

func New(store *db.Store, collectionID int64, hotEntries int) (*Cache, error) {
	hot, err := lru.New[string, float64](hotEntries)
	if err != nil {
		return nil, fmt.Errorf("score cache lru: %w", err)
	}
	return &Cache{
		store:        store,
		collectionID: collectionID,
		hot:          hot,
		inUse:        make(map[string]*sync.Mutex),
	}, nil
}

// CanonicalPair orders a gene pair into its cache key order.
func CanonicalPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

func cacheKey(a, b string, kind model.ScoreKind) string {
	return a + "|" + b + "|" + string(kind)
}

func (c *Cache) keyLock(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.inUse[key]
	if !ok {
		l = &sync.Mutex{}
		c.inUse[key] = l
	}
	return l
}

// Get returns the cached entry for the pair, or an absent PairScore.
// Concurrent reads are fine; only writes for the same key serialize.
func (c *Cache) Get(ctx context.Context, geneA, geneB string, kind model.ScoreKind) (*model.PairScore, error) {
	a, b := CanonicalPair(geneA, geneB)

	if v, ok := c.hot.Get(cacheKey(a, b, kind)); ok {
		return &model.PairScore{
			GeneA: a, GeneB: b, Kind: kind,
			State: model.PairComputed, Value: v,
		}, nil
	}

	ps, err := c.store.GetScore(ctx, c.collectionID, a, b, kind)
	if err != nil {
		return nil, err
	}
	if ps.State == model.PairComputed {
		c.hot.Add(cacheKey(a, b, kind), ps.Value)
	}
	return ps, nil
}

// MarkPending arms the entry for computation. A computed entry may be
// re-armed, which is how stale comparisons get recomputed.
func (c *Cache) MarkPending(ctx context.Context, tx *sql.Tx, geneA, geneB string, kind model.ScoreKind) error {
	a, b := CanonicalPair(geneA, geneB)
	c.hot.Remove(cacheKey(a, b, kind))
	return c.store.MarkScorePending(ctx, tx, c.collectionID, a, b, kind)
}

// Put commits a computed value. It fails with a conflict unless the
// entry is pending, so a write can never happen outside a scheduled
// computation and never races another writer on the same key.
func (c *Cache) Put(ctx context.Context, geneA, geneB string, kind model.ScoreKind, value float64) error {
	if value < 0 {
		return model.Inconsistency("negative score %v for %s/%s", value, geneA, geneB)
	}

	a, b := CanonicalPair(geneA, geneB)
	key := cacheKey(a, b, kind)

	l := c.keyLock(key)
	l.Lock()
	defer l.Unlock()

	if err := c.store.PutScore(ctx, nil, c.collectionID, a, b, kind, value); err != nil {
		return err
	}
	c.hot.Add(key, value)
	return nil
}

// Invalidate removes every entry referencing the gene and returns the
// counterpart gene ids whose comparisons just went stale. Must run in
// the same transaction that removes the gene, before the structural
// delete, so no entry ever references a gene that is gone.
func (c *Cache) Invalidate(ctx context.Context, tx *sql.Tx, geneID string) ([]string, error) {
	counterparts, err := c.store.DeleteScoresOfGene(ctx, tx, c.collectionID, geneID)
	if err != nil {
		return nil, err
	}

	// The hot layer may hold pairs for this gene under any counterpart;
	// dropping by known counterparts covers every cached key.
	for _, other := range counterparts {
		a, b := CanonicalPair(geneID, other)
		for _, kind := range model.ScoreKinds {
			c.hot.Remove(cacheKey(a, b, kind))
		}
	}
	return counterparts, nil
}

// PairComputed reports whether the pair holds a computed value for
// every score kind, so the scheduler can leave it alone.
func (c *Cache) PairComputed(ctx context.Context, tx *sql.Tx, geneA, geneB string) (bool, error) {
	a, b := CanonicalPair(geneA, geneB)
	return c.store.PairFullyComputed(ctx, tx, c.collectionID, a, b)
}

// NeighborsAbove returns genes connected to geneID by a computed score
// at or above the threshold for the kind. Used by the clustering engine
// to grow the affected frontier.
func (c *Cache) NeighborsAbove(ctx context.Context, tx *sql.Tx, geneID string, kind model.ScoreKind, threshold float64) ([]string, error) {
	return c.store.NeighborsAbove(ctx, tx, c.collectionID, geneID, kind, threshold)
}

// ComputedCount reports how many computed entries of the kind reference
// the gene. The tracker compares it against the live counterpart count
// to decide whether done is justified.
func (c *Cache) ComputedCount(ctx context.Context, tx *sql.Tx, geneID string, kind model.ScoreKind) (int, error) {
	return c.store.CountComputedScoresOfGene(ctx, tx, c.collectionID, geneID, kind)
}
