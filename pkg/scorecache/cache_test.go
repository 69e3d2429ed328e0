package scorecache

import (
	"context"
	"errors"
	"testing"

	"github.com/yumyai/phamdb/pkg/db"
	"github.com/yumyai/phamdb/pkg/model"
)

func newTestCache(t *testing.T) (*Cache, *db.Store, int64) {
	t.Helper()
	store, err := db.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	c, err := store.CreateCollection(context.Background(), "test", false)
	if err != nil {
		t.Fatal(err)
	}
	cache, err := New(store, c.ID, 16)
	if err != nil {
		t.Fatal(err)
	}
	return cache, store, c.ID
}

func TestCanonicalPair(t *testing.T) {
	a, b := CanonicalPair("z", "a")
	if a != "a" || b != "z" {
		t.Errorf("CanonicalPair(z, a) = %s, %s", a, b)
	}
	a, b = CanonicalPair("a", "z")
	if a != "a" || b != "z" {
		t.Errorf("CanonicalPair(a, z) = %s, %s", a, b)
	}
}

func TestPutOnlyWhilePending(t *testing.T) {
	cache, _, _ := newTestCache(t)
	ctx := context.Background()

	err := cache.Put(ctx, "g1", "g2", model.KindIdentity, 42)
	if !errors.Is(err, model.ErrConflict) {
		t.Errorf("put without pending: got %v, want ErrConflict", err)
	}

	if err := cache.MarkPending(ctx, nil, "g1", "g2", model.KindIdentity); err != nil {
		t.Fatal(err)
	}
	if err := cache.Put(ctx, "g1", "g2", model.KindIdentity, 42); err != nil {
		t.Fatal(err)
	}

	// Reads are order-insensitive.
	ps, err := cache.Get(ctx, "g2", "g1", model.KindIdentity)
	if err != nil {
		t.Fatal(err)
	}
	if ps.State != model.PairComputed || ps.Value != 42 {
		t.Errorf("cached entry = %+v", ps)
	}

	err = cache.Put(ctx, "g1", "g2", model.KindIdentity, 99)
	if !errors.Is(err, model.ErrConflict) {
		t.Errorf("second put: got %v, want ErrConflict", err)
	}
}

func TestPutRejectsNegative(t *testing.T) {
	cache, _, _ := newTestCache(t)
	ctx := context.Background()

	if err := cache.MarkPending(ctx, nil, "g1", "g2", model.KindBitScore); err != nil {
		t.Fatal(err)
	}
	var ierr *model.InconsistencyError
	if err := cache.Put(ctx, "g1", "g2", model.KindBitScore, -1); !errors.As(err, &ierr) {
		t.Errorf("negative value: got %v, want InconsistencyError", err)
	}
}

func TestGetAbsent(t *testing.T) {
	cache, _, _ := newTestCache(t)

	ps, err := cache.Get(context.Background(), "x", "y", model.KindAlignment)
	if err != nil {
		t.Fatal(err)
	}
	if ps.State != model.PairAbsent {
		t.Errorf("state = %s, want absent", ps.State)
	}
}

func TestInvalidateRemovesAllPairsOfGene(t *testing.T) {
	cache, _, _ := newTestCache(t)
	ctx := context.Background()

	fill := func(a, b string) {
		t.Helper()
		for _, kind := range []model.ScoreKind{model.KindAlignment, model.KindBitScore, model.KindIdentity} {
			if err := cache.MarkPending(ctx, nil, a, b, kind); err != nil {
				t.Fatal(err)
			}
			if err := cache.Put(ctx, a, b, kind, 10); err != nil {
				t.Fatal(err)
			}
		}
	}
	fill("g1", "g2")
	fill("g2", "g3")
	fill("g1", "g3")

	// Warm the hot layer.
	if _, err := cache.Get(ctx, "g1", "g2", model.KindIdentity); err != nil {
		t.Fatal(err)
	}

	counterparts, err := cache.Invalidate(ctx, nil, "g2")
	if err != nil {
		t.Fatal(err)
	}
	if len(counterparts) != 2 {
		t.Fatalf("counterparts = %v, want g1 and g3", counterparts)
	}

	ps, err := cache.Get(ctx, "g1", "g2", model.KindIdentity)
	if err != nil {
		t.Fatal(err)
	}
	if ps.State != model.PairAbsent {
		t.Error("invalidated pair must be absent, hot layer included")
	}

	ps, err = cache.Get(ctx, "g1", "g3", model.KindIdentity)
	if err != nil {
		t.Fatal(err)
	}
	if ps.State != model.PairComputed {
		t.Error("untouched pair must survive invalidation")
	}
}

func TestMarkPendingEvictsHotEntry(t *testing.T) {
	cache, _, _ := newTestCache(t)
	ctx := context.Background()

	if err := cache.MarkPending(ctx, nil, "g1", "g2", model.KindIdentity); err != nil {
		t.Fatal(err)
	}
	if err := cache.Put(ctx, "g1", "g2", model.KindIdentity, 42); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Get(ctx, "g1", "g2", model.KindIdentity); err != nil {
		t.Fatal(err)
	}

	// Re-arming must not leave the old value readable.
	if err := cache.MarkPending(ctx, nil, "g1", "g2", model.KindIdentity); err != nil {
		t.Fatal(err)
	}
	ps, err := cache.Get(ctx, "g1", "g2", model.KindIdentity)
	if err != nil {
		t.Fatal(err)
	}
	if ps.State != model.PairPending {
		t.Errorf("state after re-arm = %s, want pending", ps.State)
	}
}
