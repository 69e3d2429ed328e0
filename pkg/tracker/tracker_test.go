package tracker

import (
	"context"
	"errors"
	"testing"

	"github.com/yumyai/phamdb/pkg/db"
	"github.com/yumyai/phamdb/pkg/model"
)

func newTestTracker(t *testing.T) (*Tracker, *db.Store, int64) {
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
	return New(store, c.ID), store, c.ID
}

func addGene(t *testing.T, store *db.Store, collectionID int64, geneID string, status model.Status) {
	t.Helper()
	err := store.InsertGene(context.Background(), nil, collectionID, &model.Gene{
		GeneID: geneID, PhageID: "p", Name: geneID, Translation: "M",
		OrderAdded:     1,
		ClustalwStatus: status,
		BlastStatus:    status,
		CddStatus:      status,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func clustalwStatus(t *testing.T, store *db.Store, collectionID int64, geneID string) model.Status {
	t.Helper()
	g, err := store.GetGene(context.Background(), nil, collectionID, geneID)
	if err != nil {
		t.Fatal(err)
	}
	if g == nil {
		t.Fatalf("gene %s missing", geneID)
	}
	return g.ClustalwStatus
}

func TestScheduleCompleteCycle(t *testing.T) {
	tr, store, cid := newTestTracker(t)
	ctx := context.Background()
	addGene(t, store, cid, "g1", model.StatusAvail)

	if err := tr.Schedule(ctx, nil, "g1", model.CompClustalw); err != nil {
		t.Fatal(err)
	}
	if st := clustalwStatus(t, store, cid, "g1"); st != model.StatusPending {
		t.Errorf("after schedule: %s", st)
	}

	// Scheduling a pending gene is an illegal move.
	if err := tr.Schedule(ctx, nil, "g1", model.CompClustalw); err == nil {
		t.Error("double schedule must fail")
	}

	if err := tr.Complete(ctx, nil, "g1", model.CompClustalw); err != nil {
		t.Fatal(err)
	}
	if st := clustalwStatus(t, store, cid, "g1"); st != model.StatusDone {
		t.Errorf("after complete: %s", st)
	}

	// done genes are not schedulable.
	if err := tr.Schedule(ctx, nil, "g1", model.CompClustalw); err == nil {
		t.Error("scheduling a done gene must fail")
	}
}

func TestFailReturnsToAvail(t *testing.T) {
	tr, store, cid := newTestTracker(t)
	ctx := context.Background()
	addGene(t, store, cid, "g1", model.StatusAvail)

	if err := tr.Schedule(ctx, nil, "g1", model.CompBlast); err != nil {
		t.Fatal(err)
	}
	if err := tr.Fail(ctx, nil, "g1", model.CompBlast); err != nil {
		t.Fatal(err)
	}
	g, _ := store.GetGene(ctx, nil, cid, "g1")
	if g.BlastStatus != model.StatusAvail {
		t.Errorf("after fail: %s", g.BlastStatus)
	}
	// Retry is possible.
	if err := tr.Schedule(ctx, nil, "g1", model.CompBlast); err != nil {
		t.Errorf("re-schedule after fail: %v", err)
	}
}

func TestMarkStale(t *testing.T) {
	tr, store, cid := newTestTracker(t)
	ctx := context.Background()
	addGene(t, store, cid, "done", model.StatusDone)
	addGene(t, store, cid, "avail", model.StatusAvail)
	addGene(t, store, cid, "pending", model.StatusPending)

	for _, id := range []string{"done", "avail", "pending"} {
		if err := tr.MarkStale(ctx, nil, id, model.CompClustalw, model.CompBlast); err != nil {
			t.Fatal(err)
		}
	}

	// Only done comparisons go stale; the rest keep their status.
	if st := clustalwStatus(t, store, cid, "done"); st != model.StatusStale {
		t.Errorf("done gene: %s, want stale", st)
	}
	if st := clustalwStatus(t, store, cid, "avail"); st != model.StatusAvail {
		t.Errorf("avail gene: %s, want avail", st)
	}
	if st := clustalwStatus(t, store, cid, "pending"); st != model.StatusPending {
		t.Errorf("pending gene: %s, want pending", st)
	}

	// A counterpart removed in the same cascade is not an error.
	if err := tr.MarkStale(ctx, nil, "ghost", model.CompClustalw); err != nil {
		t.Errorf("stale on missing gene: %v", err)
	}
}

func TestStaleIsSchedulable(t *testing.T) {
	tr, store, cid := newTestTracker(t)
	ctx := context.Background()
	addGene(t, store, cid, "g1", model.StatusStale)

	genes, err := tr.NeedingCompute(ctx, nil, model.CompClustalw)
	if err != nil {
		t.Fatal(err)
	}
	if len(genes) != 1 || genes[0].GeneID != "g1" {
		t.Fatalf("work list = %+v", genes)
	}

	if err := tr.Schedule(ctx, nil, "g1", model.CompClustalw); err != nil {
		t.Errorf("stale gene must be schedulable: %v", err)
	}
}

func TestVerifyDone(t *testing.T) {
	tr, store, cid := newTestTracker(t)
	ctx := context.Background()
	addGene(t, store, cid, "g1", model.StatusPending)
	addGene(t, store, cid, "g2", model.StatusPending)
	addGene(t, store, cid, "g3", model.StatusPending)

	// Two live counterparts but only one computed entry.
	var ierr *model.InconsistencyError
	err := tr.VerifyDone(ctx, nil, "g1", model.KindIdentity, 1)
	if !errors.As(err, &ierr) {
		t.Errorf("short count: got %v, want InconsistencyError", err)
	}

	if err := tr.VerifyDone(ctx, nil, "g1", model.KindIdentity, 2); err != nil {
		t.Errorf("full count rejected: %v", err)
	}
}

func TestTransitionMissingGene(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	var ierr *model.InconsistencyError
	err := tr.Schedule(context.Background(), nil, "ghost", model.CompClustalw)
	if !errors.As(err, &ierr) {
		t.Errorf("got %v, want InconsistencyError", err)
	}
}
