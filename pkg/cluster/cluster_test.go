package cluster

import (
	"context"
	"database/sql"
	"testing"

	"github.com/yumyai/phamdb/pkg/config"
	"github.com/yumyai/phamdb/pkg/db"
	"github.com/yumyai/phamdb/pkg/model"
)

// fakeScores is an in-memory ScoreSource with symmetric pair values.
type fakeScores struct {
	pairs map[model.ScoreKind]map[[2]string]float64
}

func newFakeScores() *fakeScores {
	return &fakeScores{pairs: map[model.ScoreKind]map[[2]string]float64{
		model.KindIdentity: {},
		model.KindBitScore: {},
	}}
}

func (f *fakeScores) set(a, b string, kind model.ScoreKind, v float64) {
	if b < a {
		a, b = b, a
	}
	f.pairs[kind][[2]string{a, b}] = v
}

// connect makes a clustering edge through the identity threshold.
func (f *fakeScores) connect(a, b string) {
	f.set(a, b, model.KindIdentity, 99)
}

func (f *fakeScores) NeighborsAbove(ctx context.Context, tx *sql.Tx, geneID string, kind model.ScoreKind, threshold float64) ([]string, error) {
	var out []string
	for pair, v := range f.pairs[kind] {
		if v < threshold {
			continue
		}
		if pair[0] == geneID {
			out = append(out, pair[1])
		} else if pair[1] == geneID {
			out = append(out, pair[0])
		}
	}
	return out, nil
}

func testEngine() *Engine {
	return NewEngine(config.ClusteringConfig{
		IdentityThreshold: 32.5,
		BitScoreThreshold: 50,
	})
}

func nameSeq(start int64) NameSequence {
	next := start
	return func() (int64, error) {
		v := next
		next++
		return v, nil
	}
}

func doneGene(id string, order int64) *model.Gene {
	return &model.Gene{
		GeneID: id, PhageID: "p", Name: id, Translation: "M",
		OrderAdded:     order,
		ClustalwStatus: model.StatusDone,
		BlastStatus:    model.StatusDone,
		CddStatus:      model.StatusAvail,
	}
}

func emptySnapshot() *db.PhamSnapshot {
	return &db.PhamSnapshot{
		Members:    map[int64][]string{},
		OrderAdded: map[int64]int64{},
		Colors:     map[int64]string{},
	}
}

func TestInitialBuild(t *testing.T) {
	scores := newFakeScores()
	scores.connect("a1", "a2")

	genes := []*model.Gene{doneGene("a1", 1), doneGene("a2", 2), doneGene("b1", 3)}
	res, err := testEngine().Recompute(context.Background(), nil, emptySnapshot(),
		genes, []string{"a1", "a2", "b1"}, scores, nameSeq(1))
	if err != nil {
		t.Fatal(err)
	}

	if len(res.NewPhams) != 2 {
		t.Fatalf("new phams = %v, want 2", res.NewPhams)
	}
	if res.Assignments["a1"] != res.Assignments["a2"] {
		t.Error("connected genes must share a pham")
	}
	if res.Assignments["a1"] == res.Assignments["b1"] {
		t.Error("unconnected gene must not join the pair")
	}
	if len(res.RetiredPhams) != 0 || len(res.History) != 0 {
		t.Errorf("initial build should have no lineage: %+v", res)
	}

	// The orpham is white, the pair pham is not.
	if c := res.NewColors[res.Assignments["b1"]]; c != "#FFFFFF" {
		t.Errorf("orpham color = %s, want white", c)
	}
	if c := res.NewColors[res.Assignments["a1"]]; c == "#FFFFFF" {
		t.Error("multi-gene pham must not be white")
	}
}

func TestEdgeThroughBitScoreAlone(t *testing.T) {
	scores := newFakeScores()
	scores.set("a", "b", model.KindIdentity, 10) // below threshold
	scores.set("a", "b", model.KindBitScore, 60) // above threshold

	genes := []*model.Gene{doneGene("a", 1), doneGene("b", 2)}
	res, err := testEngine().Recompute(context.Background(), nil, emptySnapshot(),
		genes, []string{"a", "b"}, scores, nameSeq(1))
	if err != nil {
		t.Fatal(err)
	}
	if res.Assignments["a"] != res.Assignments["b"] {
		t.Error("either threshold passing must make the edge")
	}
}

func TestEmptyFrontierIsNoop(t *testing.T) {
	scores := newFakeScores()
	scores.connect("a", "b")

	snap := &db.PhamSnapshot{
		Members:    map[int64][]string{3: {"a", "b"}},
		OrderAdded: map[int64]int64{3: 1},
		Colors:     map[int64]string{3: "#112233"},
	}
	genes := []*model.Gene{doneGene("a", 1), doneGene("b", 2)}

	res, err := testEngine().Recompute(context.Background(), nil, snap,
		genes, nil, scores, nameSeq(10))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Empty() {
		t.Errorf("no frontier should mean no change: %+v", res)
	}
}

func TestJoinKeepsSmallerName(t *testing.T) {
	scores := newFakeScores()
	scores.connect("a", "c")
	scores.connect("b", "c")

	snap := &db.PhamSnapshot{
		Members:    map[int64][]string{3: {"a"}, 4: {"b"}},
		OrderAdded: map[int64]int64{3: 1, 4: 2},
		Colors:     map[int64]string{3: "#FFFFFF", 4: "#FFFFFF"},
	}
	genes := []*model.Gene{doneGene("a", 1), doneGene("b", 2), doneGene("c", 3)}

	// c is new and bridges the two phams.
	res, err := testEngine().Recompute(context.Background(), nil, snap,
		genes, []string{"c"}, scores, nameSeq(5))
	if err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"a", "b", "c"} {
		if res.Assignments[id] != 3 {
			t.Errorf("gene %s assigned %d, want surviving name 3", id, res.Assignments[id])
		}
	}
	if len(res.RetiredPhams) != 1 || res.RetiredPhams[0] != 4 {
		t.Errorf("retired = %v, want [4]", res.RetiredPhams)
	}
	if len(res.History) != 1 {
		t.Fatalf("history = %+v, want one join", res.History)
	}
	h := res.History[0]
	if h.Action != model.ActionJoin || h.ChildName != 3 || h.ParentName != 4 {
		t.Errorf("join record = %+v", h)
	}
	if len(res.NewPhams) != 0 {
		t.Errorf("a join must not mint names: %v", res.NewPhams)
	}
}

func TestSplitKeepsNameOnLargestFragment(t *testing.T) {
	// Pham 5 held a-b-c in a chain through b. Removing b cuts it into
	// {a} and {c}; the heir is decided by size, then insertion order.
	scores := newFakeScores()

	snap := &db.PhamSnapshot{
		Members:    map[int64][]string{5: {"a", "b", "c"}},
		OrderAdded: map[int64]int64{5: 1},
		Colors:     map[int64]string{5: "#112233"},
	}
	// b is gone from the live gene set.
	genes := []*model.Gene{doneGene("a", 1), doneGene("c", 3)}

	res, err := testEngine().Recompute(context.Background(), nil, snap,
		genes, []string{"a", "c"}, scores, nameSeq(6))
	if err != nil {
		t.Fatal(err)
	}

	// Equal fragment sizes: earliest inserted gene wins the name.
	if res.Assignments["a"] != 5 {
		t.Errorf("a assigned %d, want to keep 5", res.Assignments["a"])
	}
	if res.Assignments["c"] != 6 {
		t.Errorf("c assigned %d, want fresh name 6", res.Assignments["c"])
	}
	if len(res.History) != 1 {
		t.Fatalf("history = %+v, want one split", res.History)
	}
	h := res.History[0]
	if h.Action != model.ActionSplit || h.ChildName != 6 || h.ParentName != 5 {
		t.Errorf("split record = %+v", h)
	}
	// 5 survives on the heir; nothing is retired.
	if len(res.RetiredPhams) != 0 {
		t.Errorf("retired = %v, want none", res.RetiredPhams)
	}
}

func TestLargerFragmentWinsName(t *testing.T) {
	// Pham 8 was a-b-c-d chained through c. Removing c leaves {a,b}
	// and {d}: the two-gene fragment keeps the name.
	scores := newFakeScores()
	scores.connect("a", "b")

	snap := &db.PhamSnapshot{
		Members:    map[int64][]string{8: {"a", "b", "c", "d"}},
		OrderAdded: map[int64]int64{8: 1},
		Colors:     map[int64]string{8: "#445566"},
	}
	genes := []*model.Gene{doneGene("a", 1), doneGene("b", 2), doneGene("d", 4)}

	res, err := testEngine().Recompute(context.Background(), nil, snap,
		genes, []string{"a", "b", "d"}, scores, nameSeq(9))
	if err != nil {
		t.Fatal(err)
	}
	if res.Assignments["a"] != 8 || res.Assignments["b"] != 8 {
		t.Errorf("large fragment assignments = %v, want 8", res.Assignments)
	}
	if res.Assignments["d"] == 8 {
		t.Error("small fragment must not keep the name")
	}
	if c := res.NewColors[res.Assignments["d"]]; c != "#FFFFFF" {
		t.Errorf("single-gene fragment color = %s, want white", c)
	}
}

func TestRemovedPhamRetiresWithoutLineage(t *testing.T) {
	scores := newFakeScores()

	snap := &db.PhamSnapshot{
		Members:    map[int64][]string{7: {"x", "y"}},
		OrderAdded: map[int64]int64{7: 1},
		Colors:     map[int64]string{7: "#667788"},
	}
	// Both members are gone; nothing is left to re-cluster.
	res, err := testEngine().Recompute(context.Background(), nil, snap,
		nil, nil, scores, nameSeq(1))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.RetiredPhams) != 1 || res.RetiredPhams[0] != 7 {
		t.Errorf("retired = %v, want [7]", res.RetiredPhams)
	}
	if len(res.History) != 0 {
		t.Errorf("losing every member is not a split: %+v", res.History)
	}
}

func TestDeferralBlocksWholeOldPham(t *testing.T) {
	// g2 is still pending; its component and every component sharing
	// pham 3 must both be deferred, so 3 is never partially moved.
	scores := newFakeScores()
	scores.connect("g1", "g2")

	snap := &db.PhamSnapshot{
		Members:    map[int64][]string{3: {"g1", "g3"}},
		OrderAdded: map[int64]int64{3: 1},
		Colors:     map[int64]string{3: "#112233"},
	}
	pending := doneGene("g2", 2)
	pending.BlastStatus = model.StatusPending
	genes := []*model.Gene{doneGene("g1", 1), pending, doneGene("g3", 3)}

	res, err := testEngine().Recompute(context.Background(), nil, snap,
		genes, []string{"g2"}, scores, nameSeq(10))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Assignments) != 0 {
		t.Errorf("deferred run must not assign: %v", res.Assignments)
	}
	if len(res.Deferred) == 0 {
		t.Error("expected deferred genes")
	}
	for _, id := range []string{"g1", "g2"} {
		found := false
		for _, d := range res.Deferred {
			if d == id {
				found = true
			}
		}
		if !found {
			t.Errorf("gene %s should be deferred", id)
		}
	}
}

func TestRecomputeDeterministic(t *testing.T) {
	build := func() *Result {
		scores := newFakeScores()
		scores.connect("a1", "a2")
		scores.connect("a2", "a3")
		genes := []*model.Gene{
			doneGene("a1", 1), doneGene("a2", 2),
			doneGene("a3", 3), doneGene("b1", 4),
		}
		res, err := testEngine().Recompute(context.Background(), nil, emptySnapshot(),
			genes, []string{"a1", "a2", "a3", "b1"}, scores, nameSeq(1))
		if err != nil {
			t.Fatal(err)
		}
		return res
	}

	first, second := build(), build()
	for id, name := range first.Assignments {
		if second.Assignments[id] != name {
			t.Errorf("gene %s: %d vs %d across runs", id, name, second.Assignments[id])
		}
	}
	for name, color := range first.NewColors {
		if second.NewColors[name] != color {
			t.Errorf("pham %d color differs across runs", name)
		}
	}
}
