// Package cluster derives pham membership from cached pairwise scores.
// Membership is the connected-components partition of the similarity
// graph, recomputed only for the affected frontier of an edit; genes
// whose edges are untouched keep their committed assignment.
package cluster

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/yumyai/phamdb/pkg/config"
	"github.com/yumyai/phamdb/pkg/db"
	"github.com/yumyai/phamdb/pkg/model"
)

// ScoreSource is the read side of the score cache the engine needs.
type ScoreSource interface {
	NeighborsAbove(ctx context.Context, tx *sql.Tx, geneID string, kind model.ScoreKind, threshold float64) ([]string, error)
}

// NameSequence draws the next unused pham name from the collection's
// name counter. Names are never reused.
type NameSequence func() (int64, error)

type Engine struct {
	thresholds config.ClusteringConfig
}

func NewEngine(thresholds config.ClusteringConfig) *Engine {
	return &Engine{thresholds: thresholds}
}

// Result is one atomic clustering commit, applied by the orchestrator
// in a single transaction.
type Result struct {
	// Assignments maps every re-evaluated gene to its pham name.
	// Genes outside the affected frontier do not appear.
	Assignments map[string]int64

	// NewPhams maps newly created names to their orderAdded sequence.
	NewPhams map[int64]int64

	// RetiredPhams are names whose pham row is deleted. Their colors
	// stay reserved.
	RetiredPhams []int64

	// NewColors holds colors for newly created names only.
	NewColors map[int64]string

	History []*model.PhamHistory

	// Deferred lists genes whose component could not be clustered
	// because a member is not done yet; their assignments are left
	// untouched rather than partially applied.
	Deferred []string
}

func (r *Result) Empty() bool {
	return len(r.Assignments) == 0 && len(r.NewPhams) == 0 &&
		len(r.RetiredPhams) == 0 && len(r.History) == 0
}

// Recompute builds the next clustering state for the affected frontier.
// snap is the committed snapshot, genes the full live gene set and
// frontier the genes whose statuses moved since the last commit.
func (e *Engine) Recompute(ctx context.Context, tx *sql.Tx, snap *db.PhamSnapshot, genes []*model.Gene, frontier []string, scores ScoreSource, nextName NameSequence) (*Result, error) {
	res := &Result{
		Assignments: make(map[string]int64),
		NewPhams:    make(map[int64]int64),
		NewColors:   make(map[int64]string),
	}

	byID := make(map[string]*model.Gene, len(genes))
	for _, g := range genes {
		byID[g.GeneID] = g
	}

	oldPhamOf := make(map[string]int64)
	for name, members := range snap.Members {
		for _, id := range members {
			oldPhamOf[id] = name
		}
	}

	// Old phams with no live members left are retired without
	// lineage; losing every gene is removal, not a split. This holds
	// even when nothing is left to re-cluster.
	for name, members := range snap.Members {
		alive := 0
		for _, id := range members {
			if _, ok := byID[id]; ok {
				alive++
			}
		}
		if alive == 0 {
			res.RetiredPhams = append(res.RetiredPhams, name)
		}
	}
	sort.Slice(res.RetiredPhams, func(i, j int) bool {
		return res.RetiredPhams[i] < res.RetiredPhams[j]
	})

	// Grow the affected set: every frontier gene, the full membership
	// of any pham a frontier gene belongs or newly connects to. Edges
	// between two non-frontier genes are unchanged since the last
	// commit, so one expansion step closes the subgraph.
	affected := make(map[string]bool)
	pullPham := func(name int64) {
		for _, id := range snap.Members[name] {
			if _, live := byID[id]; live {
				affected[id] = true
			}
		}
	}
	for _, id := range frontier {
		if _, live := byID[id]; !live {
			continue
		}
		affected[id] = true
		if name, ok := oldPhamOf[id]; ok {
			pullPham(name)
		}
		neighbors, err := e.neighbors(ctx, tx, scores, id)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			if _, live := byID[n]; !live {
				continue
			}
			affected[n] = true
			if name, ok := oldPhamOf[n]; ok {
				pullPham(name)
			}
		}
	}

	if len(affected) == 0 {
		return res, nil
	}

	comps, err := e.components(ctx, tx, scores, affected)
	if err != nil {
		return nil, err
	}

	deferred := e.deferComponents(comps, byID, oldPhamOf)
	var kept []*component
	for _, c := range comps {
		if deferred[c] {
			res.Deferred = append(res.Deferred, c.genes...)
		} else {
			kept = append(kept, c)
		}
	}
	sort.Strings(res.Deferred)

	if err := e.assignNames(snap, byID, oldPhamOf, kept, nextName, res); err != nil {
		return nil, err
	}
	return res, nil
}

// neighbors returns genes connected to id by any kind's threshold.
// A single fixed threshold per comparison kind, either passing makes
// the edge.
func (e *Engine) neighbors(ctx context.Context, tx *sql.Tx, scores ScoreSource, id string) ([]string, error) {
	byIdent, err := scores.NeighborsAbove(ctx, tx, id, model.KindIdentity, e.thresholds.IdentityThreshold)
	if err != nil {
		return nil, err
	}
	byBit, err := scores.NeighborsAbove(ctx, tx, id, model.KindBitScore, e.thresholds.BitScoreThreshold)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(byIdent)+len(byBit))
	var out []string
	for _, n := range append(byIdent, byBit...) {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out, nil
}

type component struct {
	genes []string
}

// components partitions the affected set by union-find over threshold
// edges, restricted to affected genes.
func (e *Engine) components(ctx context.Context, tx *sql.Tx, scores ScoreSource, affected map[string]bool) ([]*component, error) {
	parent := make(map[string]string, len(affected))
	var find func(string) string
	find = func(x string) string {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	ids := make([]string, 0, len(affected))
	for id := range affected {
		ids = append(ids, id)
		parent[id] = id
	}
	sort.Strings(ids)

	for _, id := range ids {
		neighbors, err := e.neighbors(ctx, tx, scores, id)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			if affected[n] {
				union(id, n)
			}
		}
	}

	byRoot := make(map[string]*component)
	for _, id := range ids {
		root := find(id)
		c, ok := byRoot[root]
		if !ok {
			c = &component{}
			byRoot[root] = c
		}
		c.genes = append(c.genes, id)
	}

	comps := make([]*component, 0, len(byRoot))
	for _, c := range byRoot {
		sort.Strings(c.genes)
		comps = append(comps, c)
	}
	sort.Slice(comps, func(i, j int) bool {
		return comps[i].genes[0] < comps[j].genes[0]
	})
	return comps, nil
}

// deferComponents marks components that cannot be committed because a
// member gene is not done. Deferral propagates through shared old
// phams so no pham is ever partially re-clustered.
func (e *Engine) deferComponents(comps []*component, byID map[string]*model.Gene, oldPhamOf map[string]int64) map[*component]bool {
	doneGene := func(id string) bool {
		g := byID[id]
		return g != nil &&
			g.ClustalwStatus == model.StatusDone &&
			g.BlastStatus == model.StatusDone
	}

	deferred := make(map[*component]bool)
	for _, c := range comps {
		for _, id := range c.genes {
			if !doneGene(id) {
				deferred[c] = true
				break
			}
		}
	}

	for changed := true; changed; {
		changed = false
		blockedPhams := make(map[int64]bool)
		for c := range deferred {
			for _, id := range c.genes {
				if name, ok := oldPhamOf[id]; ok {
					blockedPhams[name] = true
				}
			}
		}
		for _, c := range comps {
			if deferred[c] {
				continue
			}
			for _, id := range c.genes {
				if name, ok := oldPhamOf[id]; ok && blockedPhams[name] {
					deferred[c] = true
					changed = true
					break
				}
			}
		}
	}
	return deferred
}

// assignNames decides the surviving name for every component and emits
// the lineage record of every join and split.
func (e *Engine) assignNames(snap *db.PhamSnapshot, byID map[string]*model.Gene, oldPhamOf map[string]int64, comps []*component, nextName NameSequence, res *Result) error {
	// Components intersecting each touched old pham.
	compsOf := make(map[int64][]*component)
	ownersOf := make(map[*component][]int64)
	for _, c := range comps {
		seen := make(map[int64]bool)
		for _, id := range c.genes {
			if name, ok := oldPhamOf[id]; ok && !seen[name] {
				seen[name] = true
				compsOf[name] = append(compsOf[name], c)
				ownersOf[c] = append(ownersOf[c], name)
			}
		}
		sort.Slice(ownersOf[c], func(i, j int) bool {
			return ownersOf[c][i] < ownersOf[c][j]
		})
	}

	// The heir of an old pham is the component keeping its name: the
	// one holding most of its genes, then most genes overall, then the
	// earliest inserted gene.
	heirOf := make(map[int64]*component)
	for name, cs := range compsOf {
		best := cs[0]
		for _, c := range cs[1:] {
			if e.betterHeir(c, best, name, oldPhamOf, byID) {
				best = c
			}
		}
		heirOf[name] = best
	}

	inherits := make(map[*component][]int64)
	for name, c := range heirOf {
		inherits[c] = append(inherits[c], name)
	}

	for _, c := range comps {
		candidates := inherits[c]
		sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

		var name int64
		switch {
		case len(candidates) > 0:
			// Keep the numerically smallest inherited name. Every
			// other inherited name was merged in and retires.
			name = candidates[0]
			for _, retired := range candidates[1:] {
				res.RetiredPhams = append(res.RetiredPhams, retired)
				res.History = append(res.History, &model.PhamHistory{
					ChildName:  name,
					ParentName: retired,
					Action:     model.ActionJoin,
				})
			}
		default:
			fresh, err := nextName()
			if err != nil {
				return fmt.Errorf("draw pham name: %w", err)
			}
			name = fresh
			res.NewPhams[name] = fresh
			res.NewColors[name] = e.colorFor(c.genes, snap, res)
			// A fragment of an old pham that survives elsewhere is a
			// split child of that pham.
			for _, parent := range ownersOf[c] {
				res.History = append(res.History, &model.PhamHistory{
					ChildName:  name,
					ParentName: parent,
					Action:     model.ActionSplit,
				})
			}
		}

		for _, id := range c.genes {
			res.Assignments[id] = name
		}
	}

	sort.Slice(res.RetiredPhams, func(i, j int) bool {
		return res.RetiredPhams[i] < res.RetiredPhams[j]
	})
	sort.Slice(res.History, func(i, j int) bool {
		if res.History[i].ParentName != res.History[j].ParentName {
			return res.History[i].ParentName < res.History[j].ParentName
		}
		return res.History[i].ChildName < res.History[j].ChildName
	})
	return nil
}

func (e *Engine) betterHeir(c, best *component, name int64, oldPhamOf map[string]int64, byID map[string]*model.Gene) bool {
	fromPham := func(x *component) int {
		n := 0
		for _, id := range x.genes {
			if oldPhamOf[id] == name {
				n++
			}
		}
		return n
	}
	cn, bn := fromPham(c), fromPham(best)
	if cn != bn {
		return cn > bn
	}
	if len(c.genes) != len(best.genes) {
		return len(c.genes) > len(best.genes)
	}
	return minOrderAdded(c, byID) < minOrderAdded(best, byID)
}

func minOrderAdded(c *component, byID map[string]*model.Gene) int64 {
	min := int64(-1)
	for _, id := range c.genes {
		if g := byID[id]; g != nil {
			if min < 0 || g.OrderAdded < min {
				min = g.OrderAdded
			}
		}
	}
	return min
}

func (e *Engine) colorFor(genes []string, snap *db.PhamSnapshot, res *Result) string {
	used := make(map[string]bool, len(snap.Colors)+len(res.NewColors))
	for _, color := range snap.Colors {
		used[color] = true
	}
	for _, color := range res.NewColors {
		used[color] = true
	}
	return MakeColor(genes, used)
}
