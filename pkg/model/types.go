package model

import "time"

// Gene is a single translated gene belonging to one phage.
type Gene struct {
	GeneID      string `json:"gene_id"`
	PhageID     string `json:"phage_id"`
	Name        string `json:"name"`
	Translation string `json:"translation"`
	OrderAdded  int64  `json:"order_added"`

	// Per-comparison status. Clustalw and Blast gate clustering,
	// CDD only gates the domain side pipeline.
	ClustalwStatus Status `json:"clustalw_status"`
	BlastStatus    Status `json:"blast_status"`
	CddStatus      Status `json:"cdd_status"`

	// 0 means unassigned (only observable inside a running pipeline).
	PhamName int64 `json:"pham_name"`
}

// Phage is one genome record owning an ordered set of genes.
type Phage struct {
	PhageID    string    `json:"phage_id"`
	Name       string    `json:"name"`
	Sequence   string    `json:"sequence"`
	ModifiedAt time.Time `json:"modified_at"`
}

// PhageRecord is a parsed genome as produced by the import collaborator.
type PhageRecord struct {
	PhageID  string       `json:"phage_id"`
	Name     string       `json:"name"`
	Sequence string       `json:"sequence"`
	Genes    []GeneRecord `json:"genes"`
}

type GeneRecord struct {
	GeneID      string `json:"gene_id"`
	Name        string `json:"name"`
	Translation string `json:"translation"`
}

// ScoreKind selects one of the cached pairwise score values.
type ScoreKind string

const (
	KindAlignment ScoreKind = "align"
	KindBitScore  ScoreKind = "bit"
	KindIdentity  ScoreKind = "identity"
)

// ScoreKinds lists every cached score kind. A pair is fully scored when
// all of them are computed.
var ScoreKinds = []ScoreKind{KindAlignment, KindBitScore, KindIdentity}

// PairState is the lifecycle of a single score-cache entry.
type PairState string

const (
	PairAbsent   PairState = "absent"
	PairPending  PairState = "pending"
	PairComputed PairState = "computed"
)

// PairScore is a cached comparison result for one unordered gene pair.
// Value is only meaningful when State is PairComputed; absence is distinct
// from a computed zero.
type PairScore struct {
	GeneA string
	GeneB string
	Kind  ScoreKind
	State PairState
	Value float64
}

// Pham is a cluster of genes believed to encode similar proteins.
// Names are monotonically increasing integers and never reused.
type Pham struct {
	Name       int64    `json:"name"`
	OrderAdded int64    `json:"order_added"`
	Color      string   `json:"color"`
	GeneIDs    []string `json:"gene_ids"`
}

// HistoryAction records how a pham identity changed across a rebuild.
type HistoryAction string

const (
	ActionJoin  HistoryAction = "join"
	ActionSplit HistoryAction = "split"
)

// PhamHistory is one append-only lineage entry. For a join the child is
// the surviving name and the parent the retired one; for a split the
// child is the newly created name and the parent the name it split from.
type PhamHistory struct {
	ID         int64         `json:"id"`
	ChildName  int64         `json:"child_name"`
	ParentName int64         `json:"parent_name"`
	Action     HistoryAction `json:"action"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// DomainHit is one conserved-domain search result for a gene.
type DomainHit struct {
	GeneID      string  `json:"gene_id"`
	HitID       string  `json:"hit_id"`
	Description string  `json:"description"`
	DomainID    string  `json:"domain_id"`
	Name        string  `json:"name"`
	QueryStart  int     `json:"query_start"`
	QueryEnd    int     `json:"query_end"`
	Expect      float64 `json:"expect"`
}

// ChangeSet is the requested mutation carried by a job.
type ChangeSet struct {
	AddPhages      []PhageRecord `json:"add_phages,omitempty"`
	DeletePhageIDs []string      `json:"delete_phage_ids,omitempty"`
}

func (c ChangeSet) Empty() bool {
	return len(c.AddPhages) == 0 && len(c.DeletePhageIDs) == 0
}

// Summary mirrors the per-collection counts shown on status pages.
type Summary struct {
	Phages     int `json:"phages"`
	Phams      int `json:"phams"`
	Orphams    int `json:"orphams"`
	DomainHits int `json:"domain_hits"`
}
