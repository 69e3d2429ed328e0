// Package external declares the collaborator contracts the core
// consumes: pairwise scoring, conserved-domain search and genome
// import. The core treats scoring as a pure, retryable function with
// no side effects on its own state.
package external

import (
	"context"

	"github.com/yumyai/phamdb/pkg/model"
)

// PairScores is the result of comparing two gene translations.
type PairScores struct {
	AlignmentScore float64
	BitScore       float64
	IdentityScore  float64
}

// Scorer compares two translated sequences. Failures wrap
// model.ErrScoringUnavailable when the backing binary is down, which
// the orchestrator retries with a bounded budget.
type Scorer interface {
	Score(ctx context.Context, seqA, seqB string) (PairScores, error)
}

// DomainSearcher finds conserved domains in one translated sequence.
type DomainSearcher interface {
	Search(ctx context.Context, geneID, seq string) ([]model.DomainHit, error)
}

// Importer parses raw genome data into phage records. Malformed input
// fails with *model.ValidationError and never reaches a job.
type Importer interface {
	Import(ctx context.Context, raw []byte) (*model.PhageRecord, error)
}
