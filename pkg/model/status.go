package model

import "fmt"

// Status tracks one (gene, comparison-kind) pair through the recompute
// cycle. The scheduler treats stale the same as avail; stale only exists
// so a previously displayed result can keep being shown until replaced.
type Status string

const (
	// StatusAvail: needs full computation on the next pipeline run.
	StatusAvail Status = "avail"

	// StatusPending: scheduled, a worker owns the computation.
	StatusPending Status = "pending"

	// StatusStale: was done, then a counterpart gene vanished.
	StatusStale Status = "stale"

	// StatusDone: every required comparison has a cache entry.
	StatusDone Status = "done"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusAvail, StatusPending, StatusStale, StatusDone:
		return true
	default:
		return false
	}
}

// NeedsCompute reports whether the scheduler must (re)compute this entry.
func (s Status) NeedsCompute() bool {
	return s == StatusAvail || s == StatusStale
}

// CanTransition reports whether from -> to is a legal status move.
//
//	avail -> pending          scheduled by the orchestrator
//	pending -> done           computation committed
//	pending -> avail          computation failed, retry later
//	done -> stale             a counterpart gene was removed
//	stale -> pending          scheduled for recompute
//	stale -> done             recompute found nothing missing
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	switch from {
	case StatusAvail:
		return to == StatusPending
	case StatusPending:
		return to == StatusDone || to == StatusAvail
	case StatusDone:
		return to == StatusStale
	case StatusStale:
		return to == StatusPending || to == StatusDone
	default:
		return false
	}
}

// ValidateTransition is CanTransition with a usable error message.
func ValidateTransition(from, to Status) error {
	if !from.IsValid() {
		return fmt.Errorf("invalid source status: %q", from)
	}
	if !to.IsValid() {
		return fmt.Errorf("invalid target status: %q", to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid status transition: %s -> %s", from, to)
	}
	return nil
}

// ComparisonKind names one of the per-gene status columns.
type ComparisonKind string

const (
	CompClustalw ComparisonKind = "clustalw"
	CompBlast    ComparisonKind = "blast"
	CompCDD      ComparisonKind = "cdd"
)

// ClusteringKinds are the comparisons that gate pham clustering. CDD is
// deliberately excluded: the domain pipeline never blocks clustering.
var ClusteringKinds = []ComparisonKind{CompClustalw, CompBlast}
