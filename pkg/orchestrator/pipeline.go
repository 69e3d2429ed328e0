package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/yumyai/phamdb/logger"
	"github.com/yumyai/phamdb/pkg/external"
	"github.com/yumyai/phamdb/pkg/model"
	"go.uber.org/zap"
)

// scoringPair is one unit of work for the scoring pool.
type scoringPair struct {
	geneA, geneB string
	seqA, seqB   string
}

// runPipeline executes one job end to end:
//
//	mutator edits -> tracker scheduling -> scoring -> clustering commit
//	-> optional conserved-domain search
//
// Any error before the clustering commit leaves the collection in the
// last committed state.
func (o *Orchestrator) runPipeline(ctx context.Context, q *collectionQueue, job *model.Job) error {
	collection, err := o.store.GetCollection(ctx, q.collectionID)
	if err != nil {
		return err
	}
	if collection == nil {
		return model.Inconsistency("job %d references missing collection %d",
			job.ID, q.collectionID)
	}

	// Phase 1: structural edits, one transaction.
	if err := o.mutate(ctx, q, job); err != nil {
		return err
	}

	// Phase 2: schedule every comparison that needs (re)computation.
	frontier, pairs, err := o.schedule(ctx, q, job)
	if err != nil {
		return err
	}

	// Phase 3: scoring through the bounded worker pool.
	if len(pairs) > 0 {
		if err := o.scorePairs(ctx, q, job, frontier, pairs); err != nil {
			return err
		}
	}

	// Phase 4: clustering, committed atomically.
	if err := o.commitClustering(ctx, q, job, frontier); err != nil {
		return err
	}

	// Phase 5: conserved-domain side pipeline. Never blocks or fails
	// clustering; it only affects domain hits.
	if collection.CddSearch {
		o.searchDomains(ctx, q, job)
	}
	return nil
}

// mutate applies the change set. Deletes and adds share one
// transaction so a failing record rolls the whole edit back.
// Job messages go through the same connection, so progress is
// reported between transactions, never inside one.
func (o *Orchestrator) mutate(ctx context.Context, q *collectionQueue, job *model.Job) error {
	if n := len(job.Changes.DeletePhageIDs); n > 0 {
		o.progress(ctx, job.ID, "deleting organisms", 0, n)
	}
	if n := len(job.Changes.AddPhages); n > 0 {
		o.progress(ctx, job.ID, "adding organisms", 0, n)
	}
	return o.store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, phageID := range job.Changes.DeletePhageIDs {
			if _, _, err := q.mutator.RemovePhage(ctx, tx, phageID); err != nil {
				return err
			}
		}
		for i := range job.Changes.AddPhages {
			if _, err := q.mutator.AddPhage(ctx, tx, &job.Changes.AddPhages[i]); err != nil {
				return err
			}
		}
		return o.store.TouchCollection(ctx, tx, q.collectionID)
	})
}

// schedule moves every avail/stale clustering comparison to pending and
// arms the cache entries the scoring pool must fill. The frontier is
// exactly the scheduled gene set.
func (o *Orchestrator) schedule(ctx context.Context, q *collectionQueue, job *model.Job) ([]string, []scoringPair, error) {
	var frontier []string
	var pairs []scoringPair

	o.progress(ctx, job.ID, "scheduling comparisons", 0, 1)
	err := o.store.WithTx(ctx, func(tx *sql.Tx) error {
		needing, err := q.tracker.NeedingCompute(ctx, tx, model.CompClustalw)
		if err != nil {
			return err
		}
		all, err := o.store.ListGenes(ctx, tx, q.collectionID)
		if err != nil {
			return err
		}

		translation := make(map[string]string, len(all))
		for _, g := range all {
			translation[g.GeneID] = g.Translation
		}

		for _, g := range needing {
			frontier = append(frontier, g.GeneID)
			for _, kind := range model.ClusteringKinds {
				if err := q.tracker.Schedule(ctx, tx, g.GeneID, kind); err != nil {
					return err
				}
			}
		}
		sort.Strings(frontier)

		seen := make(map[string]bool)
		for _, g := range needing {
			for _, other := range all {
				if other.GeneID == g.GeneID {
					continue
				}
				a, b := canonical(g.GeneID, other.GeneID)
				if seen[a+"|"+b] {
					continue
				}
				seen[a+"|"+b] = true

				// A fully computed pair between live genes is still
				// valid; a stale gene only misses the pairs its removed
				// counterparts took away. Re-arming everything would
				// re-score the whole row for nothing.
				computed, err := q.cache.PairComputed(ctx, tx, a, b)
				if err != nil {
					return err
				}
				if computed {
					continue
				}

				for _, kind := range model.ScoreKinds {
					if err := q.cache.MarkPending(ctx, tx, a, b, kind); err != nil {
						return err
					}
				}
				pairs = append(pairs, scoringPair{
					geneA: a, geneB: b,
					seqA: translation[a], seqB: translation[b],
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return frontier, pairs, nil
}

func canonical(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// scorePairs runs the scoring collaborator for every armed pair through
// a bounded pool. Transient failures retry with backoff; once the
// budget is exhausted the frontier goes back to avail so a later job
// can retry, and the job fails with a recoverable reason.
func (o *Orchestrator) scorePairs(ctx context.Context, q *collectionQueue, job *model.Job, frontier []string, pairs []scoringPair) error {
	var mu sync.Mutex
	var failed int
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Scoring.Workers)

	for _, pair := range pairs {
		pair := pair
		g.Go(func() error {
			scores, err := o.scoreWithRetry(gctx, pair)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				logger.Warn("Scoring pair failed",
					zap.String("gene_a", pair.geneA),
					zap.String("gene_b", pair.geneB),
					zap.Error(err))
				// Keep going; other pairs may still succeed and stay
				// cached for the retry job.
				return nil
			}

			if err := o.putScores(gctx, q, pair, scores); err != nil {
				return err
			}
			done++
			if done%50 == 0 {
				o.progress(gctx, job.ID, "computing scores", done, len(pairs))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if failed > 0 {
		// pending -> avail for the whole frontier; the done transition
		// never happened and pending must not leak into the next job.
		err := o.store.WithTx(ctx, func(tx *sql.Tx) error {
			for _, geneID := range frontier {
				for _, kind := range model.ClusteringKinds {
					if err := q.tracker.Fail(ctx, tx, geneID, kind); err != nil {
						return err
					}
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		return fmt.Errorf("%d of %d scoring calls failed: %w",
			failed, len(pairs), model.ErrScoringUnavailable)
	}

	o.progress(ctx, job.ID, "computing scores", len(pairs), len(pairs))
	return nil
}

func (o *Orchestrator) putScores(ctx context.Context, q *collectionQueue, pair scoringPair, scores external.PairScores) error {
	puts := []struct {
		kind  model.ScoreKind
		value float64
	}{
		{model.KindAlignment, scores.AlignmentScore},
		{model.KindBitScore, scores.BitScore},
		{model.KindIdentity, scores.IdentityScore},
	}
	for _, p := range puts {
		if err := q.cache.Put(ctx, pair.geneA, pair.geneB, p.kind, p.value); err != nil {
			return err
		}
	}
	return nil
}

// commitClustering completes the frontier statuses, recomputes the
// affected clusters and writes the whole result in one transaction.
// Readers observe the pre-job or post-job state, never an intermediate
// frontier.
func (o *Orchestrator) commitClustering(ctx context.Context, q *collectionQueue, job *model.Job, frontier []string) error {
	o.progress(ctx, job.ID, "calculating phams", 0, 1)
	return o.store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, geneID := range frontier {
			n, err := q.cache.ComputedCount(ctx, tx, geneID, model.KindIdentity)
			if err != nil {
				return err
			}
			if err := q.tracker.VerifyDone(ctx, tx, geneID, model.KindIdentity, n); err != nil {
				return err
			}
			for _, kind := range model.ClusteringKinds {
				if err := q.tracker.Complete(ctx, tx, geneID, kind); err != nil {
					return err
				}
			}
		}

		snap, err := o.store.LoadPhamSnapshot(ctx, tx, q.collectionID)
		if err != nil {
			return err
		}
		genes, err := o.store.ListGenes(ctx, tx, q.collectionID)
		if err != nil {
			return err
		}

		nextName := func() (int64, error) {
			return o.store.NextCounter(ctx, tx, q.collectionID, "pham_name")
		}
		result, err := q.engine.Recompute(ctx, tx, snap, genes, frontier, q.cache, nextName)
		if err != nil {
			return err
		}
		if len(result.Deferred) > 0 {
			logger.Warn("Clustering deferred for incomplete genes",
				zap.Int64("collection", q.collectionID),
				zap.Int("genes", len(result.Deferred)))
		}

		for _, name := range result.RetiredPhams {
			if err := o.store.DeletePham(ctx, tx, q.collectionID, name); err != nil {
				return err
			}
		}
		for name, order := range result.NewPhams {
			if err := o.store.InsertPham(ctx, tx, q.collectionID, name, order); err != nil {
				return err
			}
		}
		for name, color := range result.NewColors {
			if err := o.store.SetPhamColor(ctx, tx, q.collectionID, name, color); err != nil {
				return err
			}
		}
		if err := o.store.SetPhamAssignments(ctx, tx, q.collectionID, result.Assignments); err != nil {
			return err
		}
		for _, h := range result.History {
			if err := o.store.AppendHistory(ctx, tx, q.collectionID, h); err != nil {
				return err
			}
		}
		return o.store.TouchCollection(ctx, tx, q.collectionID)
	})
}

// searchDomains runs the conserved-domain collaborator for every gene
// whose cdd status needs work. Failures degrade to a warning; the job
// has already earned its success by this point.
func (o *Orchestrator) searchDomains(ctx context.Context, q *collectionQueue, job *model.Job) {
	var needing []*model.Gene
	err := o.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		needing, err = q.tracker.NeedingCompute(ctx, tx, model.CompCDD)
		return err
	})
	if err != nil {
		logger.Warn("Domain search skipped", zap.Error(err))
		return
	}

	o.progress(ctx, job.ID, "searching conserved domain database", 0, len(needing))
	for i, gene := range needing {
		gene := gene
		err := o.store.WithTx(ctx, func(tx *sql.Tx) error {
			if err := q.tracker.Schedule(ctx, tx, gene.GeneID, model.CompCDD); err != nil {
				return err
			}
			hits, err := o.domains.Search(ctx, gene.GeneID, gene.Translation)
			if err != nil {
				if ferr := q.tracker.Fail(ctx, tx, gene.GeneID, model.CompCDD); ferr != nil {
					return ferr
				}
				logger.Warn("Domain search failed",
					zap.String("gene", gene.GeneID), zap.Error(err))
				return nil
			}
			for i := range hits {
				if err := o.store.InsertDomainHit(ctx, tx, q.collectionID, &hits[i]); err != nil {
					return err
				}
			}
			return q.tracker.Complete(ctx, tx, gene.GeneID, model.CompCDD)
		})
		if err != nil {
			logger.Warn("Domain search aborted",
				zap.String("gene", gene.GeneID), zap.Error(err))
			return
		}
		o.progress(ctx, job.ID, "searching conserved domain database", i+1, len(needing))
	}
}

// progress updates the job's human readable phase string, mirroring
// the "message (step/total)" format of the status callbacks.
func (o *Orchestrator) progress(ctx context.Context, jobID int64, message string, step, total int) {
	msg := fmt.Sprintf("%s (%d/%d)", message, step, total)
	if err := o.store.SetJobMessage(ctx, jobID, msg); err != nil {
		logger.Debug("Failed to update job message", zap.Int64("job", jobID), zap.Error(err))
	}
}
