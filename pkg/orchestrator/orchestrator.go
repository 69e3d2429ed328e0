// Package orchestrator serializes all mutating work against a genome
// collection. Exactly one job runs per collection at a time; further
// submissions queue FIFO and each runs against the previous job's
// committed state.
package orchestrator

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/yumyai/phamdb/logger"
	"github.com/yumyai/phamdb/pkg/cluster"
	"github.com/yumyai/phamdb/pkg/config"
	"github.com/yumyai/phamdb/pkg/db"
	"github.com/yumyai/phamdb/pkg/external"
	"github.com/yumyai/phamdb/pkg/metrics"
	"github.com/yumyai/phamdb/pkg/model"
	"github.com/yumyai/phamdb/pkg/mutator"
	"github.com/yumyai/phamdb/pkg/scorecache"
	"github.com/yumyai/phamdb/pkg/tracker"
)

const queueCapacity = 256

type Orchestrator struct {
	store   *db.Store
	cfg     *config.Config
	scorer  external.Scorer
	domains external.DomainSearcher
	metrics *metrics.Metrics

	mu     sync.Mutex
	queues map[int64]*collectionQueue

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	entropy *ulid.MonotonicEntropy
}

// collectionQueue is the single-flight machinery for one collection:
// a FIFO job channel drained by one consumer goroutine, plus the
// per-collection engine parts, built once.
type collectionQueue struct {
	collectionID int64
	jobs         chan int64

	cache   *scorecache.Cache
	tracker *tracker.Tracker
	mutator *mutator.Mutator
	engine  *cluster.Engine
}

func New(store *db.Store, cfg *config.Config, scorer external.Scorer, domains external.DomainSearcher, m *metrics.Metrics) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:   store,
		cfg:     cfg,
		scorer:  scorer,
		domains: domains,
		metrics: m,
		queues:  make(map[int64]*collectionQueue),
		ctx:     ctx,
		cancel:  cancel,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Start recovers from a previous crash and replays persisted queued
// jobs. Any job left running by a dead process fails now instead of
// hanging forever.
func (o *Orchestrator) Start(ctx context.Context) error {
	n, err := o.store.FailInterruptedJobs(ctx, "interrupted by restart")
	if err != nil {
		return err
	}
	if n > 0 {
		logger.Warn("Failed interrupted jobs from previous run", zap.Int64("count", n))
	}

	collections, err := o.store.ListCollections(ctx)
	if err != nil {
		return err
	}
	for _, c := range collections {
		queued, err := o.store.ListQueuedJobs(ctx, c.ID)
		if err != nil {
			return err
		}
		if len(queued) == 0 {
			continue
		}
		q, err := o.queueFor(c.ID)
		if err != nil {
			return err
		}
		for _, j := range queued {
			o.metrics.QueueDepth.Inc()
			q.jobs <- j.ID
		}
	}
	return nil
}

// Stop stops the consumers from taking new work and waits for every
// running pipeline to reach a terminal state. Running jobs are never
// cancelled mid-pipeline.
func (o *Orchestrator) Stop() {
	o.cancel()
	o.wg.Wait()
}

func (o *Orchestrator) queueFor(collectionID int64) (*collectionQueue, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if q, ok := o.queues[collectionID]; ok {
		return q, nil
	}

	cache, err := scorecache.New(o.store, collectionID, o.cfg.Cache.HotEntries)
	if err != nil {
		return nil, err
	}
	tr := tracker.New(o.store, collectionID)

	q := &collectionQueue{
		collectionID: collectionID,
		jobs:         make(chan int64, queueCapacity),
		cache:        cache,
		tracker:      tr,
		mutator:      mutator.New(o.store, cache, tr, collectionID),
		engine:       cluster.NewEngine(o.cfg.Clustering),
	}
	o.queues[collectionID] = q

	o.wg.Add(1)
	go o.consume(q)
	return q, nil
}

// consume drains one collection's queue. Being the only goroutine that
// runs this collection's pipeline is what makes the work single-flight.
func (o *Orchestrator) consume(q *collectionQueue) {
	defer o.wg.Done()
	for {
		select {
		case jobID := <-q.jobs:
			o.metrics.QueueDepth.Dec()
			o.runJob(q, jobID)
		case <-o.ctx.Done():
			return
		}
	}
}

// Submit validates a change set, persists a queued job and enqueues it.
// Validation failures reject the submission before a job ever starts.
func (o *Orchestrator) Submit(ctx context.Context, collectionID int64, changes model.ChangeSet) (int64, error) {
	collection, err := o.store.GetCollection(ctx, collectionID)
	if err != nil {
		return 0, err
	}
	if collection == nil {
		return 0, fmt.Errorf("collection %d: %w", collectionID, model.ErrNotFound)
	}

	if err := o.validateChanges(ctx, collectionID, changes); err != nil {
		return 0, err
	}

	job, err := o.store.CreateJob(ctx, collectionID, changes)
	if err != nil {
		return 0, err
	}

	q, err := o.queueFor(collectionID)
	if err != nil {
		return 0, err
	}

	select {
	case q.jobs <- job.ID:
	default:
		// Queue full; surface as a conflict rather than blocking the
		// caller indefinitely.
		_ = o.store.TransitionJob(ctx, job.ID, model.JobQueued, model.JobDeleted)
		return 0, fmt.Errorf("collection %d queue is full: %w", collectionID, model.ErrConflict)
	}

	o.metrics.JobsSubmitted.Inc()
	o.metrics.QueueDepth.Inc()
	logger.Info("Job submitted",
		zap.Int64("job", job.ID),
		zap.Int64("collection", collectionID),
		zap.Int("add", len(changes.AddPhages)),
		zap.Int("delete", len(changes.DeletePhageIDs)))
	return job.ID, nil
}

func (o *Orchestrator) validateChanges(ctx context.Context, collectionID int64, changes model.ChangeSet) error {
	if changes.Empty() {
		return &model.ValidationError{Message: "no changes requested"}
	}

	deleting := make(map[string]bool, len(changes.DeletePhageIDs))
	for _, id := range changes.DeletePhageIDs {
		deleting[id] = true
	}

	seen := make(map[string]bool, len(changes.AddPhages))
	for _, record := range changes.AddPhages {
		if record.PhageID == "" {
			return &model.ValidationError{Message: "phage record has no id"}
		}
		if seen[record.PhageID] {
			return &model.ValidationError{
				Message: fmt.Sprintf("phage %s occurs twice in the request", record.PhageID),
			}
		}
		seen[record.PhageID] = true

		// Re-adding over an existing phage is only allowed when the
		// same job deletes it first.
		exists, err := o.store.PhageExists(ctx, nil, collectionID, record.PhageID)
		if err != nil {
			return err
		}
		if exists && !deleting[record.PhageID] {
			return &model.ValidationError{
				Message: fmt.Sprintf("phage %s already exists", record.PhageID),
			}
		}
	}
	return nil
}

// Status returns the job as persisted; it always reflects the true
// terminal outcome.
func (o *Orchestrator) Status(ctx context.Context, jobID int64) (*model.Job, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("job %d: %w", jobID, model.ErrNotFound)
	}
	return job, nil
}

// Cancel deletes a queued job. A queued job dies without side effects;
// a running job must run to a terminal state, so cancelling it is a
// conflict, as is cancelling a job already terminal.
func (o *Orchestrator) Cancel(ctx context.Context, jobID int64) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %d: %w", jobID, model.ErrNotFound)
	}

	if job.State != model.JobQueued {
		return fmt.Errorf("job %d is %s: %w", jobID, job.State, model.ErrConflict)
	}

	// The guarded transition loses the race cleanly if the consumer
	// just picked the job up.
	if err := o.store.TransitionJob(ctx, jobID, model.JobQueued, model.JobDeleted); err != nil {
		return err
	}
	o.metrics.JobsDeleted.Inc()
	logger.Info("Job cancelled", zap.Int64("job", jobID))
	return nil
}

func (o *Orchestrator) runJob(q *collectionQueue, jobID int64) {
	// Shutdown cancels o.ctx to stop the consumers from picking up more
	// work, but a job already running must reach a terminal state. The
	// pipeline and its bookkeeping run on an uncancellable context, and
	// Stop waits for the consumer to come back from here.
	ctx := context.WithoutCancel(o.ctx)

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		logger.Error("Failed to load job", zap.Int64("job", jobID), zap.Error(err))
		return
	}
	if job == nil || job.State != model.JobQueued {
		// Cancelled while waiting in the queue.
		return
	}

	if err := o.store.TransitionJob(ctx, jobID, model.JobQueued, model.JobRunning); err != nil {
		logger.Error("Failed to start job", zap.Int64("job", jobID), zap.Error(err))
		return
	}

	taskID := ulid.MustNew(ulid.Timestamp(time.Now()), o.entropy).String()
	_ = o.store.SetJobTaskID(ctx, jobID, taskID)

	logger.Info("Job running",
		zap.Int64("job", jobID),
		zap.Int64("collection", q.collectionID),
		zap.String("task", taskID))

	start := time.Now()
	err = o.runPipeline(ctx, q, job)
	o.metrics.PipelineDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		_ = o.store.SetJobError(ctx, jobID, err.Error())
		if terr := o.store.TransitionJob(ctx, jobID, model.JobRunning, model.JobFailed); terr != nil {
			logger.Error("Failed to mark job failed", zap.Int64("job", jobID), zap.Error(terr))
		}
		o.metrics.JobsFailed.Inc()
		logger.Error("Job failed",
			zap.Int64("job", jobID),
			zap.Duration("runtime", time.Since(start)),
			zap.Error(err))
		return
	}

	_ = o.store.SetJobMessage(ctx, jobID, "Database updated.")
	if terr := o.store.TransitionJob(ctx, jobID, model.JobRunning, model.JobSuccess); terr != nil {
		logger.Error("Failed to mark job succeeded", zap.Int64("job", jobID), zap.Error(terr))
		return
	}
	o.metrics.JobsSucceeded.Inc()
	logger.Info("Job succeeded",
		zap.Int64("job", jobID),
		zap.Duration("runtime", time.Since(start)))
}
