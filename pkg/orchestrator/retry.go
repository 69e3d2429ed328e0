package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/yumyai/phamdb/logger"
	"github.com/yumyai/phamdb/pkg/external"
)

// scoreWithRetry calls the scorer with exponential backoff up to the
// configured attempt budget. The delay doubles per attempt and is
// capped at MaxDelay.
func (o *Orchestrator) scoreWithRetry(ctx context.Context, pair scoringPair) (external.PairScores, error) {
	var lastErr error
	delay := o.cfg.Scoring.BaseDelay

	for attempt := 1; attempt <= o.cfg.Scoring.MaxAttempts; attempt++ {
		scores, err := o.scorer.Score(ctx, pair.seqA, pair.seqB)
		if err == nil {
			return scores, nil
		}
		lastErr = err

		if attempt == o.cfg.Scoring.MaxAttempts {
			break
		}
		o.metrics.ScoringRetries.Inc()
		logger.Debug("Retrying scoring call",
			zap.String("gene_a", pair.geneA),
			zap.String("gene_b", pair.geneB),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return external.PairScores{}, ctx.Err()
		}

		delay *= 2
		if delay > o.cfg.Scoring.MaxDelay {
			delay = o.cfg.Scoring.MaxDelay
		}
	}
	return external.PairScores{}, lastErr
}
