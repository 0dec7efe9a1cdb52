package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/job-matcher/internal/logger"
	"github.com/spigell/job-matcher/internal/matching"
	"github.com/spigell/job-matcher/internal/metrics"
	"github.com/spigell/job-matcher/internal/store"
)

// Notifier is told once per job, when its scoring aggregate reaches COMPLETE.
type Notifier interface {
	JobScored(ctx context.Context, agg matching.JobAggregate) error
}

// Tracker records application outcomes. The result store performs the write,
// the counter update and the COMPLETE check atomically; the tracker reacts to
// the single commit that flipped the job.
type Tracker struct {
	results  store.ResultStore
	notifier Notifier
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewTracker builds a tracker. notifier may be nil.
func NewTracker(results store.ResultStore, notifier Notifier, log *zap.Logger, m *metrics.Metrics) *Tracker {
	return &Tracker{
		results:  results,
		notifier: notifier,
		logger:   logger.Named(log, "tracker"),
		metrics:  m,
	}
}

func (t *Tracker) Commit(ctx context.Context, applicationID string, result matching.ScoringResult) (matching.Completion, error) {
	c, err := t.results.CommitResult(ctx, applicationID, result)
	if err != nil {
		return c, fmt.Errorf("commit result for application %q: %w", applicationID, err)
	}

	t.observe(ctx, applicationID, c)
	return c, nil
}

// Fail marks the application FAILED_TERMINAL. It still counts toward job
// completion.
func (t *Tracker) Fail(ctx context.Context, applicationID string, cause error) (matching.Completion, error) {
	reason := "unknown failure"
	if cause != nil {
		reason = cause.Error()
	}

	c, err := t.results.MarkFailed(ctx, applicationID, reason)
	if err != nil {
		return c, fmt.Errorf("mark application %q failed: %w", applicationID, err)
	}

	if c.Counted {
		t.logger.Error("application failed terminally",
			zap.String(logger.FieldApplicationID, applicationID),
			zap.String(logger.FieldJobID, c.Aggregate.JobID),
			zap.Error(cause),
		)
	}
	t.observe(ctx, applicationID, c)
	return c, nil
}

func (t *Tracker) observe(ctx context.Context, applicationID string, c matching.Completion) {
	agg := c.Aggregate

	if !c.Counted {
		t.logger.Debug("application already processed, counters unchanged",
			zap.String(logger.FieldApplicationID, applicationID),
			zap.String(logger.FieldJobID, agg.JobID),
		)
	}
	if !c.Flipped {
		return
	}

	t.metrics.JobCompleted()
	t.logger.Info("job scoring complete",
		zap.String(logger.FieldJobID, agg.JobID),
		zap.Int("total", agg.Total),
		zap.Int("scored", agg.Scored),
		zap.Int("failed", agg.Failed),
	)

	if t.notifier == nil {
		return
	}
	if err := t.notifier.JobScored(ctx, agg); err != nil {
		t.logger.Warn("failed to publish job completion", zap.String(logger.FieldJobID, agg.JobID), zap.Error(err))
	}
}
