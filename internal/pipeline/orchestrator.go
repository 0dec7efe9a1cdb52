package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/job-matcher/internal/logger"
	"github.com/spigell/job-matcher/internal/matching"
	"github.com/spigell/job-matcher/internal/queue"
	"github.com/spigell/job-matcher/internal/store"
)

// Orchestrator turns a scoring request into queued work. It owns no scoring
// logic.
type Orchestrator struct {
	jobs    store.JobRepository
	apps    store.ApplicationRepository
	results store.ResultStore
	queue   queue.Queue
	logger  *zap.Logger
}

func NewOrchestrator(jobs store.JobRepository, apps store.ApplicationRepository, results store.ResultStore, q queue.Queue, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		jobs:    jobs,
		apps:    apps,
		results: results,
		queue:   q,
		logger:  logger.Named(log, "orchestrator"),
	}
}

// RequestScoring enqueues the parent task for a job. With rescore set, already
// processed applications are scored again; their results are replaced but the
// job is not counted twice.
func (o *Orchestrator) RequestScoring(ctx context.Context, jobID string, rescore bool) (matching.JobAggregate, error) {
	if _, err := o.jobs.Job(ctx, jobID); err != nil {
		return matching.JobAggregate{}, err
	}

	agg, err := o.results.EnsureAggregate(ctx, jobID)
	if err != nil {
		return agg, fmt.Errorf("ensure aggregate for job %q: %w", jobID, err)
	}

	if err := o.enqueue(ctx, NewJobTask(jobID, rescore)); err != nil {
		return agg, err
	}

	o.logger.Info("scoring requested", zap.String(logger.FieldJobID, jobID), zap.Bool("rescore", rescore))
	return agg, nil
}

// FanOut moves the job to SCORING and enqueues one task per application. It is
// safe to run again for the same job: BeginScoring leaves a started aggregate
// alone and a duplicate application task is not counted twice.
func (o *Orchestrator) FanOut(ctx context.Context, jobID string, rescore bool) (matching.JobAggregate, error) {
	apps, err := o.apps.Applications(ctx, jobID)
	if err != nil {
		return matching.JobAggregate{}, classify(fmt.Errorf("load applications of job %q: %w", jobID, err))
	}

	agg, err := o.results.BeginScoring(ctx, jobID, len(apps))
	if err != nil {
		return agg, classify(fmt.Errorf("begin scoring job %q: %w", jobID, err))
	}

	queued := 0
	for _, app := range apps {
		if app.State.Processed() && !rescore {
			continue
		}
		if err := o.enqueue(ctx, NewApplicationTask(app)); err != nil {
			return agg, classify(err)
		}
		queued++
	}

	o.logger.Info("job fanned out",
		zap.String(logger.FieldJobID, jobID),
		zap.Int("applications", len(apps)),
		zap.Int("queued", queued),
		zap.String("status", string(agg.Status)),
	)
	return agg, nil
}

func (o *Orchestrator) enqueue(ctx context.Context, task Task) error {
	body, err := task.Encode()
	if err != nil {
		return err
	}
	if err := o.queue.Enqueue(ctx, body); err != nil {
		return fmt.Errorf("enqueue %s task for job %q: %w", task.Kind, task.JobID, err)
	}
	return nil
}
