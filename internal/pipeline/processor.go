package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/spigell/job-matcher/internal/logger"
	"github.com/spigell/job-matcher/internal/matching"
	"github.com/spigell/job-matcher/internal/store"
)

type ApplicationScorer interface {
	ScoreWithFallback(ctx context.Context, job matching.JobRequirements, candidate matching.CandidateProfile) matching.ScoringResult
}

type ResumeReader interface {
	Text(ctx context.Context, candidate matching.CandidateProfile) string
}

// Processor scores a single application and hands the result to the tracker.
type Processor struct {
	jobs       store.JobRepository
	candidates store.CandidateRepository
	resumes    ResumeReader
	scorer     ApplicationScorer
	tracker    *Tracker
	logger     *zap.Logger
}

func NewProcessor(jobs store.JobRepository, candidates store.CandidateRepository, resumes ResumeReader, scorer ApplicationScorer, tracker *Tracker, log *zap.Logger) *Processor {
	return &Processor{
		jobs:       jobs,
		candidates: candidates,
		resumes:    resumes,
		scorer:     scorer,
		tracker:    tracker,
		logger:     logger.Named(log, "processor"),
	}
}

func (p *Processor) ScoreApplication(ctx context.Context, task Task) (matching.Completion, error) {
	job, err := p.jobs.Job(ctx, task.JobID)
	if err != nil {
		return matching.Completion{}, classify(err)
	}

	candidate, err := p.candidates.Candidate(ctx, task.CandidateID)
	if err != nil {
		return matching.Completion{}, classify(err)
	}

	profile := *candidate
	if p.resumes != nil {
		profile.ResumeContent = p.resumes.Text(ctx, profile)
	}

	// the capability never fails the task: it falls back to the heuristic
	result := p.scorer.ScoreWithFallback(ctx, job.Requirements(), profile)
	if err := ctx.Err(); err != nil {
		return matching.Completion{}, err
	}

	c, err := p.tracker.Commit(ctx, task.ApplicationID, result)
	if err != nil {
		return c, classify(err)
	}

	p.logger.Debug("application scored",
		append(logger.TaskFields(task.ID, task.JobID, task.ApplicationID, task.CandidateID),
			zap.Int("score", result.Score),
			zap.String("source", string(result.Source)),
		)...,
	)
	return c, nil
}

// classify marks transient failures retryable. Missing records, a job that was
// never started and cancellation are permanent.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, matching.ErrJobNotFound),
		errors.Is(err, matching.ErrProfileNotFound),
		errors.Is(err, matching.ErrApplicationNotFound),
		errors.Is(err, store.ErrNoAggregate),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	case matching.IsRetryable(err):
		return err
	}
	return matching.Retryable(err)
}
