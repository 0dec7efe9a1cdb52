// Package store holds the repositories the scoring pipeline and the search
// engine read from, and the result store that tracks job completion.
package store

import (
	"context"
	"errors"

	"github.com/spigell/job-matcher/internal/matching"
)

var (
	ErrNoAggregate      = errors.New("scoring has not been requested for this job")
	ErrResumeNotFound   = errors.New("resume not found")
	ErrInvalidTaskState = errors.New("invalid task state")
)

type JobRepository interface {
	ActiveJobs(ctx context.Context) ([]matching.Job, error)
	Job(ctx context.Context, id string) (*matching.Job, error)
}

type CandidateRepository interface {
	Candidate(ctx context.Context, id string) (*matching.CandidateProfile, error)
	Candidates(ctx context.Context) ([]matching.CandidateProfile, error)
}

type ApplicationRepository interface {
	Applications(ctx context.Context, jobID string) ([]matching.Application, error)
}

// ResumeDocument is a stored resume file as uploaded by the candidate.
type ResumeDocument struct {
	CandidateID string
	ContentType string
	Data        []byte
}

type ResumeRepository interface {
	Resume(ctx context.Context, candidateID string) (*ResumeDocument, error)
}

// ResultStore persists scoring results and the per-job completion aggregate.
//
// CommitResult and MarkFailed are atomic: the application write, the counter
// increment and the COMPLETE check happen as one unit, so exactly one caller
// observes Completion.Flipped for a job. Counters only move the first time an
// application is processed.
type ResultStore interface {
	// EnsureAggregate creates a PENDING aggregate unless one exists.
	EnsureAggregate(ctx context.Context, jobID string) (matching.JobAggregate, error)
	// BeginScoring moves a PENDING (or missing) aggregate to SCORING with the
	// given total, or straight to COMPLETE when total is zero. An aggregate
	// past PENDING is returned unchanged.
	BeginScoring(ctx context.Context, jobID string, total int) (matching.JobAggregate, error)
	// SetTaskState records a non-terminal state for an application that has
	// not been processed yet.
	SetTaskState(ctx context.Context, applicationID string, state matching.TaskState) error
	CommitResult(ctx context.Context, applicationID string, result matching.ScoringResult) (matching.Completion, error)
	MarkFailed(ctx context.Context, applicationID, reason string) (matching.Completion, error)
	Aggregate(ctx context.Context, jobID string) (matching.JobAggregate, error)
	Result(ctx context.Context, applicationID string) (*matching.ScoringResult, error)
}

// Store is everything the service needs from persistence.
type Store interface {
	JobRepository
	CandidateRepository
	ApplicationRepository
	ResumeRepository
	ResultStore
	Close() error
}

func validTaskState(state matching.TaskState) bool {
	switch state {
	case matching.TaskQueued, matching.TaskInProgress, matching.TaskFailedRetryable:
		return true
	}
	return false
}
