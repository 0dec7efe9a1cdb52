// Package matching holds the data model shared by the scoring pipeline and the
// streaming search engine.
package matching

import (
	"fmt"
	"time"
)

const (
	// RelevanceThreshold is the minimum relevance a scored job must exceed to be returned.
	RelevanceThreshold = 30
	// MaxFinalResults caps the canonical result set of a search.
	MaxFinalResults = 20
	// DefaultBatchSize is the number of jobs scored together in one search batch.
	DefaultBatchSize = 5
)

// JobRequirements is the snapshot of a job taken at scoring time.
type JobRequirements struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	EmploymentType string   `json:"employmentType"`
	Experience     int      `json:"experience"`
	Tags           []string `json:"tags"`
}

// CandidateProfile is read-only input to scoring.
type CandidateProfile struct {
	ID            string   `json:"id" yaml:"id"`
	Name          string   `json:"name,omitempty" yaml:"name"`
	Experience    int      `json:"experience" yaml:"experience"`
	Skills        []string `json:"skills" yaml:"skills"`
	ResumeContent string   `json:"-" yaml:"resume"`
}

// ResultSource tells how a ScoringResult was produced.
type ResultSource string

const (
	SourceAI       ResultSource = "ai"
	SourceFallback ResultSource = "fallback"
	SourceQuick    ResultSource = "quick"
)

// ScoringResult is produced once per (job, candidate) pair and only replaced on re-score.
type ScoringResult struct {
	Score           int          `json:"score"`
	Reasoning       string       `json:"reasoning"`
	Strengths       []string     `json:"strengths"`
	Weaknesses      []string     `json:"weaknesses"`
	Recommendations []string     `json:"recommendations"`
	Source          ResultSource `json:"source,omitempty"`
}

// Company is the summary embedded into every job.
type Company struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Job is an open position as returned by the job repository.
type Job struct {
	ID             string    `json:"id" yaml:"id"`
	Title          string    `json:"title" yaml:"title"`
	Description    string    `json:"description" yaml:"description"`
	EmploymentType string    `json:"employmentType" yaml:"employment_type"`
	Experience     int       `json:"experience" yaml:"experience"`
	Tags           []string  `json:"tags" yaml:"tags"`
	Location       string    `json:"location" yaml:"location"`
	Company        Company   `json:"company" yaml:"company"`
	Active         bool      `json:"active" yaml:"active"`
	CreatedAt      time.Time `json:"createdAt" yaml:"created_at"`
}

// Requirements returns an immutable snapshot of the fields used for scoring.
func (j Job) Requirements() JobRequirements {
	tags := make([]string, len(j.Tags))
	copy(tags, j.Tags)

	return JobRequirements{
		Title:          j.Title,
		Description:    j.Description,
		EmploymentType: j.EmploymentType,
		Experience:     j.Experience,
		Tags:           tags,
	}
}

// ScoredJob is a job annotated with its relevance for one search session.
type ScoredJob struct {
	Job
	RelevanceScore int            `json:"relevanceScore"`
	MatchAnalysis  *ScoringResult `json:"matchAnalysis,omitempty"`
	QueryRelevance int            `json:"queryRelevance"`
}

// Application links a candidate to a job and carries its scoring state.
type Application struct {
	ID          string    `json:"id" yaml:"id"`
	JobID       string    `json:"jobId" yaml:"job_id"`
	CandidateID string    `json:"candidateId" yaml:"candidate_id"`
	State       TaskState `json:"state" yaml:"state"`
	Score       *int      `json:"score,omitempty" yaml:"-"`
	Failure     string    `json:"failure,omitempty" yaml:"-"`
}

// TaskState is the lifecycle of one application scoring unit.
type TaskState string

const (
	TaskQueued          TaskState = "QUEUED"
	TaskInProgress      TaskState = "IN_PROGRESS"
	TaskCommitted       TaskState = "COMMITTED"
	TaskFailedRetryable TaskState = "FAILED_RETRYABLE"
	TaskFailedTerminal  TaskState = "FAILED_TERMINAL"
)

// Processed reports whether the application already counts toward job completion.
func (s TaskState) Processed() bool {
	return s == TaskCommitted || s == TaskFailedTerminal
}

// AggregateStatus mirrors the job_scoring.status column.
type AggregateStatus string

const (
	StatusPending  AggregateStatus = "PENDING"
	StatusScoring  AggregateStatus = "SCORING"
	StatusComplete AggregateStatus = "COMPLETE"
)

// validTransitions lists every allowed (from -> to) pair.
var validTransitions = map[AggregateStatus][]AggregateStatus{
	StatusPending: {StatusScoring, StatusComplete},
	StatusScoring: {StatusComplete},
	// COMPLETE is terminal
}

// ParseAggregateStatus converts a raw string to an AggregateStatus.
func ParseAggregateStatus(s string) (AggregateStatus, error) {
	st := AggregateStatus(s)
	switch st {
	case StatusPending, StatusScoring, StatusComplete:
		return st, nil
	}
	return "", fmt.Errorf("unknown aggregate status %q", s)
}

// IsTransitionAllowed returns true when moving from -> to is permitted.
func IsTransitionAllowed(from, to AggregateStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// JobAggregate tracks completion of scoring for a single job.
// Scored counts processed applications, including terminal failures; Failed is
// the subset that could not be scored.
type JobAggregate struct {
	JobID       string          `json:"jobId"`
	Total       int             `json:"total"`
	Scored      int             `json:"scored"`
	Failed      int             `json:"failed"`
	Status      AggregateStatus `json:"status"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// Done reports whether every application has been processed.
func (a JobAggregate) Done() bool {
	return a.Scored >= a.Total
}

// Completion is returned by the result store after an atomic commit.
type Completion struct {
	Aggregate JobAggregate
	// Counted is false when the application had already been processed
	// (a redelivered task or a re-score) and the counters were left untouched.
	Counted bool
	// Flipped is true for exactly one commit per job: the one that moved it to COMPLETE.
	Flipped bool
}
