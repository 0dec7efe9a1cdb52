// Package search implements the progressive streaming search: every active job
// is scored against a candidate and a free-text query in small batches, and
// partial results are pushed to the caller as they become available.
package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/job-matcher/internal/logger"
	"github.com/spigell/job-matcher/internal/matching"
	"github.com/spigell/job-matcher/internal/metrics"
	"github.com/spigell/job-matcher/internal/pipeline"
	"github.com/spigell/job-matcher/internal/utils"
)

const (
	fitWeight   = 0.7
	queryWeight = 0.3

	DefaultBatchDelay = 100 * time.Millisecond
	DefaultBuffer     = 16
)

var ErrCoordinatorClosed = errors.New("search coordinator is closed")

type JobSource interface {
	ActiveJobs(ctx context.Context) ([]matching.Job, error)
}

type ProfileSource interface {
	Candidate(ctx context.Context, id string) (*matching.CandidateProfile, error)
}

// ResumeReader returns resume text for a candidate, or a placeholder. It never fails.
type ResumeReader interface {
	Text(ctx context.Context, candidate matching.CandidateProfile) string
}

type FitScorer interface {
	ScoreFast(ctx context.Context, job matching.JobRequirements, candidate matching.CandidateProfile) matching.ScoringResult
}

type Config struct {
	BatchSize  int
	BatchDelay time.Duration
	// Buffer is the capacity of every session's event channel.
	Buffer int
}

type Coordinator struct {
	jobs     JobSource
	profiles ProfileSource
	resumes  ResumeReader
	scorer   FitScorer
	cfg      Config
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

func NewCoordinator(jobs JobSource, profiles ProfileSource, resumes ResumeReader, scorer FitScorer, cfg Config, log *zap.Logger, m *metrics.Metrics) *Coordinator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = matching.DefaultBatchSize
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}

	return &Coordinator{
		jobs:     jobs,
		profiles: profiles,
		resumes:  resumes,
		scorer:   scorer,
		cfg:      cfg,
		logger:   logger.Named(log, "search"),
		metrics:  m,
		sessions: make(map[string]*Session),
	}
}

// Start launches a search session. The returned session's event channel is
// closed by the coordinator once the search finished, failed or was stopped.
// Cancelling ctx stops the session as well.
func (c *Coordinator) Start(ctx context.Context, query, candidateID string) (*Session, error) {
	sessionCtx, cancel := context.WithCancel(ctx)

	s := &Session{
		id:          uuid.NewString(),
		query:       query,
		candidateID: candidateID,
		events:      make(chan Event, c.cfg.Buffer),
		cancel:      cancel,
		state:       StateRunning,
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return nil, ErrCoordinatorClosed
	}
	c.sessions[s.id] = s
	c.mu.Unlock()

	c.metrics.SessionStarted()
	go c.run(sessionCtx, s)

	return s, nil
}

// Stop cancels a running session. It reports false for unknown sessions.
func (c *Coordinator) Stop(sessionID string) bool {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if !ok {
		return false
	}

	s.cancel()
	return true
}

// Session looks up a running session.
func (c *Coordinator) Session(sessionID string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	return s, ok
}

// Close stops every running session and rejects new ones.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	running := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		running = append(running, s)
	}
	c.mu.Unlock()

	for _, s := range running {
		s.cancel()
	}
}

func (c *Coordinator) run(ctx context.Context, s *Session) {
	log := c.logger.With(zap.String(logger.FieldSessionID, s.id), zap.String(logger.FieldCandidateID, s.candidateID))

	defer func() {
		if ctx.Err() != nil {
			s.finish(StateCancelled)
		}
		close(s.events)
		s.cancel()

		c.mu.Lock()
		delete(c.sessions, s.id)
		c.mu.Unlock()

		c.metrics.SessionFinished()
		log.Debug("search session closed", zap.String("state", string(s.State())))
	}()

	log.Info("search started", zap.String("query", s.query))

	if !c.emit(ctx, s, statusEvent("Loading candidate profile", 0)) {
		return
	}

	profile, err := c.profiles.Candidate(ctx, s.candidateID)
	if err == nil && profile == nil {
		err = matching.ErrProfileNotFound
	}
	if err != nil {
		c.fallback(ctx, s, log, "Failed to load candidate profile", err)
		return
	}

	candidate := *profile
	if c.resumes != nil {
		candidate.ResumeContent = c.resumes.Text(ctx, candidate)
	}

	jobs, err := c.jobs.ActiveJobs(ctx)
	if err != nil {
		c.fallback(ctx, s, log, "Failed to load jobs", err)
		return
	}

	if !c.emit(ctx, s, statusEvent(fmt.Sprintf("Scoring %d active jobs", len(jobs)), 25)) {
		return
	}

	batches := SplitBatches(jobs, c.cfg.BatchSize)
	var found []matching.ScoredJob

	for i, batch := range batches {
		if ctx.Err() != nil {
			return
		}

		scored := c.scoreBatch(ctx, batch, candidate, s.query)
		if ctx.Err() != nil {
			return
		}

		found = append(found, scored...)
		progress := batchProgress(i, len(batches))
		s.record(scored, progress)

		if len(scored) > 0 && !c.emit(ctx, s, batchEvent(scored, progress)) {
			return
		}

		log.Debug("batch scored", zap.Int("batch", i+1), zap.Int("batches", len(batches)), zap.Int("matches", len(scored)))

		if i < len(batches)-1 {
			if err := utils.WaitFor(ctx, c.cfg.BatchDelay); err != nil {
				return
			}
		}
	}

	final := rank(found, matching.MaxFinalResults)
	if !c.emit(ctx, s, finalEvent(final)) {
		return
	}

	s.finish(StateCompleted)
	log.Info("search completed", zap.Int("jobs", len(jobs)), zap.Int("results", len(final)))
}

// fallback reports a fatal error and answers with a plain keyword search.
func (c *Coordinator) fallback(ctx context.Context, s *Session, log *zap.Logger, message string, cause error) {
	if ctx.Err() != nil {
		return
	}

	log.Warn("search failed, falling back to keyword search", zap.String("reason", message), zap.Error(cause))

	if !c.emit(ctx, s, errorEvent(message, cause)) {
		return
	}

	jobs, err := c.jobs.ActiveJobs(ctx)
	if err != nil {
		log.Error("keyword search failed", zap.Error(err))
		jobs = nil
	}

	if !c.emit(ctx, s, finalEvent(BasicSearch(jobs, s.query))) {
		return
	}
	s.finish(StateErrored)
}

func (c *Coordinator) scoreBatch(ctx context.Context, batch []matching.Job, candidate matching.CandidateProfile, query string) []matching.ScoredJob {
	outcomes := pipeline.Fan(ctx, len(batch), batch, func(ctx context.Context, job matching.Job) (matching.ScoredJob, error) {
		fit := c.scorer.ScoreFast(ctx, job.Requirements(), candidate)
		queryScore := QueryRelevance(job, query)

		return matching.ScoredJob{
			Job:            job,
			RelevanceScore: int(math.Round(fitWeight*float64(fit.Score) + queryWeight*float64(queryScore))),
			MatchAnalysis:  &fit,
			QueryRelevance: queryScore,
		}, nil
	})

	scored := make([]matching.ScoredJob, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Err != nil {
			continue
		}
		scored = append(scored, o.Value)
	}
	return rank(scored, 0)
}

// emit delivers ev unless the session is already cancelled.
func (c *Coordinator) emit(ctx context.Context, s *Session, ev Event) bool {
	if ctx.Err() != nil {
		return false
	}

	select {
	case s.events <- ev:
		c.metrics.SearchEvent(string(ev.Type))
		return true
	case <-ctx.Done():
		return false
	}
}

// rank keeps jobs above the relevance threshold sorted by descending
// relevance. A positive limit caps the result.
func rank(jobs []matching.ScoredJob, limit int) []matching.ScoredJob {
	out := make([]matching.ScoredJob, 0, len(jobs))
	for _, j := range jobs {
		if j.RelevanceScore > matching.RelevanceThreshold {
			out = append(out, j)
		}
	}

	slices.SortStableFunc(out, func(a, b matching.ScoredJob) int {
		return b.RelevanceScore - a.RelevanceScore
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func batchProgress(index, total int) int {
	if total <= 0 {
		return 85
	}
	return 25 + int(math.Round(float64(index+1)/float64(total)*60))
}
