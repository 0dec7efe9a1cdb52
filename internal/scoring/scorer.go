// Package scoring produces candidate-to-job fit scores. The external capability
// is optional: every path degrades to a deterministic heuristic.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spigell/job-matcher/internal/logger"
	"github.com/spigell/job-matcher/internal/matching"
	"github.com/spigell/job-matcher/internal/metrics"
)

const (
	DefaultTimeout         = 30 * time.Second
	DefaultFastThreshold   = 60
	DefaultFastProbability = 0.3
)

// Capability is the pluggable external scorer.
type Capability interface {
	Score(ctx context.Context, job matching.JobRequirements, candidate matching.CandidateProfile) (*matching.ScoringResult, error)
}

type Options struct {
	// Timeout bounds a single capability call. Zero means DefaultTimeout.
	Timeout time.Duration
	// FastThreshold is the quick score a job must exceed before the fast path
	// considers an external call.
	FastThreshold int
	Sampler       Sampler
	// Limiter throttles capability calls. Nil disables throttling.
	Limiter *rate.Limiter
	Metrics *metrics.Metrics
}

type Scorer struct {
	capability Capability
	logger     *zap.Logger
	timeout    time.Duration
	threshold  int
	sampler    Sampler
	limiter    *rate.Limiter
	metrics    *metrics.Metrics
}

// NewScorer builds a scorer. A nil capability is allowed and makes every
// call fall back to the heuristics.
func NewScorer(capability Capability, log *zap.Logger, opts Options) *Scorer {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.FastThreshold <= 0 {
		opts.FastThreshold = DefaultFastThreshold
	}
	if opts.Sampler == nil {
		opts.Sampler = ProbabilitySampler{P: DefaultFastProbability}
	}

	return &Scorer{
		capability: capability,
		logger:     logger.Named(log, "scorer"),
		timeout:    opts.Timeout,
		threshold:  opts.FastThreshold,
		sampler:    opts.Sampler,
		limiter:    opts.Limiter,
		metrics:    opts.Metrics,
	}
}

// Score calls the external capability. Every failure, including a timeout or
// an empty answer, is reported as matching.ErrScoringUnavailable.
func (s *Scorer) Score(ctx context.Context, job matching.JobRequirements, candidate matching.CandidateProfile) (matching.ScoringResult, error) {
	if s.capability == nil {
		return matching.ScoringResult{}, fmt.Errorf("%w: no capability configured", matching.ErrScoringUnavailable)
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return matching.ScoringResult{}, fmt.Errorf("%w: %w", matching.ErrScoringUnavailable, err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	res, err := s.capability.Score(callCtx, job, candidate)
	s.metrics.ObserveAICall(time.Since(started), err)
	if err != nil {
		return matching.ScoringResult{}, fmt.Errorf("%w: %w", matching.ErrScoringUnavailable, err)
	}
	if res == nil {
		return matching.ScoringResult{}, fmt.Errorf("%w: empty result", matching.ErrScoringUnavailable)
	}

	return normalize(*res), nil
}

// ScoreWithFallback never fails: capability errors degrade to FallbackScore.
func (s *Scorer) ScoreWithFallback(ctx context.Context, job matching.JobRequirements, candidate matching.CandidateProfile) matching.ScoringResult {
	res, err := s.Score(ctx, job, candidate)
	if err == nil {
		return res
	}

	reason := fallbackReason(s.capability, err)
	s.metrics.Fallback(reason)
	s.logger.Warn("scoring capability unavailable, using fallback",
		zap.String("reason", reason),
		zap.String("candidate_id", candidate.ID),
		zap.Error(err),
	)

	return FallbackScore(job, candidate)
}

// ScoreFast returns the quick heuristic unless it already beats the threshold
// and the sampler picks the job for an external call. A failed call keeps the
// quick result.
func (s *Scorer) ScoreFast(ctx context.Context, job matching.JobRequirements, candidate matching.CandidateProfile) matching.ScoringResult {
	quick := QuickScore(job, candidate)
	if s.capability == nil || quick.Score <= s.threshold || !s.sampler.Sample() {
		return quick
	}

	res, err := s.Score(ctx, job, candidate)
	if err != nil {
		s.metrics.Fallback("fast_path")
		s.logger.Debug("fast path call failed, keeping quick score", zap.Int("quick_score", quick.Score), zap.Error(err))
		return quick
	}

	return res
}

func fallbackReason(capability Capability, err error) string {
	switch {
	case capability == nil:
		return "disabled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

// normalize enforces the output contract on whatever the capability returned.
func normalize(res matching.ScoringResult) matching.ScoringResult {
	res.Score = clamp(float64(res.Score))
	if res.Strengths == nil {
		res.Strengths = []string{}
	}
	if res.Weaknesses == nil {
		res.Weaknesses = []string{}
	}
	if res.Recommendations == nil {
		res.Recommendations = []string{}
	}
	if res.Source == "" {
		res.Source = matching.SourceAI
	}
	return res
}
