package store

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/spigell/job-matcher/internal/matching"
)

// newTestPostgres connects to MATCHER_TEST_DATABASE_URL or skips the test.
func newTestPostgres(t *testing.T) *Postgres {
	t.Helper()

	url := os.Getenv("MATCHER_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("MATCHER_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := NewPostgresPool(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	p := NewPostgres(pool)
	t.Cleanup(func() { p.Close() })

	if err := p.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return p
}

func TestPostgresConcurrentFinalCommitsFlipOnce(t *testing.T) {
	p := newTestPostgres(t)
	ctx := context.Background()

	const applications = 16
	prefix := uuid.NewString()[:8]
	jobID := prefix + "-job"

	m := NewMemory()
	m.AddJob(matching.Job{ID: jobID, Title: "Go", Active: true, Company: matching.Company{ID: prefix + "-co", Name: "Co"}})
	m.AddCandidate(matching.CandidateProfile{ID: prefix + "-cand", Experience: 3, Skills: []string{"go"}, ResumeContent: "text"})
	for i := 0; i < applications; i++ {
		m.AddApplication(matching.Application{ID: fmt.Sprintf("%s-app-%d", prefix, i), JobID: jobID, CandidateID: prefix + "-cand"})
	}
	if err := p.Seed(ctx, m); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := p.BeginScoring(ctx, jobID, applications); err != nil {
		t.Fatalf("begin: %v", err)
	}

	var flips atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < applications; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := p.CommitResult(ctx, fmt.Sprintf("%s-app-%d", prefix, i), matching.ScoringResult{Score: 50})
			if err != nil {
				t.Errorf("commit %d: %v", i, err)
				return
			}
			if c.Flipped {
				flips.Add(1)
			}
		}()
	}
	wg.Wait()

	if flips.Load() != 1 {
		t.Fatalf("expected exactly one flip, got %d", flips.Load())
	}

	agg, err := p.Aggregate(ctx, jobID)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.Scored != applications || agg.Status != matching.StatusComplete {
		t.Fatalf("unexpected aggregate %+v", agg)
	}

	dup, err := p.CommitResult(ctx, prefix+"-app-0", matching.ScoringResult{Score: 60})
	if err != nil {
		t.Fatalf("re-commit: %v", err)
	}
	if dup.Counted || dup.Flipped || dup.Aggregate.Scored != applications {
		t.Fatalf("re-commit must not count: %+v", dup)
	}

	res, err := p.Result(ctx, prefix+"-app-0")
	if err != nil || res == nil || res.Score != 60 {
		t.Fatalf("unexpected stored result %+v, %v", res, err)
	}

	doc, err := p.Resume(ctx, prefix+"-cand")
	if err != nil || string(doc.Data) != "text" {
		t.Fatalf("unexpected resume %+v, %v", doc, err)
	}
}

func TestPostgresBeginScoringCountsProcessedApplications(t *testing.T) {
	p := newTestPostgres(t)
	ctx := context.Background()

	prefix := uuid.NewString()[:8]
	jobID := prefix + "-job"

	m := NewMemory()
	m.AddJob(matching.Job{ID: jobID, Title: "Go", Active: true, Company: matching.Company{ID: prefix + "-co", Name: "Co"}})
	m.AddCandidate(matching.CandidateProfile{ID: prefix + "-cand", Experience: 3, Skills: []string{"go"}})
	m.AddApplication(matching.Application{ID: prefix + "-done", JobID: jobID, CandidateID: prefix + "-cand", State: matching.TaskCommitted})
	m.AddApplication(matching.Application{ID: prefix + "-open", JobID: jobID, CandidateID: prefix + "-cand"})
	if err := p.Seed(ctx, m); err != nil {
		t.Fatalf("seed: %v", err)
	}

	agg, err := p.BeginScoring(ctx, jobID, 2)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if agg.Status != matching.StatusScoring || agg.Scored != 1 {
		t.Fatalf("expected the committed application to be counted, got %+v", agg)
	}

	c, err := p.CommitResult(ctx, prefix+"-open", matching.ScoringResult{Score: 40})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !c.Flipped || c.Aggregate.Status != matching.StatusComplete {
		t.Fatalf("expected the last open application to complete the job, got %+v", c)
	}
}
