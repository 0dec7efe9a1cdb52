package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/job-matcher/internal/matching"
)

type fakeJobs struct {
	jobs []matching.Job
	err  error
}

func (f *fakeJobs) ActiveJobs(context.Context) ([]matching.Job, error) {
	return f.jobs, f.err
}

type fakeProfiles map[string]matching.CandidateProfile

func (f fakeProfiles) Candidate(_ context.Context, id string) (*matching.CandidateProfile, error) {
	p, ok := f[id]
	if !ok {
		return nil, matching.ErrProfileNotFound
	}
	return &p, nil
}

type fixedResume string

func (r fixedResume) Text(context.Context, matching.CandidateProfile) string { return string(r) }

// titleScorer scores a job by looking its title up in a table.
type titleScorer struct {
	scores  map[string]int
	release chan struct{}

	mu      sync.Mutex
	resumes []string
}

func (s *titleScorer) ScoreFast(ctx context.Context, job matching.JobRequirements, candidate matching.CandidateProfile) matching.ScoringResult {
	s.mu.Lock()
	s.resumes = append(s.resumes, candidate.ResumeContent)
	s.mu.Unlock()

	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
		}
	}
	return matching.ScoringResult{Score: s.scores[job.Title], Source: matching.SourceQuick}
}

func newTestCoordinator(jobs *fakeJobs, scorer FitScorer, log *zap.Logger) *Coordinator {
	profiles := fakeProfiles{"c1": {ID: "c1", Experience: 3, Skills: []string{"Go"}}}
	return NewCoordinator(jobs, profiles, fixedResume("resume text"), scorer, Config{BatchSize: 5}, log, nil)
}

func collect(t *testing.T, s *Session) []Event {
	t.Helper()

	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("session did not close, got %d events", len(events))
		}
	}
}

func TestCoordinatorEmptyJobList(t *testing.T) {
	c := newTestCoordinator(&fakeJobs{}, &titleScorer{}, zap.NewNop())

	s, err := c.Start(context.Background(), "go", "c1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	events := collect(t, s)

	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(events), events)
	}
	wantTypes := []EventType{EventStatus, EventStatus, EventFinalResults}
	wantProgress := []int{0, 25, 100}
	for i, ev := range events {
		if ev.Type != wantTypes[i] || ev.Progress == nil || *ev.Progress != wantProgress[i] {
			t.Fatalf("event %d: got type %s progress %v", i, ev.Type, ev.Progress)
		}
	}

	final := events[2].Data.(FinalResults)
	if final.Jobs == nil || len(final.Jobs) != 0 {
		t.Fatalf("expected empty non-nil job list, got %#v", final.Jobs)
	}
	if s.State() != StateCompleted {
		t.Fatalf("expected completed state, got %s", s.State())
	}
}

func TestCoordinatorFiltersSortsAndCaps(t *testing.T) {
	scorer := &titleScorer{scores: map[string]int{}}
	var jobs []matching.Job
	for i := 0; i < 30; i++ {
		title := fmt.Sprintf("job-%02d", i)
		jobs = append(jobs, matching.Job{ID: title, Title: title})
		// with an empty query, relevance = round(0.7*fit + 15)
		scorer.scores[title] = i * 3
	}

	c := newTestCoordinator(&fakeJobs{jobs: jobs}, scorer, zap.NewNop())

	s, err := c.Start(context.Background(), "", "c1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	events := collect(t, s)

	var batches, batchJobs int
	lastProgress := 25
	for _, ev := range events {
		if ev.Type != EventBatchResults {
			continue
		}
		batches++
		items := ev.Data.([]matching.ScoredJob)
		batchJobs += len(items)
		if *ev.Progress < lastProgress || *ev.Progress > 85 {
			t.Fatalf("unexpected batch progress %d after %d", *ev.Progress, lastProgress)
		}
		lastProgress = *ev.Progress
		for i, j := range items {
			if j.RelevanceScore <= matching.RelevanceThreshold {
				t.Fatalf("batch leaked low relevance job %+v", j)
			}
			if i > 0 && items[i-1].RelevanceScore < j.RelevanceScore {
				t.Fatalf("batch not sorted: %d before %d", items[i-1].RelevanceScore, j.RelevanceScore)
			}
			if j.MatchAnalysis == nil || j.QueryRelevance != 50 {
				t.Fatalf("expected analysis and neutral query relevance, got %+v", j)
			}
		}
	}

	// jobs 0..7 stay at or below the threshold: the first batch emits
	// nothing and the second only jobs 8 and 9
	if batches != 5 {
		t.Fatalf("expected 5 batch events, got %d", batches)
	}
	if batchJobs != 22 {
		t.Fatalf("expected 22 jobs across batches, got %d", batchJobs)
	}
	if lastProgress != 85 {
		t.Fatalf("expected last batch progress 85, got %d", lastProgress)
	}

	last := events[len(events)-1]
	if last.Type != EventFinalResults {
		t.Fatalf("expected final results last, got %s", last.Type)
	}
	final := last.Data.(FinalResults).Jobs
	if len(final) != matching.MaxFinalResults {
		t.Fatalf("expected %d final jobs, got %d", matching.MaxFinalResults, len(final))
	}
	if final[0].ID != "job-29" {
		t.Fatalf("expected best job first, got %s", final[0].ID)
	}
	for i := 1; i < len(final); i++ {
		if final[i-1].RelevanceScore < final[i].RelevanceScore {
			t.Fatalf("final results not sorted at %d", i)
		}
	}

	for _, resume := range scorer.resumes {
		if resume != "resume text" {
			t.Fatalf("expected resume text to reach the scorer, got %q", resume)
		}
	}
}

func TestCoordinatorFallsBackWhenProfileMissing(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	jobs := &fakeJobs{jobs: []matching.Job{
		{ID: "1", Title: "Go Developer"},
		{ID: "2", Title: "Accountant"},
	}}
	c := newTestCoordinator(jobs, &titleScorer{}, zap.New(core))

	s, err := c.Start(context.Background(), "go", "missing")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	events := collect(t, s)

	if len(events) != 3 {
		t.Fatalf("expected status, error and final events, got %+v", events)
	}
	if events[1].Type != EventError || events[1].Error == "" {
		t.Fatalf("expected error event with cause, got %+v", events[1])
	}

	final := events[2].Data.(FinalResults).Jobs
	if len(final) != 1 || final[0].ID != "1" || final[0].RelevanceScore != 50 {
		t.Fatalf("unexpected fallback results %+v", final)
	}
	if s.State() != StateErrored {
		t.Fatalf("expected errored state, got %s", s.State())
	}
	if logs.FilterMessage("search failed, falling back to keyword search").Len() != 1 {
		t.Fatal("expected fallback warning")
	}
}

func TestCoordinatorFallbackWhenJobsFail(t *testing.T) {
	c := newTestCoordinator(&fakeJobs{err: errors.New("db down")}, &titleScorer{}, zap.NewNop())

	s, err := c.Start(context.Background(), "", "c1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	events := collect(t, s)

	last := events[len(events)-1]
	if last.Type != EventFinalResults || len(last.Data.(FinalResults).Jobs) != 0 {
		t.Fatalf("expected empty final results, got %+v", last)
	}
}

func TestCoordinatorStop(t *testing.T) {
	scorer := &titleScorer{scores: map[string]int{"a": 90}, release: make(chan struct{})}
	jobs := &fakeJobs{jobs: []matching.Job{{ID: "a", Title: "a"}, {ID: "b", Title: "a"}}}
	c := newTestCoordinator(jobs, scorer, zap.NewNop())

	s, err := c.Start(context.Background(), "", "c1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// wait for the two status events so the batch is in flight
	for i := 0; i < 2; i++ {
		<-s.Events()
	}

	if !c.Stop(s.ID()) {
		t.Fatal("expected running session to be stopped")
	}

	for ev := range s.Events() {
		if ev.Type == EventBatchResults || ev.Type == EventFinalResults {
			t.Fatalf("no results expected after stop, got %s", ev.Type)
		}
	}

	if s.State() != StateCancelled {
		t.Fatalf("expected cancelled state, got %s", s.State())
	}

	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := c.Session(s.ID()); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session was not removed after stop")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if c.Stop(s.ID()) {
		t.Fatal("stopping a finished session must report false")
	}
}

func TestCoordinatorRejectsAfterClose(t *testing.T) {
	c := newTestCoordinator(&fakeJobs{}, &titleScorer{}, zap.NewNop())
	c.Close()

	if _, err := c.Start(context.Background(), "", "c1"); !errors.Is(err, ErrCoordinatorClosed) {
		t.Fatalf("expected ErrCoordinatorClosed, got %v", err)
	}
}

func TestBatchProgress(t *testing.T) {
	cases := []struct{ index, total, want int }{
		{0, 1, 85},
		{0, 4, 40},
		{1, 4, 55},
		{3, 4, 85},
		{0, 3, 45},
	}
	for _, tc := range cases {
		if got := batchProgress(tc.index, tc.total); got != tc.want {
			t.Errorf("batchProgress(%d, %d) = %d, want %d", tc.index, tc.total, got, tc.want)
		}
	}
}
