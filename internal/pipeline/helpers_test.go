package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/job-matcher/internal/matching"
	"github.com/spigell/job-matcher/internal/queue"
	"github.com/spigell/job-matcher/internal/scoring"
	"github.com/spigell/job-matcher/internal/store"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []matching.JobAggregate
	err    error
}

func (n *recordingNotifier) JobScored(_ context.Context, agg matching.JobAggregate) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, agg)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type failingCapability struct{}

func (failingCapability) Score(context.Context, matching.JobRequirements, matching.CandidateProfile) (*matching.ScoringResult, error) {
	return nil, errors.New("quota exceeded")
}

type fixedResume string

func (r fixedResume) Text(context.Context, matching.CandidateProfile) string { return string(r) }

type harness struct {
	store    *store.Memory
	queue    *queue.Memory
	notifier *recordingNotifier
	orch     *Orchestrator
	tracker  *Tracker
	pool     *Pool
}

// newHarness seeds job-1 with the given number of applications.
func newHarness(t *testing.T, applications, workers int, capability scoring.Capability, log *zap.Logger) *harness {
	t.Helper()

	m := store.NewMemory()
	m.AddJob(matching.Job{ID: "job-1", Title: "Go Developer", Experience: 4, Tags: []string{"Go", "PostgreSQL"}, Active: true})
	m.AddJob(matching.Job{ID: "job-empty", Title: "Nobody applied", Active: true})
	for i := 0; i < applications; i++ {
		candID := fmt.Sprintf("cand-%d", i)
		m.AddCandidate(matching.CandidateProfile{ID: candID, Experience: i % 8, Skills: []string{"go"}})
		if err := m.AddApplication(matching.Application{ID: fmt.Sprintf("app-%d", i), JobID: "job-1", CandidateID: candID}); err != nil {
			t.Fatalf("add application: %v", err)
		}
	}

	q := queue.NewMemory(time.Minute)
	notifier := &recordingNotifier{}
	scorer := scoring.NewScorer(capability, log, scoring.Options{Timeout: time.Second})
	tracker := NewTracker(m, notifier, log, nil)
	orch := NewOrchestrator(m, m, m, q, log)
	processor := NewProcessor(m, m, fixedResume("resume"), scorer, tracker, log)

	pool := NewPool(q, Handlers{Jobs: orch, Applications: processor, Failures: tracker, States: m},
		PoolConfig{Workers: workers, MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
		log, nil)

	return &harness{store: m, queue: q, notifier: notifier, orch: orch, tracker: tracker, pool: pool}
}

// runUntilComplete runs the pool until job-1 is COMPLETE.
func (h *harness) runUntilComplete(t *testing.T) matching.JobAggregate {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.pool.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		agg, err := h.store.Aggregate(context.Background(), "job-1")
		if err == nil && agg.Status == matching.StatusComplete {
			return agg
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job did not complete in time")
	return matching.JobAggregate{}
}
