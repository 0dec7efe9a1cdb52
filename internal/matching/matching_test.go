package matching_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/spigell/job-matcher/internal/matching"
)

func TestParseAggregateStatus(t *testing.T) {
	for _, s := range []string{"PENDING", "SCORING", "COMPLETE"} {
		got, err := matching.ParseAggregateStatus(s)
		if err != nil {
			t.Errorf("ParseAggregateStatus(%q) returned unexpected error: %v", s, err)
		}
		if string(got) != s {
			t.Errorf("ParseAggregateStatus(%q) = %q, want %q", s, got, s)
		}
	}

	if _, err := matching.ParseAggregateStatus("DONE"); err == nil {
		t.Error("ParseAggregateStatus(\"DONE\") expected error, got nil")
	}
}

func TestIsTransitionAllowed(t *testing.T) {
	cases := []struct {
		from, to matching.AggregateStatus
		want     bool
	}{
		{matching.StatusPending, matching.StatusScoring, true},
		{matching.StatusScoring, matching.StatusComplete, true},
		{matching.StatusPending, matching.StatusComplete, true},
		{matching.StatusComplete, matching.StatusScoring, false},
		{matching.StatusComplete, matching.StatusComplete, false},
		{matching.StatusScoring, matching.StatusPending, false},
	}

	for _, tc := range cases {
		if got := matching.IsTransitionAllowed(tc.from, tc.to); got != tc.want {
			t.Errorf("IsTransitionAllowed(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestRequirementsIsSnapshot(t *testing.T) {
	job := matching.Job{Title: "Go Developer", Experience: 3, Tags: []string{"Go", "SQL"}}

	req := job.Requirements()
	job.Tags[0] = "Rust"

	if req.Tags[0] != "Go" {
		t.Fatalf("expected requirements to keep original tag, got %q", req.Tags[0])
	}
	if req.Title != "Go Developer" || req.Experience != 3 {
		t.Fatalf("unexpected requirements: %+v", req)
	}
}

func TestRetryable(t *testing.T) {
	base := errors.New("connection reset")
	err := fmt.Errorf("load candidate: %w", matching.Retryable(base))

	if !matching.IsRetryable(err) {
		t.Fatal("expected wrapped error to be retryable")
	}
	if !errors.Is(err, base) {
		t.Fatal("expected original cause to be reachable")
	}
	if matching.IsRetryable(matching.ErrProfileNotFound) {
		t.Fatal("profile not found must not be retryable")
	}
	if matching.Retryable(nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}

func TestTaskStateProcessed(t *testing.T) {
	processed := map[matching.TaskState]bool{
		matching.TaskQueued:          false,
		matching.TaskInProgress:      false,
		matching.TaskFailedRetryable: false,
		matching.TaskCommitted:       true,
		matching.TaskFailedTerminal:  true,
	}
	for state, want := range processed {
		if got := state.Processed(); got != want {
			t.Errorf("%s.Processed() = %v, want %v", state, got, want)
		}
	}
}
