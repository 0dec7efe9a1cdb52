package search

import (
	"fmt"
	"testing"

	"github.com/spigell/job-matcher/internal/matching"
)

func TestBasicSearch(t *testing.T) {
	jobs := []matching.Job{
		{ID: "1", Title: "Go Developer"},
		{ID: "2", Title: "Designer", Description: "Figma all day"},
		{ID: "3", Title: "Platform Engineer", Tags: []string{"Golang", "AWS"}},
	}

	got := BasicSearch(jobs, "GO")
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "3" {
		t.Fatalf("unexpected results %+v", got)
	}
	for _, j := range got {
		if j.RelevanceScore != 50 || j.MatchAnalysis != nil {
			t.Fatalf("expected flat score without analysis, got %+v", j)
		}
	}

	if all := BasicSearch(jobs, ""); len(all) != 3 {
		t.Fatalf("empty query should match everything, got %d", len(all))
	}
	if none := BasicSearch(nil, "go"); none == nil || len(none) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", none)
	}
}

func TestBasicSearchCapsResults(t *testing.T) {
	jobs := make([]matching.Job, 50)
	for i := range jobs {
		jobs[i] = matching.Job{ID: fmt.Sprint(i), Title: "Engineer"}
	}

	if got := BasicSearch(jobs, "engineer"); len(got) != matching.MaxFinalResults {
		t.Fatalf("expected %d results, got %d", matching.MaxFinalResults, len(got))
	}
}
