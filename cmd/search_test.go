package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spigell/job-matcher/internal/matching"
)

func TestPrintResults(t *testing.T) {
	var buf bytes.Buffer
	jobs := []matching.ScoredJob{{
		Job:            matching.Job{ID: "job-go", Title: "Go Developer", Company: matching.Company{Name: "Acme Corp"}},
		RelevanceScore: 72,
		MatchAnalysis:  &matching.ScoringResult{Score: 72},
		QueryRelevance: 50,
	}}

	if err := printResults(&buf, jobs); err != nil {
		t.Fatalf("print: %v", err)
	}
	for _, want := range []string{"job-go", "Go Developer", "Acme Corp", "72", "50"} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("expected %q in output:\n%s", want, buf.String())
		}
	}
}

func TestPrintResultsEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := printResults(&buf, nil); err != nil {
		t.Fatalf("print: %v", err)
	}
	if !strings.Contains(buf.String(), "No matching jobs found.") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
