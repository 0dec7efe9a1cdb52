package search

import (
	"testing"

	"github.com/spigell/job-matcher/internal/matching"
)

func TestQueryRelevance(t *testing.T) {
	job := matching.Job{
		Title:       "Senior Go Developer",
		Description: "Build distributed systems in Go and PostgreSQL",
		Tags:        []string{"Go", "PostgreSQL", "Kubernetes"},
		Location:    "Berlin",
		Company:     matching.Company{Name: "Gopher Labs"},
	}

	cases := []struct {
		name  string
		query string
		want  int
	}{
		{name: "empty", query: "", want: 50},
		{name: "blank", query: "   ", want: 50},
		{name: "full title match", query: "go developer", want: 40 + 20 + 10},
		{name: "words only", query: "developer kubernetes", want: 25 + 20 + 0},
		{name: "location", query: "berlin", want: 10},
		{name: "tag full match", query: "postgresql", want: 30 + 20},
		{name: "no match", query: "rust", want: 0},
		{name: "capped", query: "go", want: 100},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := QueryRelevance(job, tc.query); got != tc.want {
				t.Fatalf("QueryRelevance(%q) = %d, want %d", tc.query, got, tc.want)
			}
		})
	}
}
