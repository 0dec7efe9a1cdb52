package search

import (
	"strings"

	"github.com/spigell/job-matcher/internal/matching"
)

const basicSearchScore = 50

// BasicSearch is the keyword fallback used when a personalised search cannot
// run. Jobs whose title, description or tags contain any query word are
// returned with a flat relevance of 50, in input order, capped at
// matching.MaxFinalResults. An empty query matches every job.
func BasicSearch(jobs []matching.Job, query string) []matching.ScoredJob {
	words := strings.Fields(strings.ToLower(query))

	out := []matching.ScoredJob{}
	for _, job := range jobs {
		if len(out) == matching.MaxFinalResults {
			break
		}
		if len(words) > 0 && !keywordMatch(job, words) {
			continue
		}
		out = append(out, matching.ScoredJob{
			Job:            job,
			RelevanceScore: basicSearchScore,
			QueryRelevance: basicSearchScore,
		})
	}
	return out
}

func keywordMatch(job matching.Job, words []string) bool {
	if containsAnyWord(strings.ToLower(job.Title), words) || containsAnyWord(strings.ToLower(job.Description), words) {
		return true
	}
	for _, tag := range job.Tags {
		if containsAnyWord(strings.ToLower(tag), words) {
			return true
		}
	}
	return false
}
