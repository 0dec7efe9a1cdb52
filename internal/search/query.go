package search

import (
	"strings"

	"github.com/spigell/job-matcher/internal/matching"
)

const neutralQueryRelevance = 50

// QueryRelevance scores how well a free-text query matches a job, from 0 to 100.
// An empty query is neutral and scores 50.
func QueryRelevance(job matching.Job, query string) int {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return neutralQueryRelevance
	}
	words := strings.Fields(q)

	title := strings.ToLower(job.Title)
	description := strings.ToLower(job.Description)
	tags := make([]string, len(job.Tags))
	for i, tag := range job.Tags {
		tags[i] = strings.ToLower(tag)
	}

	score := 0

	switch {
	case strings.Contains(title, q):
		score += 40
	case containsAnyWord(title, words):
		score += 25
	}

	switch {
	case anyTagContains(tags, []string{q}):
		score += 30
	case anyTagContains(tags, words):
		score += 20
	}

	switch {
	case strings.Contains(description, q):
		score += 20
	case containsAnyWord(description, words):
		score += 10
	}

	if strings.Contains(strings.ToLower(job.Company.Name), q) {
		score += 15
	}
	if strings.Contains(strings.ToLower(job.Location), q) {
		score += 10
	}

	return min(score, 100)
}

func containsAnyWord(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func anyTagContains(tags, words []string) bool {
	for _, tag := range tags {
		if containsAnyWord(tag, words) {
			return true
		}
	}
	return false
}
