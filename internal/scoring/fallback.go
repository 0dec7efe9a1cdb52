package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/spigell/job-matcher/internal/matching"
)

const (
	fallbackBase = 50
	quickBase    = 40
	skillWeight  = 30.0
	quickExpCap  = 30.0
)

// FallbackScore computes the deterministic score used when the external
// capability is unavailable. It has no side effects.
func FallbackScore(job matching.JobRequirements, candidate matching.CandidateProfile) matching.ScoringResult {
	ratio := experienceRatio(job, candidate)
	matched, missing := skillOverlap(job.Tags, candidate.Skills)
	skill := skillBonus(len(matched), len(job.Tags))

	score := float64(fallbackBase) + experienceBonus(ratio) + skill

	result := matching.ScoringResult{
		Score:           clamp(score),
		Reasoning:       fmt.Sprintf("Heuristic assessment: %d of %d required years, %d of %d listed skills matched.", candidate.Experience, job.Experience, len(matched), len(job.Tags)),
		Strengths:       []string{},
		Weaknesses:      []string{},
		Recommendations: []string{},
		Source:          matching.SourceFallback,
	}

	switch {
	case ratio >= 1:
		result.Strengths = append(result.Strengths, "Meets the required experience")
	case ratio >= 0.5:
		result.Weaknesses = append(result.Weaknesses, "Slightly below the required experience")
	default:
		result.Weaknesses = append(result.Weaknesses, "Significantly below the required experience")
		result.Recommendations = append(result.Recommendations, "Highlight projects that compensate for fewer years of experience")
	}

	if len(matched) > 0 {
		result.Strengths = append(result.Strengths, "Relevant skills: "+strings.Join(matched, ", "))
	}
	if len(missing) > 0 {
		result.Weaknesses = append(result.Weaknesses, "Missing skills: "+strings.Join(missing, ", "))
		result.Recommendations = append(result.Recommendations, "Consider building experience with "+strings.Join(missing, ", "))
	}

	return result
}

// QuickScore is the fast-path heuristic: a lower base and a continuous
// experience bonus capped at 30 points.
func QuickScore(job matching.JobRequirements, candidate matching.CandidateProfile) matching.ScoringResult {
	ratio := experienceRatio(job, candidate)
	matched, _ := skillOverlap(job.Tags, candidate.Skills)

	score := float64(quickBase) + math.Min(ratio*quickExpCap, quickExpCap) + skillBonus(len(matched), len(job.Tags))

	strengths := []string{}
	if len(matched) > 0 {
		strengths = append(strengths, "Relevant skills: "+strings.Join(matched, ", "))
	}

	return matching.ScoringResult{
		Score:           clamp(score),
		Reasoning:       "Quick match based on experience and skills",
		Strengths:       strengths,
		Weaknesses:      []string{},
		Recommendations: []string{},
		Source:          matching.SourceQuick,
	}
}

func experienceRatio(job matching.JobRequirements, candidate matching.CandidateProfile) float64 {
	required := job.Experience
	if required < 1 {
		required = 1
	}
	ratio := float64(candidate.Experience) / float64(required)
	if ratio < 0 {
		return 0
	}
	return ratio
}

func experienceBonus(ratio float64) float64 {
	switch {
	case ratio >= 1:
		return 20
	case ratio >= 0.7:
		return 15
	case ratio >= 0.5:
		return 10
	default:
		return 0
	}
}

// skillBonus scales the share of job tags covered by the candidate to 30 points.
func skillBonus(matched, tags int) float64 {
	if tags < 1 {
		tags = 1
	}
	fraction := float64(matched) / float64(tags)
	if fraction > 1 {
		fraction = 1
	}
	return fraction * skillWeight
}

// skillOverlap returns the candidate skills that match any tag and the tags no
// skill matched. Matching is a case-insensitive substring check in either direction.
func skillOverlap(tags, skills []string) (matched, missing []string) {
	lowerTags := make([]string, len(tags))
	for i, tag := range tags {
		lowerTags[i] = strings.ToLower(strings.TrimSpace(tag))
	}
	covered := make([]bool, len(tags))

	for _, skill := range skills {
		s := strings.ToLower(strings.TrimSpace(skill))
		if s == "" {
			continue
		}
		hit := false
		for i, tag := range lowerTags {
			if tag == "" {
				continue
			}
			if strings.Contains(tag, s) || strings.Contains(s, tag) {
				covered[i] = true
				hit = true
			}
		}
		if hit {
			matched = append(matched, strings.TrimSpace(skill))
		}
	}

	for i, tag := range lowerTags {
		if tag != "" && !covered[i] {
			missing = append(missing, strings.TrimSpace(tags[i]))
		}
	}

	return matched, missing
}

func clamp(score float64) int {
	if math.IsNaN(score) {
		return 0
	}
	return int(math.Round(math.Max(0, math.Min(100, score))))
}
