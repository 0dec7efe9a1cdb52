// Package ai defines the input and output contract of the external scoring
// capability, independent of the provider that implements it.
package ai

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/spigell/job-matcher/internal/matching"
)

const ProviderGemini = "gemini"

// Request is the payload sent to the capability for one (job, candidate) pair.
type Request struct {
	JobTitle                 string   `json:"jobTitle"`
	EmploymentType           string   `json:"employmentType"`
	RequiredExperienceYears  int      `json:"requiredExperienceYears"`
	RequiredSkills           []string `json:"requiredSkills"`
	JobDescription           string   `json:"jobDescription"`
	CandidateExperienceYears int      `json:"candidateExperienceYears"`
	CandidateSkills          []string `json:"candidateSkills"`
	ResumeContent            string   `json:"resumeContent"`
}

func NewRequest(job matching.JobRequirements, candidate matching.CandidateProfile) Request {
	return Request{
		JobTitle:                 job.Title,
		EmploymentType:           job.EmploymentType,
		RequiredExperienceYears:  job.Experience,
		RequiredSkills:           nonNil(job.Tags),
		JobDescription:           job.Description,
		CandidateExperienceYears: candidate.Experience,
		CandidateSkills:          nonNil(candidate.Skills),
		ResumeContent:            candidate.ResumeContent,
	}
}

// rawResponse holds the model output before validation. Every field may be
// missing or of the wrong type.
type rawResponse struct {
	Score           any `mapstructure:"score"`
	Reasoning       any `mapstructure:"reasoning"`
	Strengths       any `mapstructure:"strengths"`
	Weaknesses      any `mapstructure:"weaknesses"`
	Recommendations any `mapstructure:"recommendations"`
}

// DecodeResponse turns a loosely typed model answer into a ScoringResult.
// Missing or malformed fields are defaulted: score to 0, lists to empty.
func DecodeResponse(data map[string]any) (*matching.ScoringResult, error) {
	var raw rawResponse
	if err := mapstructure.Decode(data, &raw); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &matching.ScoringResult{
		Score:           coerceScore(raw.Score),
		Reasoning:       coerceString(raw.Reasoning),
		Strengths:       coerceList(raw.Strengths),
		Weaknesses:      coerceList(raw.Weaknesses),
		Recommendations: coerceList(raw.Recommendations),
		Source:          matching.SourceAI,
	}, nil
}

func coerceScore(v any) int {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case int:
		f = float64(val)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int(math.Round(math.Max(0, math.Min(100, f))))
}

func coerceList(v any) []string {
	out := []string{}
	if v == nil {
		return out
	}

	var values []string
	if err := mapstructure.WeakDecode(v, &values); err != nil {
		return out
	}
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	return out
}

func coerceString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		bytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(bytes)
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
