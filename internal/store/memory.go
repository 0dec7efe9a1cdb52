package store

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spigell/job-matcher/internal/matching"
)

// fixture is the layout of the YAML data file used to seed a Memory store.
type fixture struct {
	Jobs         []matching.Job              `yaml:"jobs"`
	Candidates   []matching.CandidateProfile `yaml:"candidates"`
	Applications []matching.Application      `yaml:"applications"`
}

type applicationRecord struct {
	app    matching.Application
	result *matching.ScoringResult
}

// Memory is a process-local Store. A single mutex guards every write, which
// makes it the single writer of all completion aggregates.
type Memory struct {
	mu sync.Mutex

	jobs       []matching.Job
	candidates []matching.CandidateProfile
	resumes    map[string]ResumeDocument
	apps       []*applicationRecord
	aggregates map[string]*matching.JobAggregate

	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		resumes:    make(map[string]ResumeDocument),
		aggregates: make(map[string]*matching.JobAggregate),
		now:        time.Now,
	}
}

// LoadMemory builds a Memory store from a YAML data file.
func LoadMemory(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read data file: %w", err)
	}

	m := NewMemory()
	if err := m.Seed(data); err != nil {
		return nil, fmt.Errorf("seed %s: %w", path, err)
	}
	return m, nil
}

// Seed loads jobs, candidates (with inline resume text) and applications.
func (m *Memory) Seed(data []byte) error {
	var f fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse fixture: %w", err)
	}

	for _, job := range f.Jobs {
		m.AddJob(job)
	}
	for _, c := range f.Candidates {
		m.AddCandidate(c)
	}
	for _, app := range f.Applications {
		if err := m.AddApplication(app); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) AddJob(job matching.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job.CreatedAt.IsZero() {
		job.CreatedAt = m.now()
	}
	m.jobs = append(m.jobs, job)
}

// AddCandidate stores the profile. Non-empty ResumeContent is kept as a
// plain text resume document.
func (m *Memory) AddCandidate(c matching.CandidateProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.ResumeContent != "" {
		m.resumes[c.ID] = ResumeDocument{CandidateID: c.ID, ContentType: "text/plain", Data: []byte(c.ResumeContent)}
		c.ResumeContent = ""
	}
	m.candidates = append(m.candidates, c)
}

func (m *Memory) PutResume(doc ResumeDocument) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resumes[doc.CandidateID] = doc
}

func (m *Memory) AddApplication(app matching.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if app.ID == "" || app.JobID == "" || app.CandidateID == "" {
		return fmt.Errorf("application %q: id, job_id and candidate_id are required", app.ID)
	}
	if m.findApp(app.ID) != nil {
		return fmt.Errorf("application %q already exists", app.ID)
	}
	if app.State == "" {
		app.State = matching.TaskQueued
	}
	m.apps = append(m.apps, &applicationRecord{app: app})
	return nil
}

func (m *Memory) ActiveJobs(_ context.Context) ([]matching.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]matching.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		if job.Active {
			out = append(out, cloneJob(job))
		}
	}
	return out, nil
}

func (m *Memory) allJobs() []matching.Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]matching.Job, len(m.jobs))
	for i, job := range m.jobs {
		out[i] = cloneJob(job)
	}
	return out
}

func (m *Memory) Job(_ context.Context, id string) (*matching.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.ID == id {
			j := cloneJob(job)
			return &j, nil
		}
	}
	return nil, fmt.Errorf("job %q: %w", id, matching.ErrJobNotFound)
}

func (m *Memory) Candidate(_ context.Context, id string) (*matching.CandidateProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.candidates {
		if c.ID == id {
			c.Skills = slices.Clone(c.Skills)
			return &c, nil
		}
	}
	return nil, fmt.Errorf("candidate %q: %w", id, matching.ErrProfileNotFound)
}

func (m *Memory) Candidates(_ context.Context) ([]matching.CandidateProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]matching.CandidateProfile, len(m.candidates))
	for i, c := range m.candidates {
		c.Skills = slices.Clone(c.Skills)
		out[i] = c
	}
	return out, nil
}

func (m *Memory) Resume(_ context.Context, candidateID string) (*ResumeDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.resumes[candidateID]
	if !ok {
		return nil, fmt.Errorf("candidate %q: %w", candidateID, ErrResumeNotFound)
	}
	doc.Data = slices.Clone(doc.Data)
	return &doc, nil
}

func (m *Memory) Applications(_ context.Context, jobID string) ([]matching.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []matching.Application{}
	for _, rec := range m.apps {
		if rec.app.JobID == jobID {
			out = append(out, rec.app)
		}
	}
	return out, nil
}

func (m *Memory) EnsureAggregate(_ context.Context, jobID string) (matching.JobAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	agg, ok := m.aggregates[jobID]
	if !ok {
		agg = &matching.JobAggregate{JobID: jobID, Status: matching.StatusPending}
		m.aggregates[jobID] = agg
	}
	return *agg, nil
}

func (m *Memory) BeginScoring(_ context.Context, jobID string, total int) (matching.JobAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	agg, ok := m.aggregates[jobID]
	if ok && agg.Status != matching.StatusPending {
		return *agg, nil
	}
	if !ok {
		agg = &matching.JobAggregate{JobID: jobID, Status: matching.StatusPending}
		m.aggregates[jobID] = agg
	}

	// Applications processed before the fan-out count from the start; they
	// are not enqueued again.
	agg.Total = total
	agg.Scored = 0
	agg.Failed = 0
	for _, rec := range m.apps {
		if rec.app.JobID != jobID {
			continue
		}
		switch rec.app.State {
		case matching.TaskFailedTerminal:
			agg.Failed++
			agg.Scored++
		case matching.TaskCommitted:
			agg.Scored++
		default:
			rec.app.State = matching.TaskQueued
		}
	}
	agg.Status = matching.StatusScoring
	m.maybeComplete(agg)

	return *agg, nil
}

func (m *Memory) SetTaskState(_ context.Context, applicationID string, state matching.TaskState) error {
	if !validTaskState(state) {
		return fmt.Errorf("%w: %s", ErrInvalidTaskState, state)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.findApp(applicationID)
	if rec == nil {
		return fmt.Errorf("application %q: %w", applicationID, matching.ErrApplicationNotFound)
	}
	if !rec.app.State.Processed() {
		rec.app.State = state
	}
	return nil
}

func (m *Memory) CommitResult(_ context.Context, applicationID string, result matching.ScoringResult) (matching.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, agg, err := m.lookup(applicationID)
	if err != nil {
		return matching.Completion{}, err
	}

	previous := rec.app.State
	score := result.Score
	rec.app.State = matching.TaskCommitted
	rec.app.Score = &score
	rec.app.Failure = ""
	rec.result = &result

	counted := false
	switch {
	case !previous.Processed():
		agg.Scored++
		counted = true
	case previous == matching.TaskFailedTerminal:
		// re-scored after a terminal failure: still processed, no longer failed
		agg.Failed--
	}

	flipped := m.maybeComplete(agg)
	return matching.Completion{Aggregate: *agg, Counted: counted, Flipped: flipped}, nil
}

func (m *Memory) MarkFailed(_ context.Context, applicationID, reason string) (matching.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, agg, err := m.lookup(applicationID)
	if err != nil {
		return matching.Completion{}, err
	}

	if rec.app.State.Processed() {
		return matching.Completion{Aggregate: *agg}, nil
	}

	rec.app.State = matching.TaskFailedTerminal
	rec.app.Failure = reason
	agg.Scored++
	agg.Failed++

	flipped := m.maybeComplete(agg)
	return matching.Completion{Aggregate: *agg, Counted: true, Flipped: flipped}, nil
}

func (m *Memory) Aggregate(_ context.Context, jobID string) (matching.JobAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	agg, ok := m.aggregates[jobID]
	if !ok {
		return matching.JobAggregate{}, fmt.Errorf("job %q: %w", jobID, ErrNoAggregate)
	}
	return *agg, nil
}

func (m *Memory) Result(_ context.Context, applicationID string) (*matching.ScoringResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.findApp(applicationID)
	if rec == nil {
		return nil, fmt.Errorf("application %q: %w", applicationID, matching.ErrApplicationNotFound)
	}
	if rec.result == nil {
		return nil, nil
	}
	res := *rec.result
	return &res, nil
}

func (m *Memory) Close() error { return nil }

func (m *Memory) lookup(applicationID string) (*applicationRecord, *matching.JobAggregate, error) {
	rec := m.findApp(applicationID)
	if rec == nil {
		return nil, nil, fmt.Errorf("application %q: %w", applicationID, matching.ErrApplicationNotFound)
	}
	agg, ok := m.aggregates[rec.app.JobID]
	if !ok || agg.Status == matching.StatusPending {
		return nil, nil, fmt.Errorf("job %q: %w", rec.app.JobID, ErrNoAggregate)
	}
	return rec, agg, nil
}

func (m *Memory) findApp(id string) *applicationRecord {
	for _, rec := range m.apps {
		if rec.app.ID == id {
			return rec
		}
	}
	return nil
}

// maybeComplete flips agg to COMPLETE when every application is processed.
// It must be called with m.mu held.
func (m *Memory) maybeComplete(agg *matching.JobAggregate) bool {
	if !agg.Done() || !matching.IsTransitionAllowed(agg.Status, matching.StatusComplete) {
		return false
	}
	now := m.now()
	agg.Status = matching.StatusComplete
	agg.CompletedAt = &now
	return true
}

func cloneJob(job matching.Job) matching.Job {
	job.Tags = slices.Clone(job.Tags)
	return job
}
