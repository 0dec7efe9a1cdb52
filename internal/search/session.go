package search

import (
	"context"
	"sync"

	"github.com/spigell/job-matcher/internal/matching"
)

type State string

const (
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateErrored   State = "ERRORED"
	StateCancelled State = "CANCELLED"
)

// Session is one running search. Its events are produced by the coordinator
// only and must be consumed by a single reader.
type Session struct {
	id          string
	query       string
	candidateID string
	events      chan Event
	cancel      context.CancelFunc

	mu       sync.Mutex
	state    State
	progress int
	found    []matching.ScoredJob
}

func (s *Session) ID() string { return s.id }

func (s *Session) Query() string { return s.query }

// Events is closed when the session reaches a terminal state.
func (s *Session) Events() <-chan Event { return s.events }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Progress() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// Found returns a copy of every job emitted in batch results so far.
func (s *Session) Found() []matching.ScoredJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]matching.ScoredJob(nil), s.found...)
}

func (s *Session) record(jobs []matching.ScoredJob, progress int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.found = append(s.found, jobs...)
	s.progress = progress
}

// finish moves a running session to a terminal state; later calls are ignored.
func (s *Session) finish(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return
	}
	s.state = state
	if state == StateCompleted || state == StateErrored {
		s.progress = 100
	}
}
