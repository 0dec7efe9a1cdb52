package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spigell/job-matcher/internal/matching"
)

type Kind string

const (
	// KindJob is the parent task that fans a job out into application tasks.
	KindJob Kind = "job"
	// KindApplication scores one application.
	KindApplication Kind = "application"
)

// Task is the unit of work carried by the queue.
type Task struct {
	ID            string    `json:"id"`
	Kind          Kind      `json:"kind"`
	JobID         string    `json:"jobId"`
	ApplicationID string    `json:"applicationId,omitempty"`
	CandidateID   string    `json:"candidateId,omitempty"`
	Rescore       bool      `json:"rescore,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func NewJobTask(jobID string, rescore bool) Task {
	return Task{
		ID:        uuid.NewString(),
		Kind:      KindJob,
		JobID:     jobID,
		Rescore:   rescore,
		CreatedAt: time.Now().UTC(),
	}
}

func NewApplicationTask(app matching.Application) Task {
	return Task{
		ID:            uuid.NewString(),
		Kind:          KindApplication,
		JobID:         app.JobID,
		ApplicationID: app.ID,
		CandidateID:   app.CandidateID,
		CreatedAt:     time.Now().UTC(),
	}
}

func (t Task) Encode() ([]byte, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(t)
}

func DecodeTask(data []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	if err := t.validate(); err != nil {
		return Task{}, err
	}
	return t, nil
}

func (t Task) validate() error {
	switch {
	case t.JobID == "":
		return fmt.Errorf("task %s: job id is required", t.ID)
	case t.Kind == KindJob:
		return nil
	case t.Kind == KindApplication:
		if t.ApplicationID == "" {
			return fmt.Errorf("task %s: application id is required", t.ID)
		}
		return nil
	}
	return fmt.Errorf("task %s: unknown kind %q", t.ID, t.Kind)
}
