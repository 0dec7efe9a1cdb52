package search

import "github.com/spigell/job-matcher/internal/matching"

type EventType string

const (
	EventStatus       EventType = "status"
	EventBatchResults EventType = "batch_results"
	EventFinalResults EventType = "final_results"
	EventError        EventType = "error"
)

// Event is one frame of a search stream.
type Event struct {
	Type     EventType `json:"type"`
	Message  string    `json:"message,omitempty"`
	Progress *int      `json:"progress,omitempty"`
	Data     any       `json:"data,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// FinalResults is the payload of a final_results event. It replaces whatever
// the consumer accumulated from batch_results.
type FinalResults struct {
	Jobs []matching.ScoredJob `json:"jobs"`
}

func statusEvent(message string, progress int) Event {
	return Event{Type: EventStatus, Message: message, Progress: &progress}
}

func batchEvent(jobs []matching.ScoredJob, progress int) Event {
	return Event{Type: EventBatchResults, Data: jobs, Progress: &progress}
}

func finalEvent(jobs []matching.ScoredJob) Event {
	if jobs == nil {
		jobs = []matching.ScoredJob{}
	}
	progress := 100
	return Event{Type: EventFinalResults, Data: FinalResults{Jobs: jobs}, Progress: &progress}
}

func errorEvent(message string, err error) Event {
	ev := Event{Type: EventError, Message: message}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}
