package pipeline

import (
	"strings"
	"testing"

	"github.com/spigell/job-matcher/internal/matching"
)

func TestTaskEncodeDecode(t *testing.T) {
	task := NewApplicationTask(matching.Application{ID: "app-1", JobID: "job-1", CandidateID: "cand-1"})

	data, err := task.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(data), `"kind":"application"`) || !strings.Contains(string(data), `"applicationId":"app-1"`) {
		t.Fatalf("unexpected encoding %s", data)
	}

	got, err := DecodeTask(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != task.ID || got.CandidateID != "cand-1" || got.Kind != KindApplication {
		t.Fatalf("unexpected task %+v", got)
	}
}

func TestDecodeTaskRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"not json":            `{`,
		"missing job":         `{"id":"1","kind":"job"}`,
		"unknown kind":        `{"id":"1","kind":"candidate","jobId":"j"}`,
		"missing application": `{"id":"1","kind":"application","jobId":"j"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeTask([]byte(body)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestNewJobTask(t *testing.T) {
	task := NewJobTask("job-1", true)
	if task.Kind != KindJob || !task.Rescore || task.ID == "" || task.CreatedAt.IsZero() {
		t.Fatalf("unexpected task %+v", task)
	}
}
