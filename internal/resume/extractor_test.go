package resume

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/job-matcher/internal/matching"
	"github.com/spigell/job-matcher/internal/store"
)

func TestText(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		data        string
		want        string
		wantErr     bool
	}{
		{name: "plain", contentType: "text/plain; charset=utf-8", data: "  Go   developer \n\n Redis ", want: "Go developer\nRedis"},
		{name: "empty type defaults to plain", data: "hello", want: "hello"},
		{name: "markdown", contentType: "text/markdown", data: "# Ada\n- **Go** and `Redis`\n> quote", want: "Ada\nGo and Redis\nquote"},
		{name: "html", contentType: "text/html", data: "<html><style>p{}</style><body><h1>Ada</h1><p>Go &amp; Redis</p><script>x()</script></body></html>", want: "Ada\nGo & Redis"},
		{name: "pdf unsupported", contentType: "application/pdf", data: "%PDF", wantErr: true},
		{name: "bad content type", contentType: "///", data: "x", wantErr: true},
		{name: "invalid utf8", contentType: "text/plain", data: "\xff\xfe", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Text(tt.contentType, []byte(tt.data))
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedFormat) {
					t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractorText(t *testing.T) {
	m := store.NewMemory()
	m.PutResume(store.ResumeDocument{CandidateID: "md", ContentType: "text/markdown", Data: []byte("## Skills\n- Go")})
	m.PutResume(store.ResumeDocument{CandidateID: "pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")})

	core, logs := observer.New(zapcore.DebugLevel)
	e := New(m, 0, zap.New(core))
	ctx := context.Background()

	if got := e.Text(ctx, matching.CandidateProfile{ID: "md"}); got != "Skills\nGo" {
		t.Fatalf("unexpected markdown text %q", got)
	}
	if got := e.Text(ctx, matching.CandidateProfile{ID: "x", ResumeContent: "inline"}); got != "inline" {
		t.Fatalf("inline resume must win, got %q", got)
	}
	if got := e.Text(ctx, matching.CandidateProfile{ID: "missing"}); got != Placeholder {
		t.Fatalf("expected placeholder for missing resume, got %q", got)
	}
	if got := e.Text(ctx, matching.CandidateProfile{ID: "pdf"}); got != Placeholder {
		t.Fatalf("expected placeholder for unsupported resume, got %q", got)
	}

	if logs.FilterMessage("failed to extract resume text").Len() != 1 {
		t.Fatal("expected a warning for the unsupported document")
	}
	if logs.FilterMessage("candidate has no resume").Len() != 1 {
		t.Fatal("expected a debug entry for the missing resume")
	}
}

func TestExtractorTruncates(t *testing.T) {
	m := store.NewMemory()
	m.PutResume(store.ResumeDocument{CandidateID: "c", ContentType: "text/plain", Data: []byte("абвгдеж")})

	got, err := New(m, 3, zap.NewNop()).Extract(context.Background(), "c")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got != "абв" {
		t.Fatalf("expected rune-aware truncation, got %q", got)
	}
}
