// Package resume turns stored resume documents into plain text for scoring.
package resume

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/spigell/job-matcher/internal/logger"
	"github.com/spigell/job-matcher/internal/matching"
	"github.com/spigell/job-matcher/internal/store"
)

// Placeholder replaces resume text that could not be obtained.
const Placeholder = "Resume content not available"

const DefaultMaxLength = 20000

var ErrUnsupportedFormat = errors.New("unsupported resume format")

type Extractor struct {
	repo      store.ResumeRepository
	maxLength int
	logger    *zap.Logger
}

func New(repo store.ResumeRepository, maxLength int, log *zap.Logger) *Extractor {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Extractor{repo: repo, maxLength: maxLength, logger: logger.Named(log, "resume")}
}

// Extract loads the candidate's resume and returns its text.
func (e *Extractor) Extract(ctx context.Context, candidateID string) (string, error) {
	doc, err := e.repo.Resume(ctx, candidateID)
	if err != nil {
		return "", err
	}

	text, err := Text(doc.ContentType, doc.Data)
	if err != nil {
		return "", fmt.Errorf("candidate %q: %w", candidateID, err)
	}
	return truncate(text, e.maxLength), nil
}

// Text never fails: inline resume content wins, then the stored document,
// then Placeholder.
func (e *Extractor) Text(ctx context.Context, candidate matching.CandidateProfile) string {
	if strings.TrimSpace(candidate.ResumeContent) != "" {
		return truncate(candidate.ResumeContent, e.maxLength)
	}

	text, err := e.Extract(ctx, candidate.ID)
	switch {
	case errors.Is(err, store.ErrResumeNotFound):
		e.logger.Debug("candidate has no resume", zap.String(logger.FieldCandidateID, candidate.ID))
		return Placeholder
	case err != nil:
		e.logger.Warn("failed to extract resume text", zap.String(logger.FieldCandidateID, candidate.ID), zap.Error(err))
		return Placeholder
	case strings.TrimSpace(text) == "":
		return Placeholder
	}
	return text
}

// Text converts a document of the given media type to plain text.
func Text(contentType string, data []byte) (string, error) {
	mediaType := "text/plain"
	if contentType != "" {
		parsed, _, err := mime.ParseMediaType(contentType)
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, contentType)
		}
		mediaType = parsed
	}

	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: %s is not valid UTF-8", ErrUnsupportedFormat, mediaType)
	}

	switch mediaType {
	case "text/plain":
		return normalize(string(data)), nil
	case "text/markdown", "text/x-markdown":
		return normalize(stripMarkdown(string(data))), nil
	case "text/html", "application/xhtml+xml":
		text, err := stripHTML(data)
		if err != nil {
			return "", err
		}
		return normalize(text), nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, mediaType)
}

func stripHTML(data []byte) (string, error) {
	var sb strings.Builder
	z := html.NewTokenizer(bytes.NewReader(data))
	skip := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return sb.String(), nil
			}
			return "", fmt.Errorf("parse html resume: %w", z.Err())
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				skip++
			case "br", "p", "div", "li", "h1", "h2", "h3", "h4", "tr":
				sb.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if (string(name) == "script" || string(name) == "style") && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
				sb.WriteByte(' ')
			}
		}
	}
}

func stripMarkdown(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		line = strings.TrimLeft(line, " \t")
		line = strings.TrimLeft(line, "#>")
		if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") {
			line = line[2:]
		}
		lines[i] = strings.NewReplacer("**", "", "__", "", "`", "").Replace(line)
	}
	return strings.Join(lines, "\n")
}

// normalize collapses runs of blanks inside lines and drops empty lines.
func normalize(s string) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if fields := strings.Fields(line); len(fields) > 0 {
			out = append(out, strings.Join(fields, " "))
		}
	}
	return strings.Join(out, "\n")
}

func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
