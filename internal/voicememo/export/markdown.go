// Package export writes completed voice notes as markdown files with YAML
// frontmatter, for use in a notes vault.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/domain"
)

// ErrOutputDirRequired is returned when no output directory is configured.
var ErrOutputDirRequired = errors.New("output directory is required")

// Document is everything rendered for one note.
type Document struct {
	Note       domain.VoiceNote
	CourseName string
	Title      string
	KeyPoints  []string
	Questions  []string
}

// Writer stores a rendered document and returns its path.
type Writer interface {
	Write(ctx context.Context, doc Document) (string, error)
}

// MarkdownWriter writes one file per note into a directory.
type MarkdownWriter struct {
	dir          string
	templatePath string
}

// Option configures a MarkdownWriter.
type Option func(*MarkdownWriter)

// WithTemplate places the contents of path between the frontmatter and the
// generated body.
func WithTemplate(path string) Option {
	return func(w *MarkdownWriter) {
		w.templatePath = path
	}
}

// NewMarkdownWriter creates a writer for dir.
func NewMarkdownWriter(dir string, opts ...Option) *MarkdownWriter {
	w := &MarkdownWriter{dir: dir}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write renders doc and saves it as YYYY-MM-DD-HHmm-<course>.md, adding
// -2, -3, ... on collision.
func (w *MarkdownWriter) Write(ctx context.Context, doc Document) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	if w.dir == "" {
		return "", ErrOutputDirRequired
	}
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	content, err := w.render(doc)
	if err != nil {
		return "", fmt.Errorf("failed to render note: %w", err)
	}

	base := recordedAt(doc.Note).Format("2006-01-02-1504") + "-" + slug(doc.CourseName)
	for i := 1; i <= 1000; i++ {
		name := base + ".md"
		if i > 1 {
			name = fmt.Sprintf("%s-%d.md", base, i)
		}
		path := filepath.Join(w.dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create output file: %w", err)
		}
		if _, err := f.WriteString(content); err != nil {
			f.Close()
			return "", fmt.Errorf("failed to write output file: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("failed to write output file: %w", err)
		}
		return path, nil
	}

	return "", fmt.Errorf("too many files with same timestamp")
}

type frontmatter struct {
	ID              string    `yaml:"id"`
	Title           string    `yaml:"title,omitempty"`
	Course          string    `yaml:"course,omitempty"`
	CourseID        string    `yaml:"course_id,omitempty"`
	RecordedAt      time.Time `yaml:"recorded_at"`
	DurationMinutes int       `yaml:"duration_minutes"`
	Source          string    `yaml:"source"`
	Method          string    `yaml:"identification_method,omitempty"`
	Confidence      int       `yaml:"confidence"`
	Tags            []string  `yaml:"tags"`
}

func (w *MarkdownWriter) render(doc Document) (string, error) {
	note := doc.Note
	fm := frontmatter{
		ID:              note.ID,
		Title:           doc.Title,
		Course:          doc.CourseName,
		RecordedAt:      recordedAt(note),
		DurationMinutes: (note.Duration + 30) / 60,
		Source:          note.FileName,
		Confidence:      note.IdentificationConfidence,
		Tags:            []string{"lecture", "voice-note"},
	}
	if note.CourseID != nil {
		fm.CourseID = *note.CourseID
	}
	if note.IdentificationMethod != nil {
		fm.Method = *note.IdentificationMethod
	}

	header, err := yaml.Marshal(fm)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("---\n")
	sb.Write(header)
	sb.WriteString("---\n\n")

	if w.templatePath != "" {
		tmpl, err := os.ReadFile(w.templatePath)
		if err != nil {
			return "", fmt.Errorf("failed to read template: %w", err)
		}
		sb.Write(tmpl)
		if len(tmpl) > 0 && tmpl[len(tmpl)-1] != '\n' {
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	title := doc.Title
	if title == "" {
		title = note.FileName
	}
	fmt.Fprintf(&sb, "# %s\n\n", title)

	if note.Summary != nil {
		sb.WriteString("## Summary\n\n")
		sb.WriteString(*note.Summary)
		sb.WriteString("\n\n")
	}
	writeList(&sb, "Key Points", "- ", doc.KeyPoints)
	writeList(&sb, "Review Questions", "1. ", doc.Questions)

	if note.Transcript != nil {
		sb.WriteString("## Transcript\n\n")
		sb.WriteString(*note.Transcript)
		sb.WriteString("\n")
	}

	return sb.String(), nil
}

func writeList(sb *strings.Builder, heading, marker string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "## %s\n\n", heading)
	for _, item := range items {
		sb.WriteString(marker)
		sb.WriteString(item)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}

func recordedAt(n domain.VoiceNote) time.Time {
	if n.RecordedAt.IsZero() {
		return time.Now()
	}
	return n.RecordedAt
}

// slug lowercases s and joins its letter and digit runs with hyphens.
// Non-Latin letters are kept.
func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	if b.Len() == 0 {
		return "voice-note"
	}
	return b.String()
}
