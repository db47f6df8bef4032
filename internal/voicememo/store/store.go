// Package store persists voice notes and reads the user's courses, either
// from PostgreSQL or from a local JSON file.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/domain"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/logging"
)

// Backend names accepted by Open.
const (
	BackendPostgres = "postgres"
	BackendFile     = "file"
)

var (
	// ErrInvalidNote is returned for notes missing required fields.
	ErrInvalidNote = errors.New("invalid voice note")
	// ErrDuplicateID is returned when a note or course id already exists.
	ErrDuplicateID = errors.New("duplicate id")
)

// CourseLister reads a user's courses.
type CourseLister interface {
	ListCourses(ctx context.Context, userID string) ([]domain.Course, error)
}

// Store is the persistence boundary of the pipeline. Notes are create-only.
type Store interface {
	CourseLister
	CreateVoiceNote(ctx context.Context, note *domain.VoiceNote) error
	UpsertCourse(ctx context.Context, userID string, course domain.Course) error
	ListVoiceNotes(ctx context.Context, userID string, status domain.NoteStatus) ([]domain.VoiceNote, error)
	Ping(ctx context.Context) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend     string
	DatabaseURL string
	DataDir     string
	// Migrate applies schema migrations before connecting (postgres only).
	Migrate bool
	Logger  logging.Logger
}

// Open returns the configured backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	switch strings.ToLower(opts.Backend) {
	case BackendPostgres:
		if opts.Migrate {
			if err := Migrate(opts.DatabaseURL, logger); err != nil {
				return nil, err
			}
		}
		return OpenPostgres(ctx, opts.DatabaseURL, logger)
	case BackendFile, "":
		return OpenFile(opts.DataDir, logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}

// prepareNote fills the id and creation time and checks required fields.
func prepareNote(note *domain.VoiceNote, now time.Time) error {
	if note == nil {
		return fmt.Errorf("%w: nil note", ErrInvalidNote)
	}
	if note.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidNote)
	}
	if note.OriginalFilePath == "" {
		return fmt.Errorf("%w: original file path is required", ErrInvalidNote)
	}
	if note.Status == "" {
		return fmt.Errorf("%w: status is required", ErrInvalidNote)
	}
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if note.Source == "" {
		note.Source = domain.SourceICloud
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}
	return nil
}

func validCourse(c domain.Course) error {
	if c.ID == "" || c.Name == "" {
		return errors.New("course id and name are required")
	}
	return nil
}
