package voicememo

import (
	"context"

	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/domain"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/identify"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/notes"
)

// Extractor reads the transcript and recording metadata of one file.
type Extractor interface {
	Extract(ctx context.Context, path string) (domain.Recording, error)
}

// CourseIdentifier picks the course a recording belongs to.
type CourseIdentifier interface {
	Identify(ctx context.Context, c identify.Candidate, courses []domain.Course) domain.IdentificationResult
}

// NoteSynthesizer turns a transcript into structured notes.
type NoteSynthesizer interface {
	Summarize(ctx context.Context, transcript string, opts notes.Options) (*notes.Summary, error)
}

// NoteCreator persists terminal notes. It never updates or deletes.
type NoteCreator interface {
	CreateVoiceNote(ctx context.Context, note *domain.VoiceNote) error
}

// FileProcessor runs one stable recording to a terminal state.
// FailRecording stores the FAILED state of a recording that could not be
// processed at all.
type FileProcessor interface {
	Process(ctx context.Context, path string) (*domain.VoiceNote, error)
	FailRecording(ctx context.Context, path string, cause error) (*domain.VoiceNote, error)
}
