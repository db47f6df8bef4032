package voicememo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/domain"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/export"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/identify"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/logging"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/metrics"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/notes"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/notify"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/store"
)

// ErrProcessorMisconfigured is returned by NewProcessor when a required
// collaborator is missing.
var ErrProcessorMisconfigured = errors.New("processor is missing a collaborator")

// ProcessorOptions configures a Processor. Extractor, Identifier,
// Synthesizer, Courses, Notes and UserID are required.
type ProcessorOptions struct {
	Extractor   Extractor
	Identifier  CourseIdentifier
	Synthesizer NoteSynthesizer
	Courses     store.CourseLister
	Notes       NoteCreator

	// Optional collaborators
	Notifier notify.Notifier
	Exporter export.Writer
	Metrics  *metrics.Metrics
	Logger   logging.Logger

	UserID string
	// ConfidenceThreshold gates auto-filing. Zero means the default of 60.
	ConfidenceThreshold int
	Language            string
	ModelTimeout        time.Duration
	// AutoFileWithoutTranscript lets schedule or filename matches file a
	// recording that has no transcript.
	AutoFileWithoutTranscript bool
}

// Processor is the per-file state machine. Only the terminal state of a
// file is persisted: COMPLETED, NEEDS_REVIEW or FAILED. It does no
// deduplication.
type Processor struct {
	extractor   Extractor
	identifier  CourseIdentifier
	synthesizer NoteSynthesizer
	courses     store.CourseLister
	notes       NoteCreator
	notifier    notify.Notifier
	exporter    export.Writer
	metrics     *metrics.Metrics
	logger      logging.Logger

	userID       string
	threshold    int
	language     string
	modelTimeout time.Duration
	autoFile     bool

	now func() time.Time
}

// NewProcessor validates opts and fills defaults.
func NewProcessor(opts ProcessorOptions) (*Processor, error) {
	switch {
	case opts.Extractor == nil:
		return nil, fmt.Errorf("%w: extractor", ErrProcessorMisconfigured)
	case opts.Identifier == nil:
		return nil, fmt.Errorf("%w: identifier", ErrProcessorMisconfigured)
	case opts.Synthesizer == nil:
		return nil, fmt.Errorf("%w: synthesizer", ErrProcessorMisconfigured)
	case opts.Courses == nil:
		return nil, fmt.Errorf("%w: course lister", ErrProcessorMisconfigured)
	case opts.Notes == nil:
		return nil, fmt.Errorf("%w: note store", ErrProcessorMisconfigured)
	case opts.UserID == "":
		return nil, ErrUserIDRequired
	}

	p := &Processor{
		extractor:    opts.Extractor,
		identifier:   opts.Identifier,
		synthesizer:  opts.Synthesizer,
		courses:      opts.Courses,
		notes:        opts.Notes,
		notifier:     opts.Notifier,
		exporter:     opts.Exporter,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		userID:       opts.UserID,
		threshold:    opts.ConfidenceThreshold,
		language:     opts.Language,
		modelTimeout: opts.ModelTimeout,
		autoFile:     opts.AutoFileWithoutTranscript,
		now:          time.Now,
	}
	if p.logger == nil {
		p.logger = logging.Nop()
	}
	if p.threshold <= 0 {
		p.threshold = DefaultConfidenceThreshold
	}
	if p.language == "" {
		p.language = DefaultNoteLanguage
	}
	if p.modelTimeout <= 0 {
		p.modelTimeout = DefaultModelTimeout
	}
	return p, nil
}

// Process runs path through extraction, identification and synthesis and
// stores exactly one note. The returned error is non-nil only for FAILED
// outcomes; the note is still returned when the FAILED row was stored. A
// panic in any stage is recorded as FAILED.
func (p *Processor) Process(ctx context.Context, path string) (note *domain.VoiceNote, err error) {
	if p.metrics != nil {
		p.metrics.InFlight.Inc()
		defer p.metrics.InFlight.Dec()
	}
	defer func() {
		if r := recover(); r != nil {
			note, err = p.fail(ctx, recordingAt(path), fmt.Errorf("panic: %v", r))
		}
	}()

	return p.process(ctx, path)
}

// FailRecording stores a FAILED note for a recording that never reached
// Process, e.g. because it did not stabilize.
func (p *Processor) FailRecording(ctx context.Context, path string, cause error) (*domain.VoiceNote, error) {
	return p.fail(ctx, recordingAt(path), cause)
}

// recordingAt describes path from the filesystem alone.
func recordingAt(path string) domain.Recording {
	rec := domain.Recording{Path: path, FileName: filepath.Base(path)}
	if info, err := os.Stat(path); err == nil {
		rec.FileSizeBytes = info.Size()
	}
	return rec
}

func (p *Processor) process(ctx context.Context, path string) (*domain.VoiceNote, error) {
	start := time.Now()

	p.logger.Info("processing recording", logging.String("path", path))

	rec, err := p.extract(ctx, path)
	if err != nil {
		return p.fail(ctx, recordingAt(path), err)
	}

	if !rec.HasTranscript() && !p.autoFile {
		p.logger.Info("no transcript, leaving for review", logging.String("path", path))
		return p.review(ctx, rec, nil)
	}

	courses, err := p.courses.ListCourses(ctx, p.userID)
	if err != nil {
		return p.fail(ctx, rec, fmt.Errorf("list courses: %w", err))
	}

	result := p.identify(ctx, rec, courses)
	if result.CourseID == nil || result.Confidence < p.threshold {
		p.logger.Info("low identification confidence, leaving for review",
			logging.String("path", path),
			logging.Int("confidence", result.Confidence),
			logging.Int("threshold", p.threshold),
		)
		return p.review(ctx, rec, &result)
	}

	course := findCourse(courses, *result.CourseID)

	var summary *notes.Summary
	if rec.HasTranscript() {
		summary, err = p.synthesize(ctx, *rec.Transcript, course.Name)
		if err != nil {
			return p.fail(ctx, rec, err)
		}
	}

	note := p.newNote(rec, domain.StatusCompleted)
	applyIdentification(note, &result)
	if summary != nil {
		note.Summary = domain.StringPtr(summary.Summary)
		note.ProcessedNotes = domain.StringPtr(notes.FormatNotes(summary, p.language))
		note.KeyPoints = jsonString(nonNil(summary.KeyPoints))
	}

	if err := p.persist(ctx, note); err != nil {
		return p.fail(ctx, rec, err)
	}

	p.send(ctx, notify.Completed(note.ID, course.Name, rec.DurationSeconds))
	p.export(ctx, note, course, summary)

	p.logger.Info("recording filed",
		logging.String("path", path),
		logging.String("note_id", note.ID),
		logging.String("course", course.Name),
		logging.String("method", string(result.Method)),
		logging.Int("confidence", result.Confidence),
		logging.Duration("elapsed", time.Since(start)),
	)
	return note, nil
}

func (p *Processor) extract(ctx context.Context, path string) (domain.Recording, error) {
	start := time.Now()
	rec, err := p.extractor.Extract(ctx, path)
	p.observe(metrics.StageExtract, start)
	if err != nil {
		return rec, fmt.Errorf("extract metadata: %w", err)
	}
	return rec, nil
}

func (p *Processor) identify(ctx context.Context, rec domain.Recording, courses []domain.Course) domain.IdentificationResult {
	ctx, cancel := context.WithTimeout(ctx, p.modelTimeout)
	defer cancel()

	start := time.Now()
	result := p.identifier.Identify(ctx, identify.CandidateFrom(rec), courses)
	p.observe(metrics.StageIdentify, start)
	if p.metrics != nil {
		p.metrics.RecordIdentification(string(result.Method))
	}
	return result
}

func (p *Processor) synthesize(ctx context.Context, transcript, courseName string) (*notes.Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, p.modelTimeout)
	defer cancel()

	start := time.Now()
	summary, err := p.synthesizer.Summarize(ctx, transcript, notes.Options{
		CourseName:       courseName,
		IncludeKeyPoints: true,
		IncludeQuestions: p.exporter != nil,
		Language:         p.language,
	})
	p.observe(metrics.StageSynthesize, start)
	return summary, err
}

func (p *Processor) persist(ctx context.Context, note *domain.VoiceNote) error {
	start := time.Now()
	err := p.notes.CreateVoiceNote(ctx, note)
	p.observe(metrics.StagePersist, start)
	if err != nil {
		return fmt.Errorf("create voice note: %w", err)
	}
	if p.metrics != nil {
		p.metrics.RecordOutcome(string(note.Status))
	}
	return nil
}

// review stores a NEEDS_REVIEW note. result is nil when identification did
// not run.
func (p *Processor) review(ctx context.Context, rec domain.Recording, result *domain.IdentificationResult) (*domain.VoiceNote, error) {
	note := p.newNote(rec, domain.StatusNeedsReview)
	if result != nil {
		note.IdentificationConfidence = result.Confidence
		note.SuggestedCourses = jsonString(nonNil(result.SuggestedCourses))
	}

	if err := p.persist(ctx, note); err != nil {
		return p.fail(ctx, rec, err)
	}

	p.send(ctx, notify.NeedsReview(rec.FileName))
	return note, nil
}

// fail records a FAILED note on a best-effort basis and returns cause. A
// failure to store the FAILED note is logged, never returned.
func (p *Processor) fail(ctx context.Context, rec domain.Recording, cause error) (*domain.VoiceNote, error) {
	p.logger.Error("recording processing failed", cause, logging.String("path", rec.Path))

	note := p.newNote(rec, domain.StatusFailed)
	note.ErrorMessage = domain.StringPtr(cause.Error())

	// The caller may have been cancelled; the record is still written.
	ctx = context.WithoutCancel(ctx)
	if err := p.notes.CreateVoiceNote(ctx, note); err != nil {
		p.logger.Error("failed to record failure", err, logging.String("path", rec.Path))
		note = nil
	} else if p.metrics != nil {
		p.metrics.RecordOutcome(string(note.Status))
	}

	p.send(ctx, notify.Failed(rec.FileName))
	return note, cause
}

func (p *Processor) newNote(rec domain.Recording, status domain.NoteStatus) *domain.VoiceNote {
	now := p.now()
	return &domain.VoiceNote{
		UserID:           p.userID,
		Source:           domain.SourceICloud,
		Status:           status,
		OriginalFilePath: rec.Path,
		FileName:         rec.FileName,
		FileSize:         rec.FileSizeBytes,
		Duration:         rec.DurationSeconds,
		RecordedAt:       rec.RecordedAt,
		Transcript:       rec.Transcript,
		ProcessedAt:      &now,
	}
}

func (p *Processor) send(ctx context.Context, n notify.Notification) {
	if p.notifier == nil {
		return
	}
	p.notifier.Notify(ctx, n)
}

// export writes the markdown copy of a completed note. Failures are logged.
func (p *Processor) export(ctx context.Context, note *domain.VoiceNote, course domain.Course, summary *notes.Summary) {
	if p.exporter == nil {
		return
	}

	doc := export.Document{
		Note:       *note,
		CourseName: course.Name,
		Title:      strings.TrimSuffix(note.FileName, filepath.Ext(note.FileName)),
	}
	if summary != nil {
		doc.KeyPoints = summary.KeyPoints
		doc.Questions = summary.Questions
		if summary.SuggestedTitle != "" {
			doc.Title = summary.SuggestedTitle
		}
	}

	start := time.Now()
	path, err := p.exporter.Write(ctx, doc)
	p.observe(metrics.StageExport, start)
	if err != nil {
		p.logger.Error("markdown export failed", err, logging.String("note_id", note.ID))
		return
	}
	p.logger.Debug("markdown exported", logging.String("note_id", note.ID), logging.String("output", path))
}

func (p *Processor) observe(stage string, start time.Time) {
	if p.metrics != nil {
		p.metrics.ObserveStage(stage, time.Since(start))
	}
}

func applyIdentification(note *domain.VoiceNote, result *domain.IdentificationResult) {
	note.CourseID = result.CourseID
	note.IdentificationConfidence = result.Confidence
	if result.Method != domain.MethodNone {
		note.IdentificationMethod = domain.StringPtr(string(result.Method))
	}
	note.SuggestedCourses = jsonString(nonNil(result.SuggestedCourses))
}

func findCourse(courses []domain.Course, id string) domain.Course {
	for _, c := range courses {
		if c.ID == id {
			return c
		}
	}
	return domain.Course{ID: id}
}

// jsonString encodes v for the JSON text columns.
func jsonString(v any) *string {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	s := string(data)
	return &s
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
