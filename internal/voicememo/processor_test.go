package voicememo

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/domain"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/export"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/identify"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/llm"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/metrics"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/notes"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/notify"
)

const summaryReply = "【摘要】\n本講介紹分散式共識。\n\n【關鍵點】\n- Raft\n- Paxos\n\n【建議標題】\n共識演算法\n\n【複習問題】\n1. 什麼是 Raft？"

// monday1405 is Monday 2 February 2026, 14:05.
var monday1405 = time.Date(2026, 2, 2, 14, 5, 0, 0, time.UTC)

var distributedSystems = domain.Course{
	ID:         "course-ds",
	Name:       "Distributed Systems",
	Instructor: "Lamport",
	Schedule:   []domain.ScheduleSlot{{DayOfWeek: 1, StartTime: "14:00", EndTime: "15:30"}},
}

// fakeExtractor returns canned recordings keyed by path.
type fakeExtractor struct {
	recordings map[string]domain.Recording
	err        error
}

func (f *fakeExtractor) Extract(ctx context.Context, path string) (domain.Recording, error) {
	if f.err != nil {
		return domain.Recording{}, f.err
	}
	rec, ok := f.recordings[path]
	if !ok {
		return domain.Recording{}, errors.New("no such recording")
	}
	return rec, nil
}

type staticCourses struct {
	courses []domain.Course
	err     error
	calls   int
}

func (s *staticCourses) ListCourses(ctx context.Context, userID string) ([]domain.Course, error) {
	s.calls++
	return s.courses, s.err
}

// memNotes stores notes in memory. failStatus makes creates of that status fail.
type memNotes struct {
	mu         sync.Mutex
	notes      []domain.VoiceNote
	failStatus map[domain.NoteStatus]error
}

func (m *memNotes) CreateVoiceNote(ctx context.Context, note *domain.VoiceNote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failStatus[note.Status]; err != nil {
		return err
	}
	if note.ID == "" {
		note.ID = "note-" + string(rune('a'+len(m.notes)))
	}
	m.notes = append(m.notes, *note)
	return nil
}

func (m *memNotes) all() []domain.VoiceNote {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.VoiceNote(nil), m.notes...)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingNotifier) Notify(ctx context.Context, n notify.Notification) {
	r.mu.Lock()
	r.sent = append(r.sent, n)
	r.mu.Unlock()
}

func (r *recordingNotifier) titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.sent {
		out = append(out, n.Title)
	}
	return out
}

type testPipeline struct {
	extractor   *fakeExtractor
	courses     *staticCourses
	notes       *memNotes
	notifier    *recordingNotifier
	synthCalls  int
	synthReply  string
	synthErr    error
	synthBlocks bool
	opts        ProcessorOptions
}

func newTestPipeline(courses ...domain.Course) *testPipeline {
	tp := &testPipeline{
		extractor:  &fakeExtractor{recordings: map[string]domain.Recording{}},
		courses:    &staticCourses{courses: courses},
		notes:      &memNotes{},
		notifier:   &recordingNotifier{},
		synthReply: summaryReply,
	}
	completer := llm.CompleterFunc(func(ctx context.Context, req llm.Request) (string, error) {
		tp.synthCalls++
		if tp.synthBlocks {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return tp.synthReply, tp.synthErr
	})
	tp.opts = ProcessorOptions{
		Extractor:   tp.extractor,
		Identifier:  identify.New(identify.DefaultStages(15*time.Minute, time.UTC, nil, nil)),
		Synthesizer: notes.NewSynthesizer(completer, nil),
		Courses:     tp.courses,
		Notes:       tp.notes,
		Notifier:    tp.notifier,
		UserID:      "user-1",
	}
	return tp
}

func (tp *testPipeline) add(rec domain.Recording) string {
	if rec.Path == "" {
		rec.Path = "/memos/" + rec.FileName
	}
	tp.extractor.recordings[rec.Path] = rec
	return rec.Path
}

func (tp *testPipeline) processor(t *testing.T) *Processor {
	t.Helper()
	p, err := NewProcessor(tp.opts)
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}
	return p
}

func transcript(s string) *string {
	return &s
}

func TestProcess_CompletedByScheduleMatch(t *testing.T) {
	tp := newTestPipeline(distributedSystems)
	outDir := t.TempDir()
	tp.opts.Exporter = export.NewMarkdownWriter(outDir)
	tp.opts.Metrics = metrics.New()
	path := tp.add(domain.Recording{
		FileName:        "New Recording 12.m4a",
		FileSizeBytes:   2048,
		DurationSeconds: 5400,
		RecordedAt:      monday1405,
		Transcript:      transcript("今天我們討論共識演算法"),
	})

	note, err := tp.processor(t).Process(context.Background(), path)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if note.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", note.Status)
	}
	if note.CourseID == nil || *note.CourseID != "course-ds" {
		t.Errorf("expected course-ds, got %v", note.CourseID)
	}
	if note.IdentificationMethod == nil || *note.IdentificationMethod != "time" {
		t.Errorf("expected time method, got %v", note.IdentificationMethod)
	}
	if note.IdentificationConfidence != 95 {
		t.Errorf("expected confidence 95, got %d", note.IdentificationConfidence)
	}
	if note.Summary == nil || *note.Summary != "本講介紹分散式共識。" {
		t.Errorf("unexpected summary %v", note.Summary)
	}
	if note.ProcessedNotes == nil || !strings.Contains(*note.ProcessedNotes, "• Raft\n• Paxos") {
		t.Errorf("unexpected processed notes %v", note.ProcessedNotes)
	}
	var keyPoints []string
	if note.KeyPoints == nil || json.Unmarshal([]byte(*note.KeyPoints), &keyPoints) != nil || len(keyPoints) != 2 {
		t.Errorf("unexpected key points %v", note.KeyPoints)
	}
	if note.Source != domain.SourceICloud || note.UserID != "user-1" || note.FileSize != 2048 || note.ProcessedAt == nil {
		t.Errorf("unexpected note fields %+v", note)
	}

	if got := len(tp.notes.all()); got != 1 {
		t.Fatalf("expected exactly one stored note, got %d", got)
	}
	if len(tp.notifier.sent) != 1 {
		t.Fatalf("expected one notification, got %v", tp.notifier.titles())
	}
	sent := tp.notifier.sent[0]
	if sent.Message != "Distributed Systems - 90 分鐘" || sent.ActionURL != notify.NoteURL(note.ID) {
		t.Errorf("unexpected notification %+v", sent)
	}

	entries, _ := os.ReadDir(outDir)
	if len(entries) != 1 {
		t.Fatalf("expected one exported file, got %d", len(entries))
	}
	data, _ := os.ReadFile(filepath.Join(outDir, entries[0].Name()))
	if !strings.Contains(string(data), "共識演算法") || !strings.Contains(string(data), "什麼是 Raft？") {
		t.Errorf("export missing title or questions:\n%s", data)
	}
}

func TestProcess_NoTranscriptNeedsReview(t *testing.T) {
	tp := newTestPipeline(distributedSystems)
	path := tp.add(domain.Recording{FileName: "memo.m4a", RecordedAt: monday1405, DurationSeconds: 60})

	note, err := tp.processor(t).Process(context.Background(), path)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if note.Status != domain.StatusNeedsReview {
		t.Fatalf("expected NEEDS_REVIEW, got %s", note.Status)
	}
	if note.CourseID != nil || note.IdentificationMethod != nil || note.SuggestedCourses != nil {
		t.Errorf("expected no identification data, got %+v", note)
	}
	if note.IdentificationConfidence != 0 {
		t.Errorf("expected confidence 0, got %d", note.IdentificationConfidence)
	}
	if tp.courses.calls != 0 || tp.synthCalls != 0 {
		t.Errorf("expected identification and synthesis to be skipped (courses=%d synth=%d)", tp.courses.calls, tp.synthCalls)
	}
	if titles := tp.notifier.titles(); len(titles) != 1 || titles[0] != notify.NeedsReview("").Title {
		t.Errorf("expected review notification, got %v", titles)
	}
}

func TestProcess_NoTranscriptAutoFiledBySchedule(t *testing.T) {
	tp := newTestPipeline(distributedSystems)
	tp.opts.AutoFileWithoutTranscript = true
	path := tp.add(domain.Recording{FileName: "memo.m4a", RecordedAt: monday1405, DurationSeconds: 60})

	note, err := tp.processor(t).Process(context.Background(), path)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if note.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", note.Status)
	}
	if note.Transcript != nil || note.Summary != nil || note.ProcessedNotes != nil {
		t.Errorf("expected empty transcript and summary, got %+v", note)
	}
	if tp.synthCalls != 0 {
		t.Errorf("expected synthesis to be skipped, got %d calls", tp.synthCalls)
	}
}

func TestProcess_NoTranscriptAutoFileStillReviewsWithoutMatch(t *testing.T) {
	tp := newTestPipeline(distributedSystems)
	tp.opts.AutoFileWithoutTranscript = true
	path := tp.add(domain.Recording{FileName: "memo.m4a", RecordedAt: monday1405.Add(48 * time.Hour)})

	note, err := tp.processor(t).Process(context.Background(), path)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if note.Status != domain.StatusNeedsReview {
		t.Errorf("expected NEEDS_REVIEW, got %s", note.Status)
	}
}

func TestProcess_FilenameMatch(t *testing.T) {
	ml := domain.Course{ID: "course-ml", Name: "Machine Learning (ML)"}

	tests := []struct {
		file       string
		confidence int
	}{
		{"Machine_Learning_lecture3.m4a", 80},
		{"ML_lecture3.m4a", 65},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			tp := newTestPipeline(ml)
			path := tp.add(domain.Recording{
				FileName:   tt.file,
				RecordedAt: monday1405,
				Transcript: transcript("short transcript"),
			})

			note, err := tp.processor(t).Process(context.Background(), path)
			if err != nil {
				t.Fatalf("Process failed: %v", err)
			}
			if note.Status != domain.StatusCompleted {
				t.Fatalf("expected COMPLETED, got %s", note.Status)
			}
			if *note.IdentificationMethod != "filename" || note.IdentificationConfidence != tt.confidence {
				t.Errorf("expected filename/%d, got %s/%d", tt.confidence, *note.IdentificationMethod, note.IdentificationConfidence)
			}
		})
	}
}

func TestProcess_NoCoursesNeedsReview(t *testing.T) {
	tp := newTestPipeline()
	path := tp.add(domain.Recording{FileName: "memo.m4a", RecordedAt: monday1405, Transcript: transcript("hello")})

	note, err := tp.processor(t).Process(context.Background(), path)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if note.Status != domain.StatusNeedsReview {
		t.Fatalf("expected NEEDS_REVIEW, got %s", note.Status)
	}
	if note.SuggestedCourses == nil || *note.SuggestedCourses != "[]" {
		t.Errorf("expected empty suggestion list, got %v", note.SuggestedCourses)
	}
	if note.Transcript == nil || *note.Transcript != "hello" {
		t.Errorf("expected transcript to be kept, got %v", note.Transcript)
	}
}

func TestProcess_ConfidenceGate(t *testing.T) {
	ml := domain.Course{ID: "course-ml", Name: "Machine Learning (ML)"}

	tests := []struct {
		threshold int
		want      domain.NoteStatus
	}{
		{60, domain.StatusCompleted},
		{65, domain.StatusCompleted},
		{66, domain.StatusNeedsReview},
		{90, domain.StatusNeedsReview},
	}

	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			tp := newTestPipeline(ml)
			tp.opts.ConfidenceThreshold = tt.threshold
			path := tp.add(domain.Recording{FileName: "ML_lecture3.m4a", RecordedAt: monday1405, Transcript: transcript("x")})

			note, err := tp.processor(t).Process(context.Background(), path)
			if err != nil {
				t.Fatalf("Process failed: %v", err)
			}
			if note.Status != tt.want {
				t.Errorf("threshold %d: expected %s, got %s", tt.threshold, tt.want, note.Status)
			}
			if note.Status == domain.StatusNeedsReview {
				if note.IdentificationConfidence != 65 || note.CourseID != nil {
					t.Errorf("expected confidence 65 without a course, got %d/%v", note.IdentificationConfidence, note.CourseID)
				}
				if !strings.Contains(*note.SuggestedCourses, "course-ml") {
					t.Errorf("expected suggestions to be stored, got %s", *note.SuggestedCourses)
				}
			}
		})
	}
}

func TestProcess_SynthesisFailureStoresFailed(t *testing.T) {
	tp := newTestPipeline(distributedSystems)
	tp.synthErr = &llm.APIError{Provider: "anthropic", StatusCode: 500, Message: "overloaded"}
	path := tp.add(domain.Recording{FileName: "memo.m4a", RecordedAt: monday1405, Transcript: transcript("text")})

	note, err := tp.processor(t).Process(context.Background(), path)
	if !errors.Is(err, notes.ErrSynthesis) {
		t.Fatalf("expected synthesis error, got %v", err)
	}

	stored := tp.notes.all()
	if len(stored) != 1 || stored[0].Status != domain.StatusFailed {
		t.Fatalf("expected exactly one FAILED note, got %+v", stored)
	}
	if note == nil || note.ErrorMessage == nil || !strings.HasPrefix(*note.ErrorMessage, notes.SynthesisFailedMessage) {
		t.Errorf("unexpected error message on %+v", note)
	}
	if titles := tp.notifier.titles(); len(titles) != 1 || titles[0] != notify.Failed("").Title {
		t.Errorf("expected failure notification, got %v", titles)
	}
}

func TestProcess_SynthesisTimeout(t *testing.T) {
	tp := newTestPipeline(distributedSystems)
	tp.synthBlocks = true
	tp.opts.ModelTimeout = 50 * time.Millisecond
	path := tp.add(domain.Recording{FileName: "memo.m4a", RecordedAt: monday1405, Transcript: transcript("text")})

	start := time.Now()
	_, err := tp.processor(t).Process(context.Background(), path)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("model timeout was not applied")
	}
	if stored := tp.notes.all(); len(stored) != 1 || stored[0].Status != domain.StatusFailed {
		t.Errorf("expected FAILED note, got %+v", stored)
	}
}

func TestProcess_PersistFailureFallsBackToFailed(t *testing.T) {
	tp := newTestPipeline(distributedSystems)
	dbErr := errors.New("connection reset")
	tp.notes.failStatus = map[domain.NoteStatus]error{domain.StatusCompleted: dbErr}
	path := tp.add(domain.Recording{FileName: "memo.m4a", RecordedAt: monday1405, Transcript: transcript("text")})

	note, err := tp.processor(t).Process(context.Background(), path)
	if !errors.Is(err, dbErr) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if note == nil || note.Status != domain.StatusFailed {
		t.Fatalf("expected FAILED note, got %+v", note)
	}
	if !strings.Contains(*note.ErrorMessage, "connection reset") {
		t.Errorf("unexpected error message %q", *note.ErrorMessage)
	}
}

func TestProcess_FailedRowAlsoFails(t *testing.T) {
	tp := newTestPipeline(distributedSystems)
	dbErr := errors.New("database down")
	tp.notes.failStatus = map[domain.NoteStatus]error{
		domain.StatusCompleted: dbErr,
		domain.StatusFailed:    errors.New("still down"),
	}
	path := tp.add(domain.Recording{FileName: "memo.m4a", RecordedAt: monday1405, Transcript: transcript("text")})

	note, err := tp.processor(t).Process(context.Background(), path)
	if !errors.Is(err, dbErr) {
		t.Fatalf("expected the original error, got %v", err)
	}
	if note != nil {
		t.Errorf("expected no note, got %+v", note)
	}
	if len(tp.notes.all()) != 0 {
		t.Error("expected nothing stored")
	}
}

func TestProcess_ExtractionErrorStoresFailed(t *testing.T) {
	tp := newTestPipeline(distributedSystems)
	tp.extractor.err = errors.New("stat recording: permission denied")

	note, err := tp.processor(t).Process(context.Background(), "/memos/locked.m4a")
	if err == nil {
		t.Fatal("expected error")
	}
	if note == nil || note.Status != domain.StatusFailed || note.FileName != "locked.m4a" {
		t.Errorf("unexpected FAILED note %+v", note)
	}
}

func TestProcess_CourseListErrorStoresFailed(t *testing.T) {
	tp := newTestPipeline()
	tp.courses.err = errors.New("query courses: timeout")
	path := tp.add(domain.Recording{FileName: "memo.m4a", Transcript: transcript("text")})

	note, err := tp.processor(t).Process(context.Background(), path)
	if err == nil || note == nil || note.Status != domain.StatusFailed {
		t.Errorf("expected FAILED outcome, got %+v / %v", note, err)
	}
}

func TestProcess_NoDeduplication(t *testing.T) {
	tp := newTestPipeline(distributedSystems)
	path := tp.add(domain.Recording{FileName: "memo.m4a", RecordedAt: monday1405, Transcript: transcript("text")})
	p := tp.processor(t)

	for i := 0; i < 2; i++ {
		if _, err := p.Process(context.Background(), path); err != nil {
			t.Fatalf("Process %d failed: %v", i, err)
		}
	}
	if got := len(tp.notes.all()); got != 2 {
		t.Errorf("expected two notes, got %d", got)
	}
}

func TestProcess_ExportFailureDoesNotFailNote(t *testing.T) {
	tp := newTestPipeline(distributedSystems)
	tp.opts.Exporter = export.NewMarkdownWriter("")
	path := tp.add(domain.Recording{FileName: "memo.m4a", RecordedAt: monday1405, Transcript: transcript("text")})

	note, err := tp.processor(t).Process(context.Background(), path)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if note.Status != domain.StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", note.Status)
	}
}

func TestNewProcessor_RequiresCollaborators(t *testing.T) {
	base := newTestPipeline().opts

	tests := []struct {
		name   string
		mutate func(o *ProcessorOptions)
	}{
		{"extractor", func(o *ProcessorOptions) { o.Extractor = nil }},
		{"identifier", func(o *ProcessorOptions) { o.Identifier = nil }},
		{"synthesizer", func(o *ProcessorOptions) { o.Synthesizer = nil }},
		{"courses", func(o *ProcessorOptions) { o.Courses = nil }},
		{"notes", func(o *ProcessorOptions) { o.Notes = nil }},
		{"user", func(o *ProcessorOptions) { o.UserID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := base
			tt.mutate(&opts)
			if _, err := NewProcessor(opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}

type panickingExtractor struct{}

func (panickingExtractor) Extract(ctx context.Context, path string) (domain.Recording, error) {
	panic("mvhd box truncated")
}

func TestProcess_PanicStoresFailed(t *testing.T) {
	tp := newTestPipeline(distributedSystems)
	tp.opts.Extractor = panickingExtractor{}

	note, err := tp.processor(t).Process(context.Background(), "/memos/corrupt.m4a")
	if err == nil || !strings.Contains(err.Error(), "mvhd box truncated") {
		t.Fatalf("expected the panic as an error, got %v", err)
	}

	stored := tp.notes.all()
	if len(stored) != 1 || stored[0].Status != domain.StatusFailed || stored[0].FileName != "corrupt.m4a" {
		t.Fatalf("expected one FAILED note, got %+v", stored)
	}
	if note == nil || note.ErrorMessage == nil || !strings.Contains(*note.ErrorMessage, "panic") {
		t.Errorf("unexpected FAILED note %+v", note)
	}
}

func TestProcess_OversizedCourseIndexNeedsReview(t *testing.T) {
	tp := newTestPipeline(distributedSystems)
	model := llm.CompleterFunc(func(ctx context.Context, req llm.Request) (string, error) {
		return `{"courseIndex": 1e20, "confidence": 90, "reason": "?"}`, nil
	})
	tp.opts.Identifier = identify.New(identify.DefaultStages(15*time.Minute, time.UTC, model, nil))

	// Tuesday evening, outside every slot, and a filename that matches nothing
	tuesday := time.Date(2026, 2, 3, 20, 0, 0, 0, time.UTC)
	path := tp.add(domain.Recording{
		FileName:   "New Recording 12.m4a",
		RecordedAt: tuesday,
		Transcript: transcript(strings.Repeat("今天我們討論共識演算法與日誌複製。", 10)),
	})

	note, err := tp.processor(t).Process(context.Background(), path)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if note.Status != domain.StatusNeedsReview || note.IdentificationConfidence != 0 {
		t.Errorf("expected NEEDS_REVIEW with confidence 0, got %s/%d", note.Status, note.IdentificationConfidence)
	}
	if got := len(tp.notes.all()); got != 1 {
		t.Errorf("expected one note, got %d", got)
	}
}

func TestProcessor_FailRecording(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "syncing.m4a")
	if err := os.WriteFile(path, make([]byte, 512), 0644); err != nil {
		t.Fatalf("failed to write recording: %v", err)
	}

	tp := newTestPipeline(distributedSystems)
	cause := errors.New("stabilization timeout: file did not stabilize in time")

	note, err := tp.processor(t).FailRecording(context.Background(), path, cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected the cause back, got %v", err)
	}
	if note == nil || note.Status != domain.StatusFailed || note.FileSize != 512 || *note.ErrorMessage != cause.Error() {
		t.Errorf("unexpected FAILED note %+v", note)
	}
	if titles := tp.notifier.titles(); len(titles) != 1 || titles[0] != notify.Failed("").Title {
		t.Errorf("expected failure notification, got %v", titles)
	}
}
