// Package domain holds the records that flow through the voice memo pipeline.
package domain

import (
	"time"
)

// Recording is a detected voice memo after extraction. It is not mutated
// once the extractor returns it.
type Recording struct {
	Path            string
	FileName        string
	FileSizeBytes   int64
	DurationSeconds int
	RecordedAt      time.Time
	Transcript      *string
}

// HasTranscript reports whether an embedded transcript was found.
func (r Recording) HasTranscript() bool {
	return r.Transcript != nil && *r.Transcript != ""
}

// ScheduleSlot is one weekly meeting of a course in local wall-clock time.
type ScheduleSlot struct {
	DayOfWeek int    `json:"dayOfWeek"` // 0 = Sunday
	StartTime string `json:"startTime"` // HH:MM
	EndTime   string `json:"endTime"`   // HH:MM
}

// Course is a course owned by the configured user.
type Course struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Instructor string         `json:"instructor,omitempty"`
	Schedule   []ScheduleSlot `json:"schedule,omitempty"`
}

// Method names the identification strategy that produced a result.
type Method string

const (
	MethodNone     Method = ""
	MethodTime     Method = "time"
	MethodFilename Method = "filename"
	MethodContent  Method = "content"
)

// CourseSuggestion is one ranked candidate for a recording.
type CourseSuggestion struct {
	CourseID   string `json:"courseId"`
	CourseName string `json:"courseName"`
	Confidence int    `json:"confidence"`
	Reason     string `json:"reason"`
}

// IdentificationResult is the outcome of the course identification cascade.
type IdentificationResult struct {
	CourseID         *string
	Method           Method
	Confidence       int
	SuggestedCourses []CourseSuggestion
}

// Empty reports whether no course was identified.
func (r IdentificationResult) Empty() bool {
	return r.CourseID == nil || r.Confidence == 0
}

// NoteStatus is the lifecycle state of a VoiceNote.
type NoteStatus string

const (
	StatusPending     NoteStatus = "PENDING"
	StatusProcessing  NoteStatus = "PROCESSING"
	StatusCompleted   NoteStatus = "COMPLETED"
	StatusFailed      NoteStatus = "FAILED"
	StatusNeedsReview NoteStatus = "NEEDS_REVIEW"
)

// SourceICloud marks notes ingested from the synced Voice Memos folder.
const SourceICloud = "ICLOUD"

// VoiceNote is the persisted outcome of processing one recording.
type VoiceNote struct {
	ID                       string     `json:"id"`
	UserID                   string     `json:"userId"`
	CourseID                 *string    `json:"courseId"`
	Source                   string     `json:"source"`
	Status                   NoteStatus `json:"status"`
	OriginalFilePath         string     `json:"originalFilePath"`
	FileName                 string     `json:"fileName"`
	FileSize                 int64      `json:"fileSize"`
	Duration                 int        `json:"duration"`
	RecordedAt               time.Time  `json:"recordedAt"`
	Transcript               *string    `json:"transcript"`
	ProcessedNotes           *string    `json:"processedNotes"`
	Summary                  *string    `json:"summary"`
	KeyPoints                *string    `json:"keyPoints"`
	IdentificationMethod     *string    `json:"identificationMethod"`
	IdentificationConfidence int        `json:"identificationConfidence"`
	SuggestedCourses         *string    `json:"suggestedCourses"`
	ErrorMessage             *string    `json:"errorMessage"`
	ProcessedAt              *time.Time `json:"processedAt"`
	CreatedAt                time.Time  `json:"createdAt"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// WatchStatus is a snapshot of the running watcher.
type WatchStatus struct {
	Watching        bool      `json:"isWatching"`
	WatchPath       string    `json:"watchPath"`
	Pattern         string    `json:"pattern"`
	AutoProcess     bool      `json:"autoProcess"`
	ProcessingCount int       `json:"processingCount"`
	ProcessingFiles []string  `json:"processingFiles"`
	Processed       int64     `json:"processed"`
	Failed          int64     `json:"failed"`
	StartedAt       time.Time `json:"startedAt,omitempty"`
}
