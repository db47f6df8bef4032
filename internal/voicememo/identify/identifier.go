// Package identify decides which course a recording belongs to by running
// an ordered cascade of strategies: lecture schedule, filename keywords and
// transcript content.
package identify

import (
	"context"
	"sort"
	"time"

	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/domain"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/llm"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/logging"
)

// Candidate is what the strategies know about a recording.
type Candidate struct {
	FileName   string
	RecordedAt time.Time
	Transcript *string
}

// CandidateFrom builds a Candidate from an extracted recording.
func CandidateFrom(rec domain.Recording) Candidate {
	return Candidate{
		FileName:   rec.FileName,
		RecordedAt: rec.RecordedAt,
		Transcript: rec.Transcript,
	}
}

// Strategy scores the courses for one candidate. Attempt never fails; a
// strategy that cannot decide returns a zero-confidence result.
type Strategy interface {
	Method() domain.Method
	Attempt(ctx context.Context, c Candidate, courses []domain.Course) domain.IdentificationResult
}

// Stage is a strategy with its short-circuit threshold. Stages marked
// Fallback are considered when no stage reaches its threshold.
type Stage struct {
	Strategy  Strategy
	Threshold int
	Fallback  bool
}

// Default thresholds.
const (
	TimeThreshold     = 90
	FilenameThreshold = 80
	ContentThreshold  = 60
)

// DefaultStages returns the time, filename and content stages.
func DefaultStages(timeBuffer time.Duration, loc *time.Location, completer llm.Completer, logger logging.Logger) []Stage {
	stages := []Stage{
		{Strategy: NewTimeStrategy(timeBuffer, loc), Threshold: TimeThreshold, Fallback: true},
		{Strategy: FilenameStrategy{}, Threshold: FilenameThreshold, Fallback: true},
	}
	if completer != nil {
		stages = append(stages, Stage{
			Strategy:  NewContentStrategy(completer, logger),
			Threshold: ContentThreshold,
		})
	}
	return stages
}

// Observer is told how long each stage ran. It is optional.
type Observer func(method domain.Method, d time.Duration, res domain.IdentificationResult)

// Identifier runs stages in order.
type Identifier struct {
	stages   []Stage
	logger   logging.Logger
	observer Observer
}

// Option configures an Identifier.
type Option func(*Identifier)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(id *Identifier) {
		id.logger = l
	}
}

// WithObserver registers a per-stage callback.
func WithObserver(o Observer) Option {
	return func(id *Identifier) {
		id.observer = o
	}
}

// New creates an Identifier over stages.
func New(stages []Stage, opts ...Option) *Identifier {
	id := &Identifier{stages: stages, logger: logging.Nop()}
	for _, opt := range opts {
		opt(id)
	}
	return id
}

// Identify returns the first stage result that reaches its threshold, or the
// best fallback result with non-zero confidence, or the empty result.
func (id *Identifier) Identify(ctx context.Context, c Candidate, courses []domain.Course) domain.IdentificationResult {
	if len(courses) == 0 {
		return emptyResult()
	}

	var fallbacks []domain.IdentificationResult
	for _, stage := range id.stages {
		if ctx.Err() != nil {
			break
		}

		start := time.Now()
		res := stage.Strategy.Attempt(ctx, c, courses)
		if id.observer != nil {
			id.observer(stage.Strategy.Method(), time.Since(start), res)
		}

		id.logger.Debug("identification stage finished",
			logging.String("method", string(stage.Strategy.Method())),
			logging.Int("confidence", res.Confidence),
			logging.String("file", c.FileName),
		)

		if res.CourseID != nil && res.Confidence >= stage.Threshold {
			return res
		}
		if stage.Fallback {
			fallbacks = append(fallbacks, res)
		}
	}

	best := emptyResult()
	for _, res := range fallbacks {
		if res.CourseID != nil && res.Confidence > best.Confidence {
			best = res
		}
	}
	return best
}

func emptyResult() domain.IdentificationResult {
	return domain.IdentificationResult{SuggestedCourses: []domain.CourseSuggestion{}}
}

// ranked sorts suggestions by confidence, keeping course order for ties, and
// returns the top one as the result.
func ranked(method domain.Method, suggestions []domain.CourseSuggestion) domain.IdentificationResult {
	if len(suggestions) == 0 {
		return domain.IdentificationResult{Method: method, SuggestedCourses: []domain.CourseSuggestion{}}
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Confidence > suggestions[j].Confidence
	})

	top := suggestions[0].CourseID
	return domain.IdentificationResult{
		CourseID:         &top,
		Method:           method,
		Confidence:       suggestions[0].Confidence,
		SuggestedCourses: suggestions,
	}
}
