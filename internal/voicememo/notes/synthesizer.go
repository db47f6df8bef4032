// Package notes turns a lecture transcript into a structured summary using a
// language model.
package notes

import (
	"context"
	"errors"
	"strings"

	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/llm"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/logging"
)

// Supported languages.
const (
	LanguageZH = "zh"
	LanguageEN = "en"
)

const summaryMaxTokens = 2000

// SynthesisFailedMessage is the user-facing text recorded for failed notes.
const SynthesisFailedMessage = "AI 摘要生成失敗，請稍後再試"

// ErrSynthesis matches every *SynthesisError.
var ErrSynthesis = errors.New("note synthesis failed")

// SynthesisError reports a model failure during Summarize.
type SynthesisError struct {
	Cause error
}

func (e *SynthesisError) Error() string {
	if e.Cause == nil {
		return SynthesisFailedMessage
	}
	return SynthesisFailedMessage + ": " + e.Cause.Error()
}

func (e *SynthesisError) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, ErrSynthesis) true.
func (e *SynthesisError) Is(target error) bool { return target == ErrSynthesis }

// Options shape the prompt and the parsed result.
type Options struct {
	CourseName       string
	IncludeKeyPoints bool
	IncludeQuestions bool
	Language         string
}

// Summary is the structured model output.
type Summary struct {
	Summary        string
	KeyPoints      []string
	SuggestedTitle string
	Questions      []string
}

// Synthesizer produces summaries through a Completer.
type Synthesizer struct {
	completer llm.Completer
	logger    logging.Logger
}

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer(completer llm.Completer, logger logging.Logger) *Synthesizer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Synthesizer{completer: completer, logger: logger}
}

// Summarize asks the model for a summary of transcript. Any model failure,
// including an empty reply, is returned as a *SynthesisError.
func (s *Synthesizer) Summarize(ctx context.Context, transcript string, opts Options) (*Summary, error) {
	lang := normalizeLanguage(opts.Language)

	reply, err := s.completer.Complete(ctx, llm.Request{
		System:    systemPrompt(lang),
		Prompt:    buildPrompt(transcript, opts, lang),
		MaxTokens: summaryMaxTokens,
	})
	if err != nil {
		s.logger.Error("summarization failed", err, logging.String("course", opts.CourseName))
		return nil, &SynthesisError{Cause: err}
	}
	if strings.TrimSpace(reply) == "" {
		return nil, &SynthesisError{Cause: llm.ErrEmptyResponse}
	}

	summary := ParseSummary(reply, opts.IncludeKeyPoints, opts.IncludeQuestions)
	s.logger.Debug("summary parsed",
		logging.Int("key_points", len(summary.KeyPoints)),
		logging.Int("questions", len(summary.Questions)),
		logging.Bool("has_title", summary.SuggestedTitle != ""),
	)
	return summary, nil
}

func normalizeLanguage(lang string) string {
	if strings.EqualFold(lang, LanguageEN) {
		return LanguageEN
	}
	return LanguageZH
}
