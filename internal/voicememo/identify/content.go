package identify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/domain"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/llm"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/logging"
)

const (
	minContentRunes     = 100
	contentExcerptWords = 500
	contentMaxTokens    = 500
	defaultContentConf  = 60
)

const contentSystemPrompt = "你是課程識別專家，需要根據逐字稿內容判斷是哪門課程的錄音。"

var errNoJSON = errors.New("no JSON object in model reply")

// ContentStrategy asks a language model which course a transcript belongs to.
type ContentStrategy struct {
	completer llm.Completer
	logger    logging.Logger
}

// NewContentStrategy creates a ContentStrategy.
func NewContentStrategy(completer llm.Completer, logger logging.Logger) ContentStrategy {
	if logger == nil {
		logger = logging.Nop()
	}
	return ContentStrategy{completer: completer, logger: logger}
}

// Method implements Strategy.
func (ContentStrategy) Method() domain.Method { return domain.MethodContent }

// Attempt implements Strategy. Model and parse failures yield a
// zero-confidence result.
func (s ContentStrategy) Attempt(ctx context.Context, c Candidate, courses []domain.Course) domain.IdentificationResult {
	none := ranked(domain.MethodContent, nil)
	if c.Transcript == nil || utf8.RuneCountInString(*c.Transcript) <= minContentRunes {
		return none
	}

	reply, err := s.completer.Complete(ctx, llm.Request{
		System:    contentSystemPrompt,
		Prompt:    buildContentPrompt(*c.Transcript, courses),
		MaxTokens: contentMaxTokens,
	})
	if err != nil {
		s.logger.Error("content identification failed", err, logging.String("file", c.FileName))
		return none
	}

	verdict, err := parseContentReply(reply)
	if err != nil {
		s.logger.Info("unusable content identification reply",
			logging.String("file", c.FileName),
			logging.String("reason", err.Error()),
		)
		return none
	}

	idx, ok := verdict.index(len(courses))
	if !ok {
		return none
	}

	course := courses[idx]
	return ranked(domain.MethodContent, []domain.CourseSuggestion{{
		CourseID:   course.ID,
		CourseName: course.Name,
		Confidence: verdict.confidence(),
		Reason:     verdict.reason(),
	}})
}

func buildContentPrompt(transcript string, courses []domain.Course) string {
	words := strings.Fields(transcript)
	if len(words) > contentExcerptWords {
		words = words[:contentExcerptWords]
	}

	var list strings.Builder
	for i, course := range courses {
		instructor := course.Instructor
		if instructor == "" {
			instructor = "未知"
		}
		fmt.Fprintf(&list, "%d. %s (教師：%s)\n", i+1, course.Name, instructor)
	}

	return fmt.Sprintf(`請根據以下逐字稿內容，判斷這是哪門課程的錄音。

逐字稿：
%s

可能的課程：
%s
請以 JSON 格式回答，只輸出一個物件：
{"courseIndex": 課程編號（從 1 開始，無法判斷時為 null）, "confidence": 信心度（0-100）, "reason": "判斷原因"}`,
		strings.Join(words, " "), list.String())
}

type contentVerdict struct {
	CourseIndex *float64 `json:"courseIndex"`
	Confidence  *float64 `json:"confidence"`
	Reason      string   `json:"reason"`
}

// parseContentReply decodes the JSON object spanning the first "{" to the
// last "}" of reply.
func parseContentReply(reply string) (contentVerdict, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return contentVerdict{}, errNoJSON
	}

	var v contentVerdict
	if err := json.Unmarshal([]byte(reply[start:end+1]), &v); err != nil {
		return contentVerdict{}, fmt.Errorf("decode reply: %w", err)
	}
	return v, nil
}

// index converts the 1-based courseIndex to a slice index.
func (v contentVerdict) index(n int) (int, bool) {
	if v.CourseIndex == nil {
		return 0, false
	}
	f := *v.CourseIndex
	if f != math.Trunc(f) || f < 1 || f > float64(n) {
		return 0, false
	}
	return int(f) - 1, true
}

func (v contentVerdict) confidence() int {
	if v.Confidence == nil {
		return defaultContentConf
	}
	return max(0, min(100, int(math.Round(*v.Confidence))))
}

func (v contentVerdict) reason() string {
	if strings.TrimSpace(v.Reason) == "" {
		return "內容分析匹配"
	}
	return v.Reason
}
