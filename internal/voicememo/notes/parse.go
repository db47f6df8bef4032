package notes

import (
	"regexp"
	"strings"
)

const (
	markerSummaryZH   = "【摘要】"
	markerKeyPointsZH = "【關鍵點】"
	markerTitleZH     = "【建議標題】"
	markerQuestionsZH = "【複習問題】"

	markerSummaryEN   = "[Summary]"
	markerKeyPointsEN = "[Key Points]"
	markerTitleEN     = "[Suggested Title]"
	markerQuestionsEN = "[Review Questions]"
)

var (
	bulletPrefix   = regexp.MustCompile(`^[-•]\s*`)
	questionPrefix = regexp.MustCompile(`^\d+\.\s*`)
)

// ParseSummary splits a model reply into its marked sections. Chinese markers
// are tried before English ones. A reply without a summary section becomes
// the summary as a whole.
func ParseSummary(text string, includeKeyPoints, includeQuestions bool) *Summary {
	s := &Summary{}

	if body, ok := section(text, markerSummaryZH, "\n\n【"); ok {
		s.Summary = body
	} else if body, ok := section(text, markerSummaryEN, "\n\n["); ok {
		s.Summary = body
	}

	if includeKeyPoints {
		body, ok := section(text, markerKeyPointsZH, "\n\n【")
		if !ok {
			body, ok = section(text, markerKeyPointsEN, "\n\n[")
		}
		if ok {
			s.KeyPoints = bulletLines(body)
		}
	}

	if body, ok := section(text, markerTitleZH, "\n\n【"); ok {
		s.SuggestedTitle = body
	} else if body, ok := section(text, markerTitleEN, "\n\n["); ok {
		s.SuggestedTitle = body
	}

	if includeQuestions {
		body, ok := section(text, markerQuestionsZH, "")
		if !ok {
			body, ok = section(text, markerQuestionsEN, "")
		}
		if ok {
			s.Questions = numberedLines(body)
		}
	}

	if s.Summary == "" {
		s.Summary = strings.TrimSpace(text)
	}
	return s
}

// section returns the trimmed text after marker up to stop, or to the end of
// text when stop is empty or absent. Marker matching ignores case.
func section(text, marker, stop string) (string, bool) {
	loc := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(marker)).FindStringIndex(text)
	if loc == nil {
		return "", false
	}
	rest := text[loc[1]:]
	rest = strings.TrimLeft(rest, " \t\r\n")
	if stop != "" {
		if j := strings.Index(rest, stop); j >= 0 {
			rest = rest[:j]
		}
	}
	return strings.TrimSpace(rest), true
}

func bulletLines(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "•") {
			continue
		}
		if item := strings.TrimSpace(bulletPrefix.ReplaceAllString(line, "")); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func numberedLines(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if !questionPrefix.MatchString(line) {
			continue
		}
		if item := strings.TrimSpace(questionPrefix.ReplaceAllString(line, "")); item != "" {
			out = append(out, item)
		}
	}
	return out
}
