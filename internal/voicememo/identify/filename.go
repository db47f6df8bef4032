package identify

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/domain"
)

// FilenameStrategy matches course-name keywords against the file name.
type FilenameStrategy struct{}

var (
	keywordSeparators  = regexp.MustCompile(`[\s\-_()（）]+`)
	filenameSeparators = regexp.MustCompile(`[\s_\-]+`)
)

var genericTerms = map[string]bool{
	"course":       true,
	"intro":        true,
	"introduction": true,
	"advanced":     true,
	"basic":        true,
	"basics":       true,
	"fundamentals": true,
	"lab":          true,
	"課程":           true,
	"導論":           true,
	"概論":           true,
	"進階":           true,
	"基礎":           true,
	"實作":           true,
	"專題":           true,
}

// Method implements Strategy.
func (FilenameStrategy) Method() domain.Method { return domain.MethodFilename }

// Attempt implements Strategy.
func (FilenameStrategy) Attempt(_ context.Context, c Candidate, courses []domain.Course) domain.IdentificationResult {
	name := NormalizeFilename(c.FileName)
	if name == "" {
		return ranked(domain.MethodFilename, nil)
	}

	var matches []domain.CourseSuggestion
	for _, course := range courses {
		var hits []string
		for _, kw := range Keywords(course.Name) {
			if strings.Contains(name, kw) {
				hits = append(hits, kw)
			}
		}
		if len(hits) == 0 {
			continue
		}
		matches = append(matches, domain.CourseSuggestion{
			CourseID:   course.ID,
			CourseName: course.Name,
			Confidence: filenameConfidence(len(hits)),
			Reason:     fmt.Sprintf("檔案名稱包含關鍵字：%s", strings.Join(hits, ", ")),
		})
	}

	return ranked(domain.MethodFilename, matches)
}

func filenameConfidence(hits int) int {
	return min(85, 50+15*hits)
}

// NormalizeFilename lowercases the base name without its extension and
// collapses separator runs into single spaces.
func NormalizeFilename(fileName string) string {
	base := filepath.Base(fileName)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = filenameSeparators.ReplaceAllString(strings.ToLower(base), " ")
	return strings.TrimSpace(base)
}

// Keywords returns the distinguishing lowercased words of a course name.
func Keywords(courseName string) []string {
	var out []string
	for _, word := range keywordSeparators.Split(strings.ToLower(courseName), -1) {
		if utf8.RuneCountInString(word) <= 1 || genericTerms[word] {
			continue
		}
		out = append(out, word)
	}
	return out
}
