package notes

import "strings"

// FormatNotes renders the stored note body: the summary followed by a
// bulleted key-point block when there are key points.
func FormatNotes(s *Summary, language string) string {
	if s == nil {
		return ""
	}
	if len(s.KeyPoints) == 0 {
		return s.Summary
	}

	header := markerKeyPointsZH
	if normalizeLanguage(language) == LanguageEN {
		header = markerKeyPointsEN
	}

	var b strings.Builder
	b.WriteString(s.Summary)
	b.WriteString("\n\n")
	b.WriteString(header)
	b.WriteString("\n")
	for i, kp := range s.KeyPoints {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("• ")
		b.WriteString(kp)
	}
	return b.String()
}
