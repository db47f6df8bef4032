package metadata

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// exifRecord is one element of `exiftool -json` output. Duration and
// CreateDate change type depending on exiftool's print conversion, so they
// are decoded lazily.
type exifRecord struct {
	UserComment json.RawMessage `json:"UserComment"`
	Duration    json.RawMessage `json:"Duration"`
	CreateDate  json.RawMessage `json:"CreateDate"`
}

// exifTags is the decoded subset of exiftool output the pipeline uses.
type exifTags struct {
	Transcript      *string
	DurationSeconds int
	CreateDate      *time.Time
}

func parseExiftoolJSON(out []byte, loc *time.Location) (exifTags, error) {
	var records []exifRecord
	if err := json.Unmarshal(out, &records); err != nil {
		return exifTags{}, fmt.Errorf("decode exiftool output: %w", err)
	}
	if len(records) == 0 {
		return exifTags{}, fmt.Errorf("decode exiftool output: empty result")
	}

	rec := records[0]
	return exifTags{
		Transcript:      CleanTranscript(rawString(rec.UserComment)),
		DurationSeconds: ParseDuration(rawString(rec.Duration)),
		CreateDate:      ParseCreateDate(rawString(rec.CreateDate), loc),
	}, nil
}

// rawString renders a JSON scalar as text: strings are unquoted, numbers
// keep their literal form, null and absent values become "".
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

var encodingMarker = regexp.MustCompile(`(?i)^(ascii|unicode|binary)\s*`)

// CleanTranscript strips the character-set marker exiftool leaves at the
// front of a UserComment and any NUL padding. An empty result means there is
// no transcript.
func CleanTranscript(comment string) *string {
	cleaned := encodingMarker.ReplaceAllString(strings.TrimSpace(comment), "")
	cleaned = strings.ReplaceAll(cleaned, "\x00", "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return nil
	}
	return &cleaned
}

var secondsSuffix = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)\s*s(?:ec(?:onds?)?)?$`)

// ParseDuration accepts seconds ("183.4", "12.5 s") and clock forms
// ("0:03:03", "03:03"). Anything else is 0.
func ParseDuration(value string) int {
	value = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(value), "(approx)"))
	if value == "" {
		return 0
	}

	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return roundSeconds(f)
	}
	if m := secondsSuffix.FindStringSubmatch(value); m != nil {
		f, _ := strconv.ParseFloat(m[1], 64)
		return roundSeconds(f)
	}

	parts := strings.Split(value, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0
	}

	total := 0.0
	for _, p := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return roundSeconds(total)
}

func roundSeconds(f float64) int {
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int(math.Round(f))
}

var createDateLayouts = []string{
	"2006:01:02 15:04:05-07:00",
	"2006:01:02 15:04:05Z07:00",
	"2006:01:02 15:04:05.000-07:00",
	time.RFC3339,
}

// ParseCreateDate parses exiftool's CreateDate. Values without a zone are
// read in loc. Zeroed dates ("0000:00:00 00:00:00") are treated as absent.
func ParseCreateDate(value string, loc *time.Location) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" || strings.HasPrefix(value, "0000:00:00") {
		return nil
	}
	if loc == nil {
		loc = time.Local
	}

	for _, layout := range createDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	if t, err := time.ParseInLocation("2006:01:02 15:04:05", value, loc); err == nil {
		return &t
	}
	return nil
}
