package identify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/domain"
)

// DefaultTimeBuffer widens each schedule slot on both sides.
const DefaultTimeBuffer = 15 * time.Minute

const timeMatchConfidence = 95

// TimeStrategy matches the recording time against weekly schedule slots.
type TimeStrategy struct {
	buffer time.Duration
	loc    *time.Location
}

// NewTimeStrategy creates a TimeStrategy. Recording times are converted to loc
// before comparing with slot wall-clock times.
func NewTimeStrategy(buffer time.Duration, loc *time.Location) TimeStrategy {
	if buffer < 0 {
		buffer = DefaultTimeBuffer
	}
	if loc == nil {
		loc = time.Local
	}
	return TimeStrategy{buffer: buffer, loc: loc}
}

// Method implements Strategy.
func (TimeStrategy) Method() domain.Method { return domain.MethodTime }

// Attempt implements Strategy.
func (s TimeStrategy) Attempt(_ context.Context, c Candidate, courses []domain.Course) domain.IdentificationResult {
	if c.RecordedAt.IsZero() {
		return ranked(domain.MethodTime, nil)
	}

	local := c.RecordedAt.In(s.loc)
	minute := local.Hour()*60 + local.Minute()
	buffer := int(s.buffer / time.Minute)

	var matches []domain.CourseSuggestion
	for _, course := range courses {
		for _, slot := range course.Schedule {
			if slot.DayOfWeek != int(local.Weekday()) {
				continue
			}
			start, err1 := clockMinutes(slot.StartTime)
			end, err2 := clockMinutes(slot.EndTime)
			if err1 != nil || err2 != nil {
				continue
			}
			if minute >= start-buffer && minute <= end+buffer {
				matches = append(matches, domain.CourseSuggestion{
					CourseID:   course.ID,
					CourseName: course.Name,
					Confidence: timeMatchConfidence,
					Reason:     fmt.Sprintf("錄音時間 (%s) 符合課程時間", local.Format("15:04")),
				})
				break
			}
		}
	}

	return ranked(domain.MethodTime, matches)
}

// clockMinutes parses "HH:MM" into minutes after midnight.
func clockMinutes(hhmm string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(hhmm), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q", hhmm)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", hhmm)
	}
	min, err := strconv.Atoi(m)
	if err != nil || min < 0 || min > 59 {
		return 0, fmt.Errorf("invalid minute in %q", hhmm)
	}
	return hour*60 + min, nil
}
