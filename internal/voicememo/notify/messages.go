package notify

import (
	"fmt"
	"math"
)

// ReviewURL lists notes waiting for a manual course choice.
const ReviewURL = "/dashboard/notes?filter=pending"

// FailedURL lists notes that could not be processed.
const FailedURL = "/dashboard/notes?filter=failed"

// NoteURL returns the dashboard page for a note.
func NoteURL(noteID string) string {
	return "/dashboard/notes/" + noteID
}

// Completed announces a note filed under a course.
func Completed(noteID, courseName string, durationSeconds int) Notification {
	if courseName == "" {
		courseName = "未分類"
	}
	minutes := int(math.Round(float64(durationSeconds) / 60))
	return Notification{
		Title:     "✅ 語音筆記已處理完成",
		Message:   fmt.Sprintf("%s - %d 分鐘", courseName, minutes),
		Sound:     DefaultSound,
		ActionURL: NoteURL(noteID),
	}
}

// NeedsReview asks the user to pick the course for a recording.
func NeedsReview(fileName string) Notification {
	return Notification{
		Title:     "❓ 語音筆記待確認",
		Message:   fmt.Sprintf("檔案「%s」無法自動識別課程，請手動選擇", fileName),
		Sound:     DefaultSound,
		ActionURL: ReviewURL,
	}
}

// Failed reports a recording that could not be processed.
func Failed(fileName string) Notification {
	return Notification{
		Title:     "❌ 語音筆記處理失敗",
		Message:   fmt.Sprintf("檔案「%s」處理失敗，請稍後重試", fileName),
		Sound:     DefaultSound,
		ActionURL: FailedURL,
	}
}
