package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompleted(t *testing.T) {
	n := Completed("note-1", "分散式系統", 5430)

	assert.Equal(t, "✅ 語音筆記已處理完成", n.Title)
	assert.Equal(t, "分散式系統 - 91 分鐘", n.Message)
	assert.Equal(t, "/dashboard/notes/note-1", n.ActionURL)
	assert.Equal(t, DefaultSound, n.Sound)

	assert.Equal(t, "未分類 - 0 分鐘", Completed("x", "", 20).Message)
}

func TestNeedsReview(t *testing.T) {
	n := NeedsReview("New Recording 4.m4a")

	assert.Equal(t, "❓ 語音筆記待確認", n.Title)
	assert.Equal(t, "檔案「New Recording 4.m4a」無法自動識別課程，請手動選擇", n.Message)
	assert.Equal(t, ReviewURL, n.ActionURL)
}

func TestFailed(t *testing.T) {
	n := Failed("memo.m4a")
	assert.Contains(t, n.Message, "memo.m4a")
	assert.Equal(t, FailedURL, n.ActionURL)
}
