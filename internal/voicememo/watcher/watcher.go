// Package watcher reports recordings added to the synced Voice Memos directory.
package watcher

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"
)

// ErrQueueOverflow is reported when the kernel dropped events.
var ErrQueueOverflow = errors.New("inotify event queue overflowed")

// FileEvent represents a detected file.
type FileEvent struct {
	Path      string
	Size      int64
	Timestamp time.Time
}

// FileWatcher detects new files in a directory.
type FileWatcher interface {
	Watch(ctx context.Context, dir string, patterns []string) (<-chan FileEvent, error)
	Errors() <-chan error
	Stop() error
}

// MatchesAny reports whether name matches one of the glob patterns. An
// empty pattern list matches everything. Matching ignores case so that
// "*.m4a" also catches "Lecture.M4A".
func MatchesAny(name string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}

	lower := strings.ToLower(name)
	for _, pattern := range patterns {
		matched, err := filepath.Match(strings.ToLower(pattern), lower)
		if err == nil && matched {
			return true
		}
	}
	return false
}
