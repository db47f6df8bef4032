package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const dateLayout = "2006-01-02"

// dailyFile is a zapcore.WriteSyncer that writes to <prefix>-YYYY-MM-DD.log
// and opens a new file when the UTC date changes.
type dailyFile struct {
	dir           string
	prefix        string
	retentionDays int

	mu          sync.Mutex
	file        *os.File
	currentDate string
	now         func() time.Time
}

func newDailyFile(dir, prefix string, retentionDays int) (*dailyFile, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	f := &dailyFile{
		dir:           dir,
		prefix:        prefix,
		retentionDays: retentionDays,
		now:           time.Now,
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.rotateIfNeeded(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *dailyFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.rotateIfNeeded(); err != nil {
		return 0, err
	}
	return f.file.Write(p)
}

func (f *dailyFile) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return nil
	}
	return f.file.Sync()
}

func (f *dailyFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

// Path returns the file currently being written.
func (f *dailyFile) Path() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file != nil {
		return f.file.Name()
	}
	return f.pathFor(f.now().UTC().Format(dateLayout))
}

func (f *dailyFile) pathFor(date string) string {
	return filepath.Join(f.dir, fmt.Sprintf("%s-%s.log", f.prefix, date))
}

func (f *dailyFile) rotateIfNeeded() error {
	today := f.now().UTC().Format(dateLayout)

	if f.currentDate == today && f.file != nil {
		return nil
	}

	if f.file != nil {
		f.file.Close()
		f.file = nil
	}

	file, err := os.OpenFile(f.pathFor(today), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	f.file = file
	f.currentDate = today
	return nil
}

// cleanOld removes log files for this prefix older than the retention window.
func (f *dailyFile) cleanOld() error {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return fmt.Errorf("failed to read log directory: %w", err)
	}

	prefix := f.prefix + "-"
	cutoff := f.now().UTC().AddDate(0, 0, -f.retentionDays)

	var toDelete []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".log") {
			continue
		}

		dateStr := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".log")
		logDate, err := time.Parse(dateLayout, dateStr)
		if err != nil {
			continue
		}

		if logDate.Before(cutoff) {
			toDelete = append(toDelete, filepath.Join(f.dir, name))
		}
	}

	sort.Strings(toDelete)

	for _, path := range toDelete {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove old log file %s: %w", path, err)
		}
	}
	return nil
}
