package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// PollWatcher detects added files by rescanning the directory. It is used
// where inotify is unavailable.
type PollWatcher struct {
	Interval time.Duration

	errs     chan error
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewPollWatcher creates a watcher that rescans every interval.
func NewPollWatcher(interval time.Duration) *PollWatcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &PollWatcher{
		Interval: interval,
		errs:     make(chan error, 16),
		stopCh:   make(chan struct{}),
	}
}

// Watch snapshots the current directory contents and reports names that
// appear afterwards.
func (w *PollWatcher) Watch(ctx context.Context, dir string, patterns []string) (<-chan FileEvent, error) {
	seen, err := w.scan(dir, patterns)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	events := make(chan FileEvent, 100)
	go w.loop(ctx, dir, patterns, seen, events)
	return events, nil
}

// Errors reports scan failures. Watching continues after an error.
func (w *PollWatcher) Errors() <-chan error {
	return w.errs
}

// Stop ends the scan loop. It is safe to call more than once.
func (w *PollWatcher) Stop() error {
	w.stopOnce.Do(func() { close(w.stopCh) })
	return nil
}

func (w *PollWatcher) loop(ctx context.Context, dir string, patterns []string, seen map[string]struct{}, events chan<- FileEvent) {
	defer close(events)

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
		}

		current, err := w.scan(dir, patterns)
		if err != nil {
			select {
			case w.errs <- err:
			default:
			}
			continue
		}

		for name := range current {
			if _, ok := seen[name]; ok {
				continue
			}
			path := filepath.Join(dir, name)
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			select {
			case events <- FileEvent{Path: path, Size: info.Size(), Timestamp: time.Now()}:
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			}
		}
		// Names that disappear are forgotten so a re-added file is reported again
		seen = current
	}
}

func (w *PollWatcher) scan(dir string, patterns []string) (map[string]struct{}, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	names := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if MatchesAny(entry.Name(), patterns) {
			names[entry.Name()] = struct{}{}
		}
	}
	return names, nil
}
