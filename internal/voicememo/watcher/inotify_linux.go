//go:build linux

package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// New returns the native watcher for this platform.
func New() (FileWatcher, error) {
	return NewInotifyWatcher()
}

// addMask covers files created in place and files renamed into the
// directory, which is how sync agents usually publish a finished download.
const addMask = unix.IN_CREATE | unix.IN_MOVED_TO

// InotifyWatcher implements FileWatcher using Linux inotify. Only the top
// level of the directory is watched.
type InotifyWatcher struct {
	fd       int
	wd       int
	patterns []string
	errs     chan error

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewInotifyWatcher creates a new inotify-based file watcher.
func NewInotifyWatcher() (*InotifyWatcher, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("inotify init: %w", err)
	}

	return &InotifyWatcher{
		fd:     fd,
		errs:   make(chan error, 16),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Watch starts watching dir for newly added files whose base name matches
// one of patterns. Files already present are not reported.
func (w *InotifyWatcher) Watch(ctx context.Context, dir string, patterns []string) (<-chan FileEvent, error) {
	wd, err := unix.InotifyAddWatch(w.fd, dir, addMask)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	w.wd = wd
	w.patterns = patterns

	events := make(chan FileEvent, 100)

	go w.readEvents(ctx, dir, events)

	return events, nil
}

// Errors reports filesystem-level watch errors. Watching continues after
// an error is reported; errors are dropped if nobody is receiving.
func (w *InotifyWatcher) Errors() <-chan error {
	return w.errs
}

// Stop stops the watcher and releases resources. It is safe to call more than once.
func (w *InotifyWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		if w.wd != 0 {
			<-w.done
			unix.InotifyRmWatch(w.fd, uint32(w.wd))
		}
		err = unix.Close(w.fd)
	})
	return err
}

func (w *InotifyWatcher) readEvents(ctx context.Context, dir string, events chan<- FileEvent) {
	defer close(w.done)
	defer close(events)

	buf := make([]byte, 64*(unix.SizeofInotifyEvent+unix.NAME_MAX+1))

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		n, err := unix.Read(w.fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			w.reportError(fmt.Errorf("read inotify events: %w", err))
			time.Sleep(100 * time.Millisecond)
			continue
		}

		if n < unix.SizeofInotifyEvent {
			continue
		}

		offset := 0
		for offset+unix.SizeofInotifyEvent <= n {
			event := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
			nameLen := int(event.Len)

			if event.Mask&unix.IN_Q_OVERFLOW != 0 {
				w.reportError(ErrQueueOverflow)
			}

			if nameLen > 0 && event.Mask&unix.IN_ISDIR == 0 {
				nameBytes := buf[offset+unix.SizeofInotifyEvent : offset+unix.SizeofInotifyEvent+nameLen]
				name := strings.TrimRight(string(nameBytes), "\x00")

				if w.matchesPatterns(name) {
					fullPath := filepath.Join(dir, name)
					if info, err := os.Stat(fullPath); err == nil && info.Mode().IsRegular() {
						select {
						case events <- FileEvent{Path: fullPath, Size: info.Size(), Timestamp: time.Now()}:
						case <-ctx.Done():
							return
						case <-w.stopCh:
							return
						}
					}
				}
			}

			offset += unix.SizeofInotifyEvent + nameLen
		}
	}
}

func (w *InotifyWatcher) reportError(err error) {
	select {
	case w.errs <- err:
	default:
	}
}

func (w *InotifyWatcher) matchesPatterns(name string) bool {
	return MatchesAny(name, w.patterns)
}
