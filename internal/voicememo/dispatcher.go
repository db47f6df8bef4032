package voicememo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/domain"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/logging"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/metrics"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/stabilizer"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/watcher"
)

// Watch errors
var (
	ErrWatchPathMissing = errors.New("watch path does not exist")
	ErrWatchPathNotDir  = errors.New("watch path is not a directory")
	ErrAlreadyWatching  = errors.New("watcher already started")
	ErrWatcherStopped   = errors.New("watcher was stopped")
)

// Skip reasons recorded in the files_skipped metric.
const (
	skipAutoProcessOff = "auto_process_off"
	skipInFlight       = "in_flight"
	skipPattern        = "pattern"
)

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	Path        string
	Pattern     string
	AutoProcess bool

	FileWatcher watcher.FileWatcher
	Stabilizer  stabilizer.Stabilizer
	Processor   FileProcessor
	Metrics     *metrics.Metrics
	Logger      logging.Logger
}

// Watcher dispatches every stable new recording in one directory to the
// processor on its own goroutine. A path already in flight is not
// dispatched again.
type Watcher struct {
	path        string
	pattern     string
	autoProcess bool

	fw        watcher.FileWatcher
	stab      stabilizer.Stabilizer
	processor FileProcessor
	metrics   *metrics.Metrics
	logger    logging.Logger

	mu        sync.Mutex
	inFlight  map[string]struct{}
	running   bool
	stopped   bool
	startedAt time.Time
	cancel    context.CancelFunc
	loopDone  chan struct{}

	wg        sync.WaitGroup
	processed atomic.Int64
	failed    atomic.Int64
}

// NewWatcher creates a Watcher. FileWatcher, Stabilizer and Processor are
// required.
func NewWatcher(opts WatcherOptions) *Watcher {
	w := &Watcher{
		path:        opts.Path,
		pattern:     opts.Pattern,
		autoProcess: opts.AutoProcess,
		fw:          opts.FileWatcher,
		stab:        opts.Stabilizer,
		processor:   opts.Processor,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		inFlight:    make(map[string]struct{}),
	}
	if w.pattern == "" {
		w.pattern = DefaultWatchPattern
	}
	if w.logger == nil {
		w.logger = logging.Nop()
	}
	return w
}

// Start checks the watch path and begins dispatching add events. The path
// is never created. Start returns once the underlying watch is armed.
func (w *Watcher) Start(ctx context.Context) error {
	info, err := os.Stat(w.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrWatchPathMissing, w.path)
		}
		return fmt.Errorf("stat watch path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrWatchPathNotDir, w.path)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ErrWatcherStopped
	}
	if w.cancel != nil {
		return ErrAlreadyWatching
	}

	loopCtx, cancel := context.WithCancel(ctx)
	events, err := w.fw.Watch(loopCtx, w.path, []string{w.pattern})
	if err != nil {
		cancel()
		return fmt.Errorf("start watch: %w", err)
	}

	w.cancel = cancel
	w.running = true
	w.startedAt = time.Now()
	w.loopDone = make(chan struct{})

	// In-flight recordings outlive Stop and run to their terminal state
	procCtx := context.WithoutCancel(ctx)
	go w.loop(loopCtx, procCtx, events)

	w.logger.Info("watching for recordings",
		logging.String("path", w.path),
		logging.String("pattern", w.pattern),
		logging.Bool("auto_process", w.autoProcess),
	)
	return nil
}

func (w *Watcher) loop(ctx, procCtx context.Context, events <-chan watcher.FileEvent) {
	defer close(w.loopDone)

	errs := w.fw.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.Error("file watcher error", err, logging.String("path", w.path))
		case ev, ok := <-events:
			if !ok {
				w.logger.Info("file watcher closed", logging.String("path", w.path))
				w.setRunning(false)
				return
			}
			w.handle(procCtx, ev)
		}
	}
}

// handle decides whether ev is dispatched.
func (w *Watcher) handle(ctx context.Context, ev watcher.FileEvent) {
	name := filepath.Base(ev.Path)
	if w.metrics != nil {
		w.metrics.FilesDetected.Inc()
	}

	if !watcher.MatchesAny(name, []string{w.pattern}) {
		w.skip(skipPattern, ev.Path)
		return
	}
	if !w.autoProcess {
		w.logger.Info("recording detected, auto-process disabled", logging.String("path", ev.Path))
		w.skip(skipAutoProcessOff, ev.Path)
		return
	}
	if !w.claim(ev.Path) {
		w.logger.Info("recording already in flight, ignoring event", logging.String("path", ev.Path))
		w.skip(skipInFlight, ev.Path)
		return
	}

	w.wg.Add(1)
	go w.run(ctx, ev.Path)
}

// run stabilizes and processes one path. Errors and panics stay here.
func (w *Watcher) run(ctx context.Context, path string) {
	defer w.wg.Done()
	defer w.release(path)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			w.failed.Add(1)
			w.logger.Error("recording processing panicked", err, logging.String("path", path))
			w.processor.FailRecording(ctx, path, err)
		}
	}()

	if err := w.stab.WaitForStable(ctx, path); err != nil {
		w.failed.Add(1)
		w.logger.Error("recording did not stabilize", err, logging.String("path", path))
		w.processor.FailRecording(ctx, path, fmt.Errorf("wait for stable file: %w", err))
		return
	}

	if _, err := w.processor.Process(ctx, path); err != nil {
		w.failed.Add(1)
		w.logger.Error("recording failed", err, logging.String("path", path))
		return
	}
	w.processed.Add(1)
}

func (w *Watcher) claim(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.inFlight[path]; busy {
		return false
	}
	w.inFlight[path] = struct{}{}
	return true
}

func (w *Watcher) release(path string) {
	w.mu.Lock()
	delete(w.inFlight, path)
	w.mu.Unlock()
}

func (w *Watcher) skip(reason, path string) {
	if w.metrics != nil {
		w.metrics.FilesSkipped.WithLabelValues(reason).Inc()
	}
	w.logger.Debug("recording skipped", logging.String("reason", reason), logging.String("path", path))
}

func (w *Watcher) setRunning(v bool) {
	w.mu.Lock()
	w.running = v
	w.mu.Unlock()
}

// Stop halts event dispatch. Recordings already dispatched keep running;
// use Wait to block until they finish. Stop is idempotent and a stopped
// Watcher cannot be restarted.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	w.running = false
	cancel, done := w.cancel, w.loopDone
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	err := w.fw.Stop()
	<-done
	w.logger.Info("watcher stopped", logging.String("path", w.path))
	return err
}

// Wait blocks until every dispatched recording has finished.
func (w *Watcher) Wait() {
	w.wg.Wait()
}

// Status returns a snapshot of the watcher.
func (w *Watcher) Status() domain.WatchStatus {
	w.mu.Lock()
	files := make([]string, 0, len(w.inFlight))
	for p := range w.inFlight {
		files = append(files, p)
	}
	status := domain.WatchStatus{
		Watching:    w.running,
		WatchPath:   w.path,
		Pattern:     w.pattern,
		AutoProcess: w.autoProcess,
		StartedAt:   w.startedAt,
	}
	w.mu.Unlock()

	sort.Strings(files)
	status.ProcessingCount = len(files)
	status.ProcessingFiles = files
	status.Processed = w.processed.Load()
	status.Failed = w.failed.Load()
	return status
}
