// Package notify delivers desktop notifications about processed recordings.
// Delivery is asynchronous and best-effort: failures are logged, never
// returned.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/logging"
)

// DefaultTimeout bounds a single delivery.
const DefaultTimeout = 10 * time.Second

// DefaultSound is the macOS notification sound.
const DefaultSound = "default"

// Notification is one user-facing message.
type Notification struct {
	Title    string
	Message  string
	Subtitle string
	// Sound names a system sound. Empty means silent.
	Sound string
	// ActionURL is where the dashboard shows the note. Desktop backends
	// cannot attach it, so it is only logged.
	ActionURL string
}

// Notifier is what the processor depends on.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Backend performs the actual delivery.
type Backend interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// ErrClosed is reported to the error hook for notifications sent after Close.
var ErrClosed = errors.New("notifier closed")

// Options configures a SystemNotifier.
type Options struct {
	// Backend overrides platform detection.
	Backend Backend
	Timeout time.Duration
	Logger  logging.Logger
	// OnError is called for every failed delivery.
	OnError func(error)
}

// SystemNotifier sends notifications in the background through a Backend.
type SystemNotifier struct {
	backend Backend
	timeout time.Duration
	logger  logging.Logger
	onError func(error)

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewSystemNotifier creates a notifier for the current platform.
func NewSystemNotifier(opts Options) *SystemNotifier {
	n := &SystemNotifier{
		backend: opts.Backend,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		onError: opts.OnError,
	}
	if n.timeout <= 0 {
		n.timeout = DefaultTimeout
	}
	if n.logger == nil {
		n.logger = logging.Nop()
	}
	if n.backend == nil {
		n.backend = PlatformBackend(runtime.GOOS, n.logger)
	}
	return n
}

// PlatformBackend picks osascript on macOS, notify-send on Linux and the log
// backend elsewhere.
func PlatformBackend(goos string, logger logging.Logger) Backend {
	switch goos {
	case "darwin":
		return &OsascriptBackend{Run: runCommand}
	case "linux":
		return &NotifySendBackend{Run: runCommand}
	default:
		return &LogBackend{Logger: logger}
	}
}

// Notify schedules delivery and returns immediately. The delivery outlives
// ctx cancellation but not the notifier timeout.
func (s *SystemNotifier) Notify(ctx context.Context, n Notification) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.fail(n, ErrClosed)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		if err := s.backend.Send(sendCtx, n); err != nil {
			s.fail(n, err)
			return
		}

		fields := []logging.Field{
			logging.String("title", n.Title),
			logging.String("backend", s.backend.Name()),
		}
		if n.ActionURL != "" {
			fields = append(fields, logging.String("action_url", n.ActionURL))
		}
		s.logger.Info("notification sent", fields...)
	}()
}

func (s *SystemNotifier) fail(n Notification, err error) {
	s.logger.Error("notification failed", err,
		logging.String("title", n.Title),
		logging.String("backend", s.backend.Name()),
	)
	if s.onError != nil {
		s.onError(err)
	}
}

// Close stops accepting notifications and waits for pending deliveries.
func (s *SystemNotifier) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// CommandFunc runs an external program.
type CommandFunc func(ctx context.Context, name string, args ...string) error

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// OsascriptBackend sends macOS Notification Center banners.
type OsascriptBackend struct {
	Run CommandFunc
}

// Name implements Backend.
func (*OsascriptBackend) Name() string { return "osascript" }

// Send implements Backend.
func (b *OsascriptBackend) Send(ctx context.Context, n Notification) error {
	return b.Run(ctx, "osascript", "-e", AppleScript(n))
}

// AppleScript builds the display notification statement for n.
func AppleScript(n Notification) string {
	script := fmt.Sprintf(`display notification "%s" with title "%s"`, escapeAppleScript(n.Message), escapeAppleScript(n.Title))
	if n.Subtitle != "" {
		script += fmt.Sprintf(` subtitle "%s"`, escapeAppleScript(n.Subtitle))
	}
	if n.Sound != "" {
		script += fmt.Sprintf(` sound name "%s"`, escapeAppleScript(n.Sound))
	}
	return script
}

// escapeAppleScript escapes backslashes and double quotes inside an
// AppleScript string literal. The script is passed as an argument, not
// through a shell, so nothing else needs quoting.
func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// NotifySendBackend uses libnotify's notify-send.
type NotifySendBackend struct {
	Run CommandFunc
}

// Name implements Backend.
func (*NotifySendBackend) Name() string { return "notify-send" }

// Send implements Backend.
func (b *NotifySendBackend) Send(ctx context.Context, n Notification) error {
	body := n.Message
	if n.Subtitle != "" {
		body = n.Subtitle + "\n" + body
	}
	return b.Run(ctx, "notify-send", "--app-name=lecture", n.Title, body)
}

// LogBackend writes notifications to the log only.
type LogBackend struct {
	Logger logging.Logger
}

// Name implements Backend.
func (*LogBackend) Name() string { return "log" }

// Send implements Backend.
func (b *LogBackend) Send(_ context.Context, n Notification) error {
	b.Logger.Info("notification",
		logging.String("title", n.Title),
		logging.String("message", n.Message),
		logging.String("subtitle", n.Subtitle),
	)
	return nil
}
