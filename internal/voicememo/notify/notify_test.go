package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBackend struct {
	mu    sync.Mutex
	sent  []Notification
	err   error
	delay time.Duration
}

func (b *recordingBackend) Name() string { return "recording" }

func (b *recordingBackend) Send(ctx context.Context, n Notification) error {
	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, n)
	return b.err
}

func (b *recordingBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

func TestSystemNotifier_DeliversAsync(t *testing.T) {
	backend := &recordingBackend{delay: 20 * time.Millisecond}
	n := NewSystemNotifier(Options{Backend: backend})

	start := time.Now()
	n.Notify(context.Background(), Notification{Title: "t", Message: "m"})
	assert.Less(t, time.Since(start), 15*time.Millisecond, "Notify should not block")

	require.NoError(t, n.Close())
	assert.Equal(t, 1, backend.count())
}

func TestSystemNotifier_SurvivesCallerCancel(t *testing.T) {
	backend := &recordingBackend{delay: 10 * time.Millisecond}
	n := NewSystemNotifier(Options{Backend: backend})

	ctx, cancel := context.WithCancel(context.Background())
	n.Notify(ctx, Notification{Title: "t"})
	cancel()

	n.Close()
	assert.Equal(t, 1, backend.count())
}

func TestSystemNotifier_FailuresAreSwallowed(t *testing.T) {
	var mu sync.Mutex
	var reported []error
	backend := &recordingBackend{err: errors.New("osascript: exit status 1")}
	n := NewSystemNotifier(Options{Backend: backend, OnError: func(err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	}})

	n.Notify(context.Background(), Notification{Title: "t"})
	n.Close()

	require.Len(t, reported, 1)
	assert.EqualError(t, reported[0], "osascript: exit status 1")
}

func TestSystemNotifier_Timeout(t *testing.T) {
	var got error
	backend := &recordingBackend{delay: time.Second}
	n := NewSystemNotifier(Options{Backend: backend, Timeout: 10 * time.Millisecond, OnError: func(err error) { got = err }})

	n.Notify(context.Background(), Notification{Title: "slow"})
	n.Close()

	assert.ErrorIs(t, got, context.DeadlineExceeded)
	assert.Equal(t, 0, backend.count())
}

func TestSystemNotifier_AfterClose(t *testing.T) {
	var got error
	backend := &recordingBackend{}
	n := NewSystemNotifier(Options{Backend: backend, OnError: func(err error) { got = err }})
	n.Close()

	n.Notify(context.Background(), Notification{Title: "late"})

	assert.ErrorIs(t, got, ErrClosed)
	assert.Equal(t, 0, backend.count())
}

func TestAppleScript(t *testing.T) {
	tests := []struct {
		name string
		in   Notification
		want string
	}{
		{
			"title and message",
			Notification{Title: "Done", Message: "ok"},
			`display notification "ok" with title "Done"`,
		},
		{
			"subtitle and sound",
			Notification{Title: "T", Message: "M", Subtitle: "S", Sound: "default"},
			`display notification "M" with title "T" subtitle "S" sound name "default"`,
		},
		{
			"escaping",
			Notification{Title: `say "hi"`, Message: `C:\notes $HOME` + "`x`"},
			`display notification "C:\\notes $HOME` + "`x`" + `" with title "say \"hi\""`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AppleScript(tt.in))
		})
	}
}

func TestCommandBackends(t *testing.T) {
	var calls [][]string
	run := func(_ context.Context, name string, args ...string) error {
		calls = append(calls, append([]string{name}, args...))
		return nil
	}

	n := Notification{Title: "T", Message: "M", Subtitle: "S"}
	require.NoError(t, (&OsascriptBackend{Run: run}).Send(context.Background(), n))
	require.NoError(t, (&NotifySendBackend{Run: run}).Send(context.Background(), n))

	assert.Equal(t, []string{"osascript", "-e", `display notification "M" with title "T" subtitle "S"`}, calls[0])
	assert.Equal(t, []string{"notify-send", "--app-name=lecture", "T", "S\nM"}, calls[1])
}

func TestPlatformBackend(t *testing.T) {
	assert.Equal(t, "osascript", PlatformBackend("darwin", nil).Name())
	assert.Equal(t, "notify-send", PlatformBackend("linux", nil).Name())
	assert.Equal(t, "log", PlatformBackend("windows", nil).Name())
}
