package stabilizer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeRecording(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to create file: %v", err)
	}
	return path
}

// appendEvery grows path by one chunk per tick, n times (forever if n < 0),
// until stop is closed. The returned channel closes when it stops writing.
func appendEvery(path string, tick time.Duration, n int, stop <-chan struct{}) <-chan time.Time {
	done := make(chan time.Time, 1)
	go func() {
		defer close(done)
		for i := 0; n < 0 || i < n; i++ {
			select {
			case <-stop:
				done <- time.Now()
				return
			case <-time.After(tick):
			}
			f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
			if err != nil {
				return
			}
			f.Write([]byte("aac-frame"))
			f.Close()
		}
		done <- time.Now()
	}()
	return done
}

func TestPollStabilizer_WaitsForSyncToFinish(t *testing.T) {
	path := writeRecording(t, "syncing.m4a", []byte("ftyp"))
	s := NewQuietPeriodStabilizer(120*time.Millisecond, 40*time.Millisecond, 0)

	stop := make(chan struct{})
	defer close(stop)
	lastWrite := appendEvery(path, 25*time.Millisecond, 4, stop)

	if err := s.WaitForStable(context.Background(), path); err != nil {
		t.Fatalf("WaitForStable failed: %v", err)
	}
	returned := time.Now()

	finished, ok := <-lastWrite
	if !ok {
		t.Fatal("writer exited early")
	}
	if quiet := returned.Sub(finished); quiet < s.QuietPeriod()-s.Interval {
		t.Errorf("returned %v after the last write, want at least %v", quiet, s.QuietPeriod()-s.Interval)
	}
}

func TestPollStabilizer_UnchangedFile(t *testing.T) {
	tests := []struct {
		name  string
		quiet time.Duration
	}{
		{"single check", 10 * time.Millisecond},
		{"several checks", 40 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeRecording(t, "memo.m4a", []byte("complete recording"))
			s := NewQuietPeriodStabilizer(tt.quiet, 10*time.Millisecond, 0)

			start := time.Now()
			if err := s.WaitForStable(context.Background(), path); err != nil {
				t.Fatalf("WaitForStable failed: %v", err)
			}
			elapsed := time.Since(start)
			if elapsed < s.QuietPeriod() {
				t.Errorf("returned after %v, before the %v quiet period", elapsed, s.QuietPeriod())
			}
			if elapsed > time.Second {
				t.Errorf("took too long: %v", elapsed)
			}
		})
	}
}

func TestPollStabilizer_ContextDeadline(t *testing.T) {
	path := writeRecording(t, "endless.m4a", nil)
	s := NewQuietPeriodStabilizer(500*time.Millisecond, 50*time.Millisecond, 0)

	stop := make(chan struct{})
	defer close(stop)
	appendEvery(path, 20*time.Millisecond, -1, stop)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	if err := s.WaitForStable(ctx, path); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got: %v", err)
	}
}

func TestPollStabilizer_MissingFile(t *testing.T) {
	s := NewQuietPeriodStabilizer(30*time.Millisecond, 10*time.Millisecond, 0)

	err := s.WaitForStable(context.Background(), filepath.Join(t.TempDir(), "gone.m4a"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected a not-exist error, got: %v", err)
	}
}

func TestNewQuietPeriodStabilizer(t *testing.T) {
	tests := []struct {
		name       string
		quiet      time.Duration
		interval   time.Duration
		wantChecks int
	}{
		{"default watch settings", 2 * time.Second, 100 * time.Millisecond, 20},
		{"rounds up", 250 * time.Millisecond, 100 * time.Millisecond, 3},
		{"at least one check", 0, 100 * time.Millisecond, 1},
		{"zero interval falls back", time.Second, 0, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewQuietPeriodStabilizer(tt.quiet, tt.interval, time.Minute)
			if s.Checks != tt.wantChecks {
				t.Errorf("Checks = %d, want %d", s.Checks, tt.wantChecks)
			}
			if s.QuietPeriod() < tt.quiet {
				t.Errorf("QuietPeriod() = %v, shorter than %v", s.QuietPeriod(), tt.quiet)
			}
			if s.Timeout != time.Minute {
				t.Errorf("Timeout = %v, want 1m", s.Timeout)
			}
		})
	}
}

func TestPollStabilizer_InternalTimeout(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "growing.m4a")
	if err := os.WriteFile(testFile, nil, 0644); err != nil {
		t.Fatalf("failed to create file: %v", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(5 * time.Millisecond):
				f, err := os.OpenFile(testFile, os.O_APPEND|os.O_WRONLY, 0644)
				if err != nil {
					return
				}
				f.WriteString("x")
				f.Close()
			}
		}
	}()

	s := NewQuietPeriodStabilizer(200*time.Millisecond, 20*time.Millisecond, 150*time.Millisecond)

	err := s.WaitForStable(context.Background(), testFile)
	if !errors.Is(err, ErrStabilizationTimeout) {
		t.Errorf("expected ErrStabilizationTimeout, got: %v", err)
	}
}

func TestPollStabilizer_QuietPeriodRespected(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "done.m4a")
	if err := os.WriteFile(testFile, []byte("audio"), 0644); err != nil {
		t.Fatalf("failed to create file: %v", err)
	}

	s := NewQuietPeriodStabilizer(100*time.Millisecond, 10*time.Millisecond, time.Second)

	start := time.Now()
	if err := s.WaitForStable(context.Background(), testFile); err != nil {
		t.Fatalf("WaitForStable failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("returned before the quiet period elapsed: %v", elapsed)
	}
}
