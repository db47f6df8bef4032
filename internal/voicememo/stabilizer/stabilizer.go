// Package stabilizer decides when a newly detected recording has finished
// being written by the sync agent.
package stabilizer

import (
	"context"
	"errors"
	"os"
	"time"
)

// ErrStabilizationTimeout is returned when the file does not stabilize within the timeout.
var ErrStabilizationTimeout = errors.New("stabilization timeout: file did not stabilize in time")

// Stabilizer waits for a file to finish writing.
type Stabilizer interface {
	WaitForStable(ctx context.Context, path string) error
}

// PollStabilizer implements Stabilizer using polling.
type PollStabilizer struct {
	// Interval is the duration between file size checks.
	Interval time.Duration

	// Checks is the number of consecutive stable checks required.
	Checks int

	// Timeout is the maximum duration to wait for stabilization.
	// If zero, no timeout is applied (relies on context).
	Timeout time.Duration
}

// NewQuietPeriodStabilizer returns a stabilizer that requires the size to stay
// unchanged for at least quiet, sampled every interval, giving up after timeout.
func NewQuietPeriodStabilizer(quiet, interval, timeout time.Duration) *PollStabilizer {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	checks := int((quiet + interval - 1) / interval)
	if checks < 1 {
		checks = 1
	}
	return &PollStabilizer{
		Interval: interval,
		Checks:   checks,
		Timeout:  timeout,
	}
}

// QuietPeriod is the unchanged-size window this stabilizer requires.
func (s *PollStabilizer) QuietPeriod() time.Duration {
	return s.Interval * time.Duration(s.Checks)
}

// WaitForStable waits until the file size remains constant for the configured
// number of consecutive checks.
//
// If Timeout is set and the context has no deadline, a timeout context is
// created internally and its expiry is reported as ErrStabilizationTimeout.
func (s *PollStabilizer) WaitForStable(ctx context.Context, path string) error {
	usingInternalTimeout := false
	if s.Timeout > 0 {
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.Timeout)
			defer cancel()
			usingInternalTimeout = true
		}
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	var lastSize int64 = -1
	stableCount := 0

	for stableCount < s.Checks {
		select {
		case <-ctx.Done():
			if usingInternalTimeout && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrStabilizationTimeout
			}
			return ctx.Err()
		case <-ticker.C:
		}

		info, err := os.Stat(path)
		if err != nil {
			return err
		}

		currentSize := info.Size()
		if currentSize == lastSize {
			stableCount++
		} else {
			stableCount = 0
			lastSize = currentSize
		}
	}

	return nil
}
