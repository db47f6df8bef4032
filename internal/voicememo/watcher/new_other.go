//go:build !linux

package watcher

import "time"

// New returns the native watcher for this platform.
func New() (FileWatcher, error) {
	return NewPollWatcher(500 * time.Millisecond), nil
}
