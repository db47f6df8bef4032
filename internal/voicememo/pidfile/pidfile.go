// Package pidfile manages the PID file of the background watcher.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// Common errors
var (
	ErrNoPIDFile      = errors.New("no PID file found")
	ErrInvalidPID     = errors.New("invalid PID in file")
	ErrAlreadyRunning = errors.New("watcher is already running")
)

const (
	defaultName = "watch.pid"
	dirPerm     = 0755
	filePerm    = 0644
)

// DefaultPath returns ~/.lecture/watch.pid.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".lecture", defaultName), nil
}

// File is a PID file at a fixed path.
type File struct {
	path string
}

// New returns the PID file at path.
func New(path string) *File {
	return &File{path: path}
}

// Path returns the file location.
func (f *File) Path() string {
	return f.path
}

// Write records pid, creating parent directories if needed.
func (f *File) Write(pid int) error {
	if err := os.MkdirAll(filepath.Dir(f.path), dirPerm); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	content := strconv.Itoa(pid) + "\n"
	if err := os.WriteFile(f.path, []byte(content), filePerm); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	return nil
}

// Read returns the recorded PID.
// Returns ErrNoPIDFile if the file doesn't exist and ErrInvalidPID if it
// holds anything but a positive integer.
func (f *File) Read() (int, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNoPIDFile
		}
		return 0, fmt.Errorf("read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, ErrInvalidPID
	}
	return pid, nil
}

// Remove deletes the file. A missing file is not an error.
func (f *File) Remove() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove PID file: %w", err)
	}
	return nil
}

// IsRunning reports whether the recorded process is alive.
// No PID file gives (false, 0, nil); a stale one gives (false, pid, nil).
func (f *File) IsRunning() (bool, int, error) {
	pid, err := f.Read()
	if err != nil {
		if errors.Is(err, ErrNoPIDFile) {
			return false, 0, nil
		}
		return false, 0, err
	}
	alive, err := Alive(pid)
	return alive, pid, err
}

// Alive probes pid with signal 0. EPERM counts as alive.
func Alive(pid int) (bool, error) {
	err := syscall.Kill(pid, 0)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, syscall.ESRCH):
		return false, nil
	case errors.Is(err, syscall.EPERM):
		return true, nil
	default:
		return false, fmt.Errorf("check process: %w", err)
	}
}

// CleanStale removes the file if its process is gone. It reports whether a
// file was removed. An unreadable PID counts as stale.
func (f *File) CleanStale() (bool, error) {
	running, _, err := f.IsRunning()
	if errors.Is(err, ErrInvalidPID) {
		running, err = false, nil
	}
	if err != nil || running {
		return false, err
	}

	if _, err := os.Stat(f.path); err != nil {
		return false, nil
	}
	if err := f.Remove(); err != nil {
		return false, err
	}
	return true, nil
}

// Acquire writes the current PID unless another live process holds the
// file.
func (f *File) Acquire() error {
	if _, err := f.CleanStale(); err != nil {
		return err
	}
	if running, pid, err := f.IsRunning(); err != nil {
		return err
	} else if running && pid != os.Getpid() {
		return fmt.Errorf("%w (PID %d)", ErrAlreadyRunning, pid)
	}
	return f.Write(os.Getpid())
}
