package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/domain"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/metadata"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/pidfile"
	"github.com/spf13/cobra"
)

// stopTimeout is the maximum time to wait for graceful shutdown before sending SIGKILL
const stopTimeout = 10 * time.Second

// statusTimeout bounds the /status request made by watch status
const statusTimeout = 2 * time.Second

var (
	// ErrNotRunning indicates the watch service is not running
	ErrNotRunning = errors.New("watch service is not running")

	// ErrStaleProcess indicates the PID file exists but the process is not running
	ErrStaleProcess = errors.New("stale PID file (process not running)")

	// ErrExiftoolMissing indicates exiftool could not be found
	ErrExiftoolMissing = errors.New("exiftool not found")
)

// NewWatchCmd creates the watch command group
func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Manage the Voice Memos watch service",
		Long:  "Commands for running and inspecting the service that files new Voice Memos recordings",
	}

	cmd.AddCommand(newWatchStartCmd())
	cmd.AddCommand(newWatchStopCmd())
	cmd.AddCommand(newWatchStatusCmd())
	cmd.AddCommand(newWatchDepsCmd())

	return cmd
}

// newWatchStartCmd creates the watch start command
func newWatchStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the watch service in foreground mode",
		Long: `Start the watch service in foreground mode.

The service watches VOICE_MEMOS_PATH for new recordings, reads the embedded
transcript with exiftool, identifies the course and stores a summarized note.
Configuration is read from the environment and the --env-file.

The service runs until interrupted with Ctrl+C or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatchStart(cmd)
		},
	}
}

func runWatchStart(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	cfg, err := voicememo.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	extractor := metadata.NewExtractor(metadata.Options{
		ExiftoolPath: cfg.ExiftoolPath,
		FfprobePath:  cfg.FfprobePath,
	})
	deps := extractor.CheckDependencies(ctx)
	if !deps.Exiftool {
		fmt.Fprintln(cmd.ErrOrStderr(), metadata.InstallHint)
		return ErrExiftoolMissing
	}
	if !deps.Ffprobe {
		fmt.Fprintln(out, "Warning: ffprobe not found, durations will come from the M4A header")
	}

	pid := pidfile.New(cfg.PIDFile)
	if err := pid.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			fmt.Fprintf(out, "Warning: %v\n", err)
		}
	}()

	svc, err := voicememo.NewService(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	fmt.Fprintln(out, "Starting watch service...")
	fmt.Fprintf(out, "Watching: %s (%s)\n", cfg.WatchPath, cfg.WatchPattern)
	fmt.Fprintf(out, "Store:    %s\n", cfg.StoreBackend)
	if cfg.StatusServerEnabled() {
		fmt.Fprintf(out, "Status:   http://%s/status\n", cfg.HTTPAddr)
	}
	fmt.Fprintln(out, "Press Ctrl+C to stop")
	fmt.Fprintln(out)

	return svc.Run(ctx)
}

// newWatchStopCmd creates the watch stop command
func newWatchStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the watch service",
		Long: `Stop the watch service.

Reads the PID from PID_FILE (default ~/.lecture/watch.pid) and sends SIGTERM for
graceful shutdown. Recordings already being processed are allowed to finish.
If the process doesn't exit within 10 seconds, SIGKILL is sent to force termination.
The PID file is removed after the process exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := voicememo.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runWatchStop(cmd, pidfile.New(cfg.PIDFile), stopTimeout)
		},
	}
}

func runWatchStop(cmd *cobra.Command, pf *pidfile.File, timeout time.Duration) error {
	out := cmd.OutOrStdout()

	running, pid, err := pf.IsRunning()
	switch {
	case errors.Is(err, pidfile.ErrInvalidPID):
		removeStale(out, pf)
		return ErrStaleProcess
	case err != nil:
		return err
	case pid == 0:
		return ErrNotRunning
	case !running:
		removeStale(out, pf)
		return ErrStaleProcess
	}

	fmt.Fprintf(out, "Stopping watch service (PID %d)...\n", pid)

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("send SIGTERM: %w", err)
	}

	if !waitForExit(pid, timeout) {
		fmt.Fprintln(out, "Process did not exit gracefully, sending SIGKILL...")
		if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			return fmt.Errorf("send SIGKILL: %w", err)
		}
		waitForExit(pid, 2*time.Second)
	}

	if err := pf.Remove(); err != nil {
		fmt.Fprintf(out, "Warning: %v\n", err)
	}

	fmt.Fprintln(out, "Watch service stopped")
	return nil
}

func removeStale(out io.Writer, pf *pidfile.File) {
	if err := pf.Remove(); err != nil {
		fmt.Fprintf(out, "Warning: failed to remove stale PID file: %v\n", err)
	}
}

// waitForExit polls until the process exits or timeout is reached
func waitForExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	pollInterval := 100 * time.Millisecond

	for time.Now().Before(deadline) {
		alive, err := pidfile.Alive(pid)
		if err != nil || !alive {
			return true
		}
		time.Sleep(pollInterval)
	}

	return false
}

// newWatchStatusCmd creates the watch status command
func newWatchStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the watch service is running and what it is doing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := voicememo.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runWatchStatus(cmd, cfg)
		},
	}
}

func runWatchStatus(cmd *cobra.Command, cfg *voicememo.Config) error {
	out := cmd.OutOrStdout()

	running, pid, err := pidfile.New(cfg.PIDFile).IsRunning()
	if err != nil && !errors.Is(err, pidfile.ErrInvalidPID) {
		return err
	}
	if !running {
		if pid != 0 {
			fmt.Fprintf(out, "Watch service is not running (stale PID file for PID %d)\n", pid)
		} else {
			fmt.Fprintln(out, "Watch service is not running")
		}
		return nil
	}

	fmt.Fprintf(out, "Watch service is running (PID %d)\n", pid)

	if !cfg.StatusServerEnabled() {
		fmt.Fprintln(out, "Status server disabled (HTTP_ADDR=off)")
		return nil
	}

	status, err := fetchStatus(cmd, cfg.HTTPAddr)
	if err != nil {
		fmt.Fprintf(out, "Status unavailable: %v\n", err)
		return nil
	}
	printStatus(out, status)
	return nil
}

func fetchStatus(cmd *cobra.Command, addr string) (domain.WatchStatus, error) {
	var status domain.WatchStatus

	client := &http.Client{Timeout: statusTimeout}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, "http://"+addr+"/status", nil)
	if err != nil {
		return status, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return status, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return status, fmt.Errorf("status server returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return status, fmt.Errorf("decode status: %w", err)
	}
	return status, nil
}

func printStatus(out io.Writer, s domain.WatchStatus) {
	auto := "on"
	if !s.AutoProcess {
		auto = "off"
	}

	fmt.Fprintf(out, "Watching:     %s (%s)\n", s.WatchPath, s.Pattern)
	fmt.Fprintf(out, "Auto-process: %s\n", auto)
	if !s.StartedAt.IsZero() {
		fmt.Fprintf(out, "Started:      %s\n", s.StartedAt.Local().Format(time.DateTime))
	}
	if s.ProcessingCount > 0 {
		fmt.Fprintf(out, "In flight:    %d (%s)\n", s.ProcessingCount, strings.Join(s.ProcessingFiles, ", "))
	} else {
		fmt.Fprintln(out, "In flight:    0")
	}
	fmt.Fprintf(out, "Processed:    %d\n", s.Processed)
	fmt.Fprintf(out, "Failed:       %d\n", s.Failed)
}

// newWatchDepsCmd creates the watch deps command
func newWatchDepsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Check for the external tools the watch service needs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := voicememo.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			extractor := metadata.NewExtractor(metadata.Options{
				ExiftoolPath: cfg.ExiftoolPath,
				FfprobePath:  cfg.FfprobePath,
			})
			return runWatchDeps(cmd, extractor.CheckDependencies(cmd.Context()))
		},
	}
}

func runWatchDeps(cmd *cobra.Command, deps metadata.Dependencies) error {
	out := cmd.OutOrStdout()

	if deps.Exiftool {
		fmt.Fprintf(out, "exiftool: %s\n", deps.ExiftoolPath)
	} else {
		fmt.Fprintln(out, "exiftool: not found (required)")
	}
	if deps.Ffprobe {
		fmt.Fprintf(out, "ffprobe:  %s\n", deps.FfprobePath)
	} else {
		fmt.Fprintln(out, "ffprobe:  not found (optional)")
	}

	if !deps.Exiftool {
		fmt.Fprintln(out)
		fmt.Fprintln(out, metadata.InstallHint)
		return ErrExiftoolMissing
	}
	return nil
}
