// Package metadata extracts the embedded transcript and recording metadata
// from Voice Memos files using exiftool, with ffprobe and an in-process M4A
// header parser as fallbacks for the duration.
package metadata

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/domain"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/logging"
)

// DefaultToolTimeout bounds a single exiftool or ffprobe invocation.
const DefaultToolTimeout = 30 * time.Second

// Runner executes external tools. It exists so tests can script tool output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	LookPath(name string) (string, error)
}

// ExecRunner runs tools with os/exec and captures standard error for the
// returned error message.
type ExecRunner struct{}

// Run executes name and returns its standard output.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(name), ctxErr)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", filepath.Base(name), err, msg)
		}
		return nil, fmt.Errorf("%s: %w", filepath.Base(name), err)
	}
	return stdout.Bytes(), nil
}

// LookPath resolves name on PATH.
func (ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Options configures an Extractor.
type Options struct {
	ExiftoolPath string
	FfprobePath  string
	Timeout      time.Duration
	// Location is used for CreateDate values that carry no zone.
	Location *time.Location
	Runner   Runner
	Logger   logging.Logger
}

// Extractor turns a recording path into a domain.Recording.
type Extractor struct {
	exiftool string
	ffprobe  string
	timeout  time.Duration
	loc      *time.Location
	runner   Runner
	logger   logging.Logger
}

// NewExtractor creates an Extractor, filling unset options with defaults.
func NewExtractor(opts Options) *Extractor {
	e := &Extractor{
		exiftool: opts.ExiftoolPath,
		ffprobe:  opts.FfprobePath,
		timeout:  opts.Timeout,
		loc:      opts.Location,
		runner:   opts.Runner,
		logger:   opts.Logger,
	}
	if e.exiftool == "" {
		e.exiftool = "exiftool"
	}
	if e.ffprobe == "" {
		e.ffprobe = "ffprobe"
	}
	if e.timeout <= 0 {
		e.timeout = DefaultToolTimeout
	}
	if e.loc == nil {
		e.loc = time.Local
	}
	if e.runner == nil {
		e.runner = ExecRunner{}
	}
	if e.logger == nil {
		e.logger = logging.Nop()
	}
	return e
}

// Extract reads size and timestamps from the filesystem and the transcript,
// duration and creation date from exiftool. Tool failures degrade the result
// (no transcript, fallback duration, filesystem timestamp) rather than fail
// it; only a file that cannot be stat'ed is an error.
func (e *Extractor) Extract(ctx context.Context, path string) (domain.Recording, error) {
	info, err := os.Stat(path)
	if err != nil {
		return domain.Recording{}, fmt.Errorf("stat recording: %w", err)
	}

	rec := domain.Recording{
		Path:          path,
		FileName:      filepath.Base(path),
		FileSizeBytes: info.Size(),
	}

	tags, err := e.readExif(ctx, path)
	if err != nil {
		e.logger.Error("exiftool extraction failed, using fallbacks", err,
			logging.String("path", path),
		)
	} else {
		rec.Transcript = tags.Transcript
		rec.DurationSeconds = tags.DurationSeconds
	}

	if rec.DurationSeconds == 0 {
		rec.DurationSeconds = e.fallbackDuration(ctx, path)
	}

	if tags.CreateDate != nil {
		rec.RecordedAt = *tags.CreateDate
	} else {
		rec.RecordedAt = birthTime(path, info)
	}

	e.logger.Debug("metadata extracted",
		logging.String("path", path),
		logging.Int64("size", rec.FileSizeBytes),
		logging.Int("duration_s", rec.DurationSeconds),
		logging.Bool("has_transcript", rec.HasTranscript()),
	)

	return rec, nil
}

func (e *Extractor) readExif(ctx context.Context, path string) (exifTags, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	out, err := e.runner.Run(ctx, e.exiftool, "-json", "-UserComment", "-Duration", "-CreateDate", path)
	if err != nil {
		return exifTags{}, err
	}
	return parseExiftoolJSON(out, e.loc)
}

func (e *Extractor) fallbackDuration(ctx context.Context, path string) int {
	if d, err := e.probeDuration(ctx, path); err == nil && d > 0 {
		return d
	} else if err != nil {
		e.logger.Debug("ffprobe duration unavailable",
			logging.String("path", path),
			logging.String("reason", err.Error()),
		)
	}

	if m4a, err := ExtractM4A(path); err == nil {
		return roundSeconds(m4a.Duration.Seconds())
	}
	return 0
}

func (e *Extractor) probeDuration(ctx context.Context, path string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	out, err := e.runner.Run(ctx, e.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, err
	}

	value := strings.TrimSpace(string(out))
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration %q: %w", value, err)
	}
	return roundSeconds(seconds), nil
}

// Dependencies reports which external tools are installed.
type Dependencies struct {
	Exiftool     bool
	ExiftoolPath string
	Ffprobe      bool
	FfprobePath  string
}

// CheckDependencies probes for exiftool (required for transcripts) and
// ffprobe (optional duration fallback).
func (e *Extractor) CheckDependencies(ctx context.Context) Dependencies {
	var deps Dependencies
	if p, err := e.runner.LookPath(e.exiftool); err == nil {
		deps.Exiftool = true
		deps.ExiftoolPath = p
	}
	if p, err := e.runner.LookPath(e.ffprobe); err == nil {
		deps.Ffprobe = true
		deps.FfprobePath = p
	}
	return deps
}

// InstallHint is printed when exiftool is missing.
const InstallHint = `exiftool is required to read Voice Memos transcripts.
  macOS:  brew install exiftool
  Debian: apt-get install libimage-exiftool-perl
ffprobe (part of ffmpeg) is optional and improves duration detection.
  macOS:  brew install ffmpeg
  Debian: apt-get install ffmpeg`
