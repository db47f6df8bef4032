// Package voicememo wires the voice memo ingestion pipeline: it watches the
// synced Voice Memos folder, runs each new recording through extraction,
// course identification and note synthesis, and stores the outcome.
package voicememo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/llm"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/store"
)

// Default values for optional configuration fields
const (
	DefaultWatchPath             = "~/Library/Mobile Documents/com~apple~VoiceMemos/Documents"
	DefaultWatchPattern          = "*.m4a"
	DefaultStabilityWait         = 2 * time.Second
	DefaultStabilityPollInterval = 100 * time.Millisecond
	DefaultStabilityTimeout      = 5 * time.Minute
	DefaultConfidenceThreshold   = 60
	DefaultTimeMatchBuffer       = 15 * time.Minute
	DefaultNoteLanguage          = "zh"
	DefaultToolTimeout           = 30 * time.Second
	DefaultModelTimeout          = 30 * time.Second
	DefaultLLMRetryCount         = 2
	DefaultDataDir               = "~/.lecture/data"
	DefaultCourseCacheTTL        = 5 * time.Minute
	DefaultCourseCacheSize       = 64
	DefaultHTTPAddr              = "127.0.0.1:4180"
	DefaultLogDir                = "~/.lecture/logs"
	DefaultLogLevel              = "info"
	DefaultLogFormat             = "console"
	DefaultPIDFile               = "~/.lecture/watch.pid"
)

// Config is the pipeline configuration, read from the environment.
type Config struct {
	WatchPath    string // VOICE_MEMOS_PATH
	UserID       string // DEFAULT_USER_ID
	AutoProcess  bool   // AUTO_PROCESS
	WatchPattern string // WATCH_PATTERN

	StabilityWait         time.Duration // STABILITY_WAIT
	StabilityPollInterval time.Duration // STABILITY_POLL_INTERVAL
	StabilityTimeout      time.Duration // STABILITY_TIMEOUT

	ConfidenceThreshold       int           // CONFIDENCE_THRESHOLD
	TimeMatchBuffer           time.Duration // TIME_MATCH_BUFFER_MINUTES
	ScheduleTimezone          string        // SCHEDULE_TIMEZONE
	AutoFileWithoutTranscript bool          // AUTO_FILE_WITHOUT_TRANSCRIPT
	NoteLanguage              string        // NOTE_LANGUAGE

	ToolTimeout  time.Duration // TOOL_TIMEOUT
	ModelTimeout time.Duration // MODEL_TIMEOUT
	ExiftoolPath string        // EXIFTOOL_PATH
	FfprobePath  string        // FFPROBE_PATH

	LLMProvider     string // LLM_PROVIDER
	AnthropicAPIKey string // ANTHROPIC_API_KEY
	AnthropicModel  string // ANTHROPIC_MODEL
	OpenAIAPIKey    string // OPENAI_API_KEY
	OpenAIModel     string // OPENAI_MODEL
	LLMBaseURL      string // LLM_BASE_URL
	LLMRetryCount   int    // LLM_RETRY_COUNT

	StoreBackend    string        // STORE_BACKEND
	DatabaseURL     string        // DATABASE_URL
	Migrate         bool          // DB_MIGRATE
	DataDir         string        // DATA_DIR
	CourseCacheTTL  time.Duration // COURSE_CACHE_TTL
	CourseCacheSize int           // COURSE_CACHE_SIZE

	HTTPAddr      string // HTTP_ADDR, "off" disables the status server
	OutputDir     string // OUTPUT_DIR, empty disables markdown export
	TemplatePath  string // TEMPLATE_PATH
	Notifications bool   // NOTIFICATIONS

	LogDir    string // LOG_DIR
	LogLevel  string // LOG_LEVEL
	LogFormat string // LOG_FORMAT
	PIDFile   string // PID_FILE
}

// Validation errors
var (
	ErrWatchPathRequired   = errors.New("VOICE_MEMOS_PATH is required")
	ErrUserIDRequired      = errors.New("DEFAULT_USER_ID is required")
	ErrDatabaseURLRequired = errors.New("DATABASE_URL is required for the postgres store")
	ErrInvalidThreshold    = errors.New("CONFIDENCE_THRESHOLD must be between 1 and 100")
	ErrAPIKeyRequired      = errors.New("an API key for the selected LLM provider is required")
	ErrOutputDirIsWatchDir = errors.New("OUTPUT_DIR must differ from VOICE_MEMOS_PATH")
)

// LookupFunc reads one environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// LoadEnvFiles loads .env style files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		p = expandTilde(p)
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// LoadConfig reads the configuration from the process environment, applies
// defaults and expands ~ in paths. It does not validate.
func LoadConfig() (*Config, error) {
	return ConfigFromLookup(os.LookupEnv)
}

// ConfigFromLookup is LoadConfig over an arbitrary variable source.
func ConfigFromLookup(lookup LookupFunc) (*Config, error) {
	e := env{lookup: lookup}

	cfg := &Config{
		WatchPath:    e.str("VOICE_MEMOS_PATH"),
		UserID:       e.str("DEFAULT_USER_ID"),
		AutoProcess:  e.boolean("AUTO_PROCESS", true),
		WatchPattern: e.str("WATCH_PATTERN"),

		StabilityWait:         e.duration("STABILITY_WAIT"),
		StabilityPollInterval: e.duration("STABILITY_POLL_INTERVAL"),
		StabilityTimeout:      e.duration("STABILITY_TIMEOUT"),

		ConfidenceThreshold:       e.integer("CONFIDENCE_THRESHOLD", DefaultConfidenceThreshold),
		TimeMatchBuffer:           time.Duration(e.integer("TIME_MATCH_BUFFER_MINUTES", -1)) * time.Minute,
		ScheduleTimezone:          e.str("SCHEDULE_TIMEZONE"),
		AutoFileWithoutTranscript: e.boolean("AUTO_FILE_WITHOUT_TRANSCRIPT", false),
		NoteLanguage:              e.str("NOTE_LANGUAGE"),

		ToolTimeout:  e.duration("TOOL_TIMEOUT"),
		ModelTimeout: e.duration("MODEL_TIMEOUT"),
		ExiftoolPath: e.str("EXIFTOOL_PATH"),
		FfprobePath:  e.str("FFPROBE_PATH"),

		LLMProvider:     strings.ToLower(e.str("LLM_PROVIDER")),
		AnthropicAPIKey: e.str("ANTHROPIC_API_KEY"),
		AnthropicModel:  e.str("ANTHROPIC_MODEL"),
		OpenAIAPIKey:    e.str("OPENAI_API_KEY"),
		OpenAIModel:     e.str("OPENAI_MODEL"),
		LLMBaseURL:      e.str("LLM_BASE_URL"),
		LLMRetryCount:   e.integer("LLM_RETRY_COUNT", DefaultLLMRetryCount),

		StoreBackend:    strings.ToLower(e.str("STORE_BACKEND")),
		DatabaseURL:     e.str("DATABASE_URL"),
		Migrate:         e.boolean("DB_MIGRATE", true),
		DataDir:         e.str("DATA_DIR"),
		CourseCacheTTL:  e.duration("COURSE_CACHE_TTL"),
		CourseCacheSize: e.integer("COURSE_CACHE_SIZE", 0),

		HTTPAddr:      e.str("HTTP_ADDR"),
		OutputDir:     e.str("OUTPUT_DIR"),
		TemplatePath:  e.str("TEMPLATE_PATH"),
		Notifications: e.boolean("NOTIFICATIONS", true),

		LogDir:    e.str("LOG_DIR"),
		LogLevel:  strings.ToLower(e.str("LOG_LEVEL")),
		LogFormat: strings.ToLower(e.str("LOG_FORMAT")),
		PIDFile:   e.str("PID_FILE"),
	}
	if cfg.TimeMatchBuffer < 0 {
		cfg.TimeMatchBuffer = DefaultTimeMatchBuffer
	}

	if len(e.errs) > 0 {
		return nil, errors.Join(e.errs...)
	}

	cfg.ApplyDefaults()
	cfg.expandPaths()
	return cfg, nil
}

// ApplyDefaults sets default values for optional fields that are empty or zero.
func (c *Config) ApplyDefaults() {
	if c.WatchPath == "" {
		c.WatchPath = DefaultWatchPath
	}
	if c.WatchPattern == "" {
		c.WatchPattern = DefaultWatchPattern
	}
	if c.StabilityWait == 0 {
		c.StabilityWait = DefaultStabilityWait
	}
	if c.StabilityPollInterval == 0 {
		c.StabilityPollInterval = DefaultStabilityPollInterval
	}
	if c.StabilityTimeout == 0 {
		c.StabilityTimeout = DefaultStabilityTimeout
	}
	if c.NoteLanguage == "" {
		c.NoteLanguage = DefaultNoteLanguage
	}
	if c.ToolTimeout == 0 {
		c.ToolTimeout = DefaultToolTimeout
	}
	if c.ModelTimeout == 0 {
		c.ModelTimeout = DefaultModelTimeout
	}
	if c.LLMProvider == "" {
		c.LLMProvider = llm.ProviderAnthropic
	}
	if c.StoreBackend == "" {
		if c.DatabaseURL != "" {
			c.StoreBackend = store.BackendPostgres
		} else {
			c.StoreBackend = store.BackendFile
		}
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.CourseCacheTTL == 0 {
		c.CourseCacheTTL = DefaultCourseCacheTTL
	}
	if c.CourseCacheSize == 0 {
		c.CourseCacheSize = DefaultCourseCacheSize
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = DefaultHTTPAddr
	}
	if c.LogDir == "" {
		c.LogDir = DefaultLogDir
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	if c.PIDFile == "" {
		c.PIDFile = DefaultPIDFile
	}
}

// Validate checks the fields the watcher cannot run without.
func (c *Config) Validate() error {
	if c.WatchPath == "" {
		return ErrWatchPathRequired
	}
	if c.UserID == "" {
		return ErrUserIDRequired
	}
	if c.ConfidenceThreshold < 1 || c.ConfidenceThreshold > 100 {
		return ErrInvalidThreshold
	}
	if c.StoreBackend == store.BackendPostgres && c.DatabaseURL == "" {
		return ErrDatabaseURLRequired
	}
	if c.StoreBackend != store.BackendPostgres && c.StoreBackend != store.BackendFile {
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.LLMProvider {
	case llm.ProviderAnthropic, llm.ProviderOpenAI:
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}
	if c.APIKey() == "" {
		return fmt.Errorf("%w (%s)", ErrAPIKeyRequired, c.LLMProvider)
	}
	if c.OutputDir != "" && samePath(c.OutputDir, c.WatchPath) {
		return ErrOutputDirIsWatchDir
	}
	if c.ScheduleTimezone != "" {
		if _, err := time.LoadLocation(c.ScheduleTimezone); err != nil {
			return fmt.Errorf("invalid SCHEDULE_TIMEZONE: %w", err)
		}
	}
	return nil
}

// APIKey returns the key of the selected provider.
func (c *Config) APIKey() string {
	if c.LLMProvider == llm.ProviderOpenAI {
		return c.OpenAIAPIKey
	}
	return c.AnthropicAPIKey
}

// LLMConfig builds the provider client configuration.
func (c *Config) LLMConfig() llm.Config {
	model := c.AnthropicModel
	if c.LLMProvider == llm.ProviderOpenAI {
		model = c.OpenAIModel
	}
	return llm.Config{
		Provider: c.LLMProvider,
		APIKey:   c.APIKey(),
		Model:    model,
		BaseURL:  c.LLMBaseURL,
		Timeout:  c.ModelTimeout,
	}
}

// Location is the timezone course schedules are written in.
func (c *Config) Location() *time.Location {
	if c.ScheduleTimezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.ScheduleTimezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// StatusServerEnabled reports whether HTTP_ADDR was switched off.
func (c *Config) StatusServerEnabled() bool {
	return c.HTTPAddr != "" && !strings.EqualFold(c.HTTPAddr, "off")
}

// expandPaths expands ~ to the user's home directory in path fields.
func (c *Config) expandPaths() {
	c.WatchPath = expandTilde(c.WatchPath)
	c.DataDir = expandTilde(c.DataDir)
	c.OutputDir = expandTilde(c.OutputDir)
	c.TemplatePath = expandTilde(c.TemplatePath)
	c.LogDir = expandTilde(c.LogDir)
	c.PIDFile = expandTilde(c.PIDFile)
}

// expandTilde expands ~ at the beginning of a path to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func samePath(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}

// env collects parse errors so every bad variable is reported at once.
type env struct {
	lookup LookupFunc
	errs   []error
}

func (e *env) str(key string) string {
	v, _ := e.lookup(key)
	return strings.TrimSpace(v)
}

func (e *env) integer(key string, def int) int {
	v := e.str(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func (e *env) boolean(key string, def bool) bool {
	v := e.str(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return def
	}
	return b
}

// duration accepts Go durations ("2s", "1m30s") and bare milliseconds.
func (e *env) duration(key string) time.Duration {
	v := e.str(key)
	if v == "" {
		return 0
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid duration %q (use 30s, 1m, 1500)", key, v))
		return 0
	}
	return d
}
