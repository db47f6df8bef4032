package voicememo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/domain"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/export"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/identify"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/llm"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/logging"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/metadata"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/metrics"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/notes"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/notify"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/stabilizer"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/statusapi"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/store"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/watcher"
)

// ServiceOption replaces a collaborator NewService would otherwise build
// from the configuration.
type ServiceOption func(*serviceDeps)

type serviceDeps struct {
	logger        logging.Logger
	store         store.Store
	fileWatcher   watcher.FileWatcher
	runner        metadata.Runner
	completer     llm.Completer
	notifyBackend notify.Backend
}

// WithServiceLogger uses l instead of a file logger. The caller keeps
// ownership of l.
func WithServiceLogger(l logging.Logger) ServiceOption {
	return func(d *serviceDeps) { d.logger = l }
}

// WithStore uses s instead of opening the configured backend. The service
// closes it on shutdown.
func WithStore(s store.Store) ServiceOption {
	return func(d *serviceDeps) { d.store = s }
}

// WithFileWatcher uses fw instead of the platform watcher.
func WithFileWatcher(fw watcher.FileWatcher) ServiceOption {
	return func(d *serviceDeps) { d.fileWatcher = fw }
}

// WithRunner runs exiftool and ffprobe through r.
func WithRunner(r metadata.Runner) ServiceOption {
	return func(d *serviceDeps) { d.runner = r }
}

// WithCompleter uses c instead of the configured LLM provider.
func WithCompleter(c llm.Completer) ServiceOption {
	return func(d *serviceDeps) { d.completer = c }
}

// WithNotifyBackend delivers notifications through b.
func WithNotifyBackend(b notify.Backend) ServiceOption {
	return func(d *serviceDeps) { d.notifyBackend = b }
}

// Service owns every long-lived component of the watch process.
type Service struct {
	config    *Config
	logger    logging.Logger
	ownLogger bool
	store     store.Store
	metrics   *metrics.Metrics
	extractor *metadata.Extractor
	notifier  *notify.SystemNotifier
	processor *Processor
	watcher   *Watcher
	status    *statusapi.Server
}

// NewService validates cfg and builds the pipeline.
func NewService(ctx context.Context, cfg *Config, opts ...ServiceOption) (*Service, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var deps serviceDeps
	for _, opt := range opts {
		opt(&deps)
	}

	s := &Service{config: cfg, metrics: metrics.New()}

	if deps.logger != nil {
		s.logger = deps.logger
	} else {
		logger, err := newFileLogger(cfg)
		if err != nil {
			return nil, fmt.Errorf("create logger: %w", err)
		}
		s.logger, s.ownLogger = logger, true
	}

	if err := s.build(ctx, cfg, deps); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func newFileLogger(cfg *Config) (*logging.ZapLogger, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logConfig := logging.DefaultConfig()
	logConfig.LogDir = cfg.LogDir
	logConfig.MinLevel = level
	logConfig.Format = logging.Format(cfg.LogFormat)
	logConfig.Stderr = true
	return logging.New(logConfig)
}

func (s *Service) build(ctx context.Context, cfg *Config, deps serviceDeps) error {
	logger := s.logger

	s.store = deps.store
	if s.store == nil {
		st, err := store.Open(ctx, store.Options{
			Backend:     cfg.StoreBackend,
			DatabaseURL: cfg.DatabaseURL,
			DataDir:     cfg.DataDir,
			Migrate:     cfg.Migrate,
			Logger:      logger.WithComponent("store"),
		})
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		s.store = st
	}
	courses := store.NewCachedCourses(s.store, cfg.CourseCacheSize, cfg.CourseCacheTTL,
		store.WithCacheCounters(s.metrics.CacheHits, s.metrics.CacheMisses),
	)

	completer := deps.completer
	if completer == nil {
		c, err := llm.New(cfg.LLMConfig())
		if err != nil {
			return fmt.Errorf("create LLM client: %w", err)
		}
		completer = c
	}
	completer = llm.NewRetryClient(completer,
		llm.WithRetryCount(cfg.LLMRetryCount),
		llm.WithLogger(logger.WithComponent("llm")),
	)

	s.extractor = metadata.NewExtractor(metadata.Options{
		ExiftoolPath: cfg.ExiftoolPath,
		FfprobePath:  cfg.FfprobePath,
		Timeout:      cfg.ToolTimeout,
		Location:     cfg.Location(),
		Runner:       deps.runner,
		Logger:       logger.WithComponent("metadata"),
	})

	identifier := identify.New(
		identify.DefaultStages(cfg.TimeMatchBuffer, cfg.Location(), completer, logger.WithComponent("identify")),
		identify.WithLogger(logger.WithComponent("identify")),
		identify.WithObserver(func(method domain.Method, d time.Duration, _ domain.IdentificationResult) {
			s.metrics.ObserveStage(metrics.StageIdentify+"_"+string(method), d)
		}),
	)

	backend := deps.notifyBackend
	if backend == nil && !cfg.Notifications {
		backend = &notify.LogBackend{Logger: logger.WithComponent("notify")}
	}
	s.notifier = notify.NewSystemNotifier(notify.Options{
		Backend: backend,
		Logger:  logger.WithComponent("notify"),
		OnError: func(error) { s.metrics.NotifyFailures.Inc() },
	})

	var exporter export.Writer
	if cfg.OutputDir != "" {
		var exportOpts []export.Option
		if cfg.TemplatePath != "" {
			exportOpts = append(exportOpts, export.WithTemplate(cfg.TemplatePath))
		}
		exporter = export.NewMarkdownWriter(cfg.OutputDir, exportOpts...)
	}

	processor, err := NewProcessor(ProcessorOptions{
		Extractor:                 s.extractor,
		Identifier:                identifier,
		Synthesizer:               notes.NewSynthesizer(completer, logger.WithComponent("notes")),
		Courses:                   courses,
		Notes:                     s.store,
		Notifier:                  s.notifier,
		Exporter:                  exporter,
		Metrics:                   s.metrics,
		Logger:                    logger.WithComponent("processor"),
		UserID:                    cfg.UserID,
		ConfidenceThreshold:       cfg.ConfidenceThreshold,
		Language:                  cfg.NoteLanguage,
		ModelTimeout:              cfg.ModelTimeout,
		AutoFileWithoutTranscript: cfg.AutoFileWithoutTranscript,
	})
	if err != nil {
		return err
	}
	s.processor = processor

	fw := deps.fileWatcher
	if fw == nil {
		native, err := watcher.New()
		if err != nil {
			return fmt.Errorf("create file watcher: %w", err)
		}
		fw = native
	}

	s.watcher = NewWatcher(WatcherOptions{
		Path:        cfg.WatchPath,
		Pattern:     cfg.WatchPattern,
		AutoProcess: cfg.AutoProcess,
		FileWatcher: fw,
		Stabilizer:  stabilizer.NewQuietPeriodStabilizer(cfg.StabilityWait, cfg.StabilityPollInterval, cfg.StabilityTimeout),
		Processor:   processor,
		Metrics:     s.metrics,
		Logger:      logger.WithComponent("watcher"),
	})

	if cfg.StatusServerEnabled() {
		s.status = statusapi.New(statusapi.Options{
			Addr:    cfg.HTTPAddr,
			Status:  s.watcher.Status,
			Health:  s.store.Ping,
			Metrics: s.metrics.Handler(),
			Logger:  logger.WithComponent("statusapi"),
		})
	}
	return nil
}

// Extractor exposes the metadata extractor, e.g. for dependency checks.
func (s *Service) Extractor() *metadata.Extractor {
	return s.extractor
}

// Status reports the watcher state.
func (s *Service) Status() domain.WatchStatus {
	return s.watcher.Status()
}

// Run starts watching and blocks until ctx is cancelled or SIGINT/SIGTERM
// arrives. In-flight recordings are allowed to finish before it returns.
func (s *Service) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer s.close()

	s.logger.Info("starting watch service",
		logging.String("watch_path", s.config.WatchPath),
		logging.String("store", s.config.StoreBackend),
		logging.String("llm", s.config.LLMProvider),
		logging.Int("confidence_threshold", s.config.ConfidenceThreshold),
	)

	if err := s.watcher.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.status != nil {
		g.Go(func() error {
			return s.status.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")
		if err := s.watcher.Stop(); err != nil {
			s.logger.Error("error stopping watcher", err)
		}
		s.logger.Info("waiting for in-flight recordings", logging.Int("count", s.watcher.Status().ProcessingCount))
		s.watcher.Wait()
		return nil
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	s.logger.Info("watch service stopped")
	return nil
}

// close releases everything build and NewService acquired.
func (s *Service) close() {
	if s.notifier != nil {
		s.notifier.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("error closing store", err)
		}
	}
	if s.ownLogger {
		s.logger.Close()
	}
}
