package framework

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/cafex/cafex/framework/config"
	"github.com/cafex/cafex/framework/configutils"
	"github.com/cafex/cafex/framework/logging"
	"github.com/cafex/cafex/framework/report"
)

// Framework wires the shared logger, configuration and report recorder into
// every facade it constructs, and closes the connections it tracks.
type Framework struct {
	ctx         context.Context
	base        *slog.Logger
	logger      *slog.Logger
	config      *config.Config
	run         *report.Run
	recorder    report.Recorder
	configUtils *configutils.ConfigUtils
	projectRoot string
	teamConfig  string

	// Resource tracking
	mu      sync.Mutex
	tracked []TrackedResource
}

// Option is a function that configures the Framework
type Option func(*Framework)

// WithLogger sets a custom logger for the framework
func WithLogger(logger *slog.Logger) Option {
	return func(f *Framework) {
		f.logger = logger
	}
}

// WithConfig sets a custom configuration for the framework
func WithConfig(cfg *config.Config) Option {
	return func(f *Framework) {
		f.config = cfg
	}
}

// WithRecorder sends report steps to rec instead of the framework's own run
func WithRecorder(rec report.Recorder) Option {
	return func(f *Framework) {
		f.recorder = rec
	}
}

// WithConfigUtils uses an already loaded project configuration
func WithConfigUtils(cu *configutils.ConfigUtils) Option {
	return func(f *Framework) {
		f.configUtils = cu
	}
}

// WithProject loads the project configuration (config.yml) found under root,
// optionally with a team config from the configuration directory
func WithProject(root, teamConfig string) Option {
	return func(f *Framework) {
		f.projectRoot = root
		f.teamConfig = teamConfig
	}
}

// New creates a new Framework instance.
// The context is used for all blocking operations and should be cancelled
// to stop any in-progress operations.
func New(ctx context.Context, opts ...Option) (*Framework, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	f := &Framework{
		ctx: ctx,
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.config == nil {
		f.config = config.FromEnv()
	}
	if err := validateConfig(f.config); err != nil {
		return nil, err
	}

	if f.logger == nil {
		logger, closer := logging.FromConfig(f.config)
		f.logger = logger
		if f.config.LogFile != "" {
			f.Track("log file", closer)
		}
	}
	f.base = f.logger
	f.logger = f.logger.With("component", "framework")

	if f.recorder == nil {
		f.run = report.NewRun("cafex")
		f.recorder = f.run
	}

	if f.configUtils == nil && f.projectRoot != "" {
		var cuOpts []configutils.Option
		cuOpts = append(cuOpts, configutils.WithLogger(f.base))
		if f.teamConfig != "" {
			cuOpts = append(cuOpts, configutils.WithTeamConfig(f.teamConfig))
		}
		cu, err := configutils.New(f.projectRoot, cuOpts...)
		if err != nil {
			return nil, NewPrerequisiteError("project configuration", err)
		}
		f.configUtils = cu
	}

	return f, nil
}

func validateConfig(cfg *config.Config) error {
	switch {
	case cfg.HTTPTimeout <= 0:
		return fmt.Errorf("%w: HTTP timeout must be positive", ErrInvalidArgument)
	case cfg.PollInterval <= 0:
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidArgument)
	case cfg.WaitTimeout < cfg.PollInterval:
		return fmt.Errorf("%w: wait timeout %s is shorter than poll interval %s", ErrInvalidArgument, cfg.WaitTimeout, cfg.PollInterval)
	case cfg.MaxConcurrentTransfers < 1:
		return fmt.Errorf("%w: max concurrent transfers must be at least 1", ErrInvalidArgument)
	}
	return nil
}

// Context returns the framework's context
func (f *Framework) Context() context.Context {
	return f.ctx
}

// Logger returns the logger handed to every facade
func (f *Framework) Logger() *slog.Logger {
	return f.base
}

// Config returns the framework's configuration
func (f *Framework) Config() *config.Config {
	return f.config
}

// Recorder returns where facades record their report steps
func (f *Framework) Recorder() report.Recorder {
	return f.recorder
}

// Run returns the framework's own report run, or nil when WithRecorder was used
func (f *Framework) Run() *report.Run {
	return f.run
}

// ConfigUtils returns the loaded project configuration, or nil
func (f *Framework) ConfigUtils() *configutils.ConfigUtils {
	return f.configUtils
}

// TrackedResource is a connection or session closed by Cleanup
type TrackedResource struct {
	Name     string
	Closer   io.Closer
	OpenedAt time.Time
}

// Track registers a closer for Cleanup. Nil closers are ignored.
func (f *Framework) Track(name string, c io.Closer) {
	if c == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked = append(f.tracked, TrackedResource{Name: name, Closer: c, OpenedAt: time.Now()})
}

// GetTrackedResources returns a copy of the tracked resources
func (f *Framework) GetTrackedResources() []TrackedResource {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make([]TrackedResource, len(f.tracked))
	copy(result, f.tracked)
	return result
}

// ExportReport writes the framework's run to <ReportDir>/<name>.<format>
func (f *Framework) ExportReport(name string, format report.Format) (string, error) {
	if f.run == nil {
		return "", fmt.Errorf("%w: report steps go to an external recorder", ErrUnsupported)
	}
	path := filepath.Join(f.config.ReportDir, name+"."+string(format))
	exporter, err := report.NewExporter(path, format)
	if err != nil {
		return "", err
	}
	if err := exporter.Export(f.run); err != nil {
		return "", fmt.Errorf("failed to export report: %w", err)
	}
	f.logger.Info("report exported", "path", path, "steps", len(f.run.Steps()))
	return path, nil
}
