// Package imagebuilder turns a tree of source images into responsive,
// re-encoded output variants backed by a content-addressed cache, and
// writes a dimension manifest for templates.
package imagebuilder

import (
	"context"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/Skryldev/image-builder/adapters/native"
	"github.com/Skryldev/image-builder/adapters/oxipng"
	"github.com/Skryldev/image-builder/adapters/storage"
	"github.com/Skryldev/image-builder/adapters/vips"
	"github.com/Skryldev/image-builder/config"
	"github.com/Skryldev/image-builder/core"
	apperrors "github.com/Skryldev/image-builder/errors"
	"github.com/Skryldev/image-builder/hooks"
	"github.com/Skryldev/image-builder/pipeline"
	"github.com/Skryldev/image-builder/planner"
)

// Re-export Format constants for convenience.
const (
	JPEG = core.FormatJPEG
	PNG  = core.FormatPNG
	GIF  = core.FormatGIF
	WebP = core.FormatWebP
)

// DefaultConfig returns the stock build configuration.
func DefaultConfig() config.Config { return config.Default() }

// Builder is the primary entry point.
type Builder struct {
	cfg        config.Config
	reg        *core.DefaultRegistry
	planner    *planner.Planner
	store      *storage.Local
	transcoder *pipeline.Transcoder
	optimizer  core.Optimizer
	metrics    *hooks.PromMetrics
	logger     core.Logger
	logHook    *hooks.LoggingHook
	backend    *vips.Backend
	inner      *core.Processor
}

// New validates cfg and returns a fully wired Builder. The pure-Go codecs
// are always registered; with the vips backend libvips takes over every
// format it supports.
func New(cfg config.Config) (*Builder, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConfig, "config.validate", err)
	}

	reg := core.NewRegistry()
	native.Register(reg)

	var backend *vips.Backend
	if cfg.Backend == config.BackendVips {
		backend = vips.NewBackend(vips.BackendConfig{
			MaxCacheSize: cfg.Vips.MaxCacheSize,
			MaxWorkers:   cfg.Vips.ConcurrencyLevel,
			ReportLeaks:  cfg.Vips.ReportLeaks,
		})
		vips.RegisterBackend(reg, backend)
	}

	var optimizer core.Optimizer = oxipng.Noop{}
	if cfg.Optimizer.Enabled {
		timeout, err := cfg.OptimizerTimeout()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryConfig, "config.optimizer", err)
		}
		optimizer = oxipng.New(cfg.Optimizer.Binary, cfg.Optimizer.Level, timeout)
	}

	store, err := storage.NewLocal(cfg.CacheDir, 0)
	if err != nil {
		return nil, err
	}

	metrics := hooks.NewPromMetrics()
	transcoder := pipeline.NewTranscoder(reg, optimizer, cfg.TempDir)
	transcoder.AddHook(hooks.NewMetricsHook(metrics))

	b := &Builder{
		cfg:        cfg,
		reg:        reg,
		planner:    planner.New(planner.PolicyFromConfig(cfg)),
		store:      store,
		transcoder: transcoder,
		optimizer:  optimizer,
		metrics:    metrics,
		logger:     core.NopLogger{},
		backend:    backend,
	}
	b.rebuild()
	return b, nil
}

// SetLogger attaches a structured logger to the driver and the transcoder
// and logs every transcoding stage through it. A later call replaces the
// logger.
func (b *Builder) SetLogger(l core.Logger) {
	b.logger = l
	b.transcoder.SetLogger(l)
	if b.logHook == nil {
		b.logHook = hooks.NewLoggingHook(l)
		b.transcoder.AddHook(b.logHook)
	} else {
		b.logHook.SetLogger(l)
	}
	if b.backend != nil {
		vips.RouteLogs(l, govips.LogLevelWarning)
	}
	b.inner.SetLogger(l)
}

// SetOptimizer replaces the secondary PNG optimizer. Its Name becomes part
// of every optimized artifact's cache key.
func (b *Builder) SetOptimizer(o core.Optimizer) {
	b.optimizer = o
	b.transcoder.SetOptimizer(o)
	b.rebuild()
}

// AddHook registers an observer for transcoding stage events.
func (b *Builder) AddHook(h core.Hook) { b.transcoder.AddHook(h) }

// RegisterDecoder registers a custom decoder for the given format.
func (b *Builder) RegisterDecoder(f core.Format, d core.Decoder) { b.reg.RegisterDecoder(f, d) }

// RegisterEncoder registers a custom encoder for the given format.
func (b *Builder) RegisterEncoder(f core.Format, e core.Encoder) { b.reg.RegisterEncoder(f, e) }

// Metrics returns the Prometheus collector fed by every run.
func (b *Builder) Metrics() *hooks.PromMetrics { return b.metrics }

// Config returns the validated configuration.
func (b *Builder) Config() config.Config { return b.cfg }

// Run performs one full build.
func (b *Builder) Run(ctx context.Context) (*core.BuildReport, error) {
	return b.inner.Run(ctx)
}

// Close releases codec resources. With the vips backend it shuts libvips
// down, after which no Builder in the process can use it again.
func (b *Builder) Close() {
	if b.backend != nil {
		b.backend.Shutdown()
		b.backend = nil
	}
}
