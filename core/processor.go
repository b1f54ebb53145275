package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Skryldev/image-builder/config"
	apperrors "github.com/Skryldev/image-builder/errors"
	"github.com/Skryldev/image-builder/utils"
)

// Components are the collaborators the driver orchestrates. They are
// interfaces so core does not import the packages implementing them.
type Components struct {
	Registry   Registry
	Planner    Planner
	Hasher     Hasher
	Store      CacheStore
	Transcoder Transcoder
}

// Processor is the pipeline driver: it walks the source tree, plans,
// hashes, probes the cache, transcodes misses, fills the output tree and
// writes the manifest. A Processor runs one build at a time.
type Processor struct {
	cfg        config.Config
	registry   Registry
	planner    Planner
	hasher     Hasher
	store      CacheStore
	transcoder Transcoder
	logger     Logger
	metrics    MetricsCollector

	runMu sync.Mutex
}

// New creates a Processor for cfg. Every component must be set.
func New(cfg config.Config, c Components) *Processor {
	return &Processor{
		cfg:        cfg,
		registry:   c.Registry,
		planner:    c.Planner,
		hasher:     c.Hasher,
		store:      c.Store,
		transcoder: c.Transcoder,
		logger:     NopLogger{},
		metrics:    NopMetrics{},
	}
}

// SetLogger attaches a structured logger.
func (p *Processor) SetLogger(l Logger) { p.logger = l }

// SetMetrics attaches a metrics collector.
func (p *Processor) SetMetrics(m MetricsCollector) { p.metrics = m }

// Registry returns the codec registry.
func (p *Processor) Registry() Registry { return p.registry }

// build is the state of one Run.
type build struct {
	files, processed, hits, misses, warnings int64

	mu       sync.Mutex
	manifest Manifest
	expected []expectation
}

// expectation is one emitted file and the dimensions it must have.
type expectation struct {
	path          string
	width, height int
}

// Run performs a full build. On the first fatal error the remaining work
// is cancelled, the manifest is not written and the error is returned with
// the partial report.
func (p *Processor) Run(ctx context.Context) (*BuildReport, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	start := time.Now()
	b := &build{manifest: make(Manifest)}
	report := func() *BuildReport {
		return &BuildReport{
			Files:             atomic.LoadInt64(&b.files),
			Processed:         atomic.LoadInt64(&b.processed),
			CacheHits:         atomic.LoadInt64(&b.hits),
			CacheMisses:       atomic.LoadInt64(&b.misses),
			OptimizerWarnings: atomic.LoadInt64(&b.warnings),
			Manifest:          b.manifest,
			Duration:          time.Since(start),
		}
	}

	p.logger.Info("build.start",
		"source", p.cfg.SourceDir,
		"output", p.cfg.OutputDir,
		"cache", p.cfg.CacheDir,
	)

	paths, err := p.discover()
	if err != nil {
		return report(), err
	}
	if err := p.checkOutputClaims(paths); err != nil {
		p.logger.Error("build.failed", "error", err.Error())
		return report(), err
	}
	if err := p.resetOutput(); err != nil {
		return report(), err
	}
	if err := p.runWorkers(ctx, b, paths); err != nil {
		p.metrics.RecordError("build", categoryOf(err))
		p.logger.Error("build.failed", "error", err.Error())
		return report(), err
	}

	if err := WriteManifest(p.cfg.ManifestPath, b.manifest); err != nil {
		return report(), err
	}
	if p.cfg.Verify {
		if err := verify(b.expected); err != nil {
			return report(), err
		}
		p.logger.Info("build.verified", "files", len(b.expected))
	}

	r := report()
	p.logger.Info("build.done",
		"files", r.Files,
		"variants", r.Processed,
		"cache_hits", r.CacheHits,
		"cache_misses", r.CacheMisses,
		"optimizer_warnings", r.OptimizerWarnings,
		"duration_ms", r.Duration.Milliseconds(),
	)
	return r, nil
}

// resetOutput wipes and recreates the output tree and makes sure the cache
// root exists.
func (p *Processor) resetOutput() error {
	if err := os.RemoveAll(p.cfg.OutputDir); err != nil {
		return apperrors.Wrap(apperrors.CategoryOutput, "output.reset", err)
	}
	if err := os.MkdirAll(p.cfg.OutputDir, 0o755); err != nil {
		return apperrors.Wrap(apperrors.CategoryOutput, "output.mkdir", err)
	}
	if err := os.MkdirAll(p.cfg.CacheDir, 0o755); err != nil {
		return apperrors.Wrap(apperrors.CategoryCache, "cache.mkdir", err)
	}
	return nil
}

// discover lists source images in lexical order. Extensions match
// case-insensitively; other files are ignored.
func (p *Processor) discover() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(p.cfg.SourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if FormatFromExt(filepath.Ext(path)).IsSource() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategorySource, "source.walk", err)
	}
	p.logger.Debug("source.discovered", "files", len(paths))
	return paths, nil
}

// checkOutputClaims fails when two sources plan the same output file, as
// a.png and a.jpg both do for a.webp. Such outputs would depend on which
// file finishes last.
func (p *Processor) checkOutputClaims(paths []string) error {
	owners := make(map[string]string)
	for _, path := range paths {
		rel, err := filepath.Rel(p.cfg.SourceDir, path)
		if err != nil {
			return apperrors.Wrap(apperrors.CategorySource, "source.rel", err)
		}
		ext := filepath.Ext(path)
		src := &SourceImage{Path: path, RelPath: filepath.ToSlash(rel), Ext: ext, Format: FormatFromExt(ext)}
		for _, v := range p.planner.Plan(src) {
			for _, out := range v.RelPaths() {
				if owner, ok := owners[out]; ok {
					return apperrors.New(apperrors.CategoryPipeline, "plan.outputs",
						fmt.Errorf("output %s is produced by both %s and %s", out, owner, src.RelPath))
				}
				owners[out] = src.RelPath
			}
		}
	}
	return nil
}

// runWorkers fans paths out to the worker pool. The first error cancels
// the rest and is returned.
func (p *Processor) runWorkers(ctx context.Context, b *build, paths []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := p.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var (
		firstErr error
		errOnce  sync.Once
		wg       sync.WaitGroup
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	jobs := make(chan string)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				if ctx.Err() != nil {
					continue
				}
				if err := p.processFile(ctx, b, path); err != nil {
					fail(err)
				}
			}
		}()
	}

feed:
	for _, path := range paths {
		select {
		case jobs <- path:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryPipeline, "build", err)
	}
	return nil
}

// processFile handles every variant of one source file. The source is
// decoded at most once, and only when a variant misses the cache.
func (p *Processor) processFile(ctx context.Context, b *build, path string) error {
	src, err := p.readSource(path)
	if err != nil {
		return err
	}
	atomic.AddInt64(&b.files, 1)
	p.metrics.RecordFile(src.Format)

	if entry, ok := p.planner.ManifestEntry(src); ok {
		b.mu.Lock()
		b.manifest[src.ManifestKey()] = entry
		b.mu.Unlock()
	}

	var img Image
	defer func() {
		if img != nil {
			img.Close()
		}
	}()

	for _, v := range p.planner.Plan(src) {
		if err := ctx.Err(); err != nil {
			return apperrors.Wrap(apperrors.CategoryPipeline, src.RelPath, err)
		}

		key, err := p.hasher.Key(src, v)
		if err != nil {
			return apperrors.Wrap(apperrors.CategoryCache, "cache.key "+src.RelPath, err)
		}
		hit, err := p.store.HasAll(ctx, key, v.RelPaths()...)
		if err != nil {
			return fmt.Errorf("%s: %w", src.RelPath, err)
		}

		if hit {
			if err := p.restore(ctx, key, v); err != nil {
				return fmt.Errorf("%s: %w", src.RelPath, err)
			}
			atomic.AddInt64(&b.hits, 1)
			p.metrics.RecordVariant(true)
			p.logger.Debug("variant.hit", "file", src.RelPath, "width", v.Width, "key", key)
		} else {
			if v.NeedsDecode() && img == nil {
				if img, err = p.decode(ctx, src); err != nil {
					return err
				}
			}
			warnings, err := p.produce(ctx, src, img, key, v)
			if err != nil {
				return fmt.Errorf("%s: %w", src.RelPath, err)
			}
			atomic.AddInt64(&b.warnings, int64(warnings))
			atomic.AddInt64(&b.misses, 1)
			p.metrics.RecordVariant(false)
			p.logger.Debug("variant.miss", "file", src.RelPath, "width", v.Width, "key", key)
		}
		atomic.AddInt64(&b.processed, 1)

		if p.cfg.Verify && v.NeedsDecode() && src.DimensionsKnown() {
			dims := src.Scaled(v.Width)
			b.mu.Lock()
			for _, a := range v.Artifacts {
				b.expected = append(b.expected, expectation{path: p.outputPath(a.RelPath), width: dims.Width, height: dims.Height})
			}
			b.mu.Unlock()
		}
	}
	return nil
}

func (p *Processor) readSource(path string) (*SourceImage, error) {
	rel, err := filepath.Rel(p.cfg.SourceDir, path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategorySource, "source.rel", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategorySource, "source.read", err)
	}

	ext := filepath.Ext(path)
	src := &SourceImage{
		Path:     path,
		RelPath:  filepath.ToSlash(rel),
		Ext:      ext,
		Format:   FormatFromExt(ext),
		Data:     data,
		Detected: FormatFromExt(utils.DetectFormat(data)),
	}
	if src.Detected != FormatUnknown && src.Detected != src.Format {
		p.logger.Warn("source.format_mismatch",
			"file", src.RelPath,
			"extension", string(src.Format),
			"content", string(src.Detected),
		)
	}
	if src.Format.Resizable() {
		w, h, _, err := utils.Probe(data)
		if err != nil {
			p.logger.Warn("source.probe", "file", src.RelPath, "error", err.Error())
		} else {
			src.Width, src.Height = w, h
		}
	}
	return src, nil
}

func (p *Processor) decode(ctx context.Context, src *SourceImage) (Image, error) {
	format := src.DecodeFormat()
	dec, ok := p.registry.DecoderFor(format)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryDecode, "decode "+src.RelPath,
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, format))
	}
	start := time.Now()
	img, err := dec.Decode(ctx, src.Data)
	p.metrics.RecordProcessingTime("decode", time.Since(start))
	if err != nil {
		p.metrics.RecordError("decode", string(apperrors.CategoryDecode))
		return nil, fmt.Errorf("%s: %w", src.RelPath, err)
	}
	return img, nil
}

// restore copies every artifact of a cache hit into the output tree.
func (p *Processor) restore(ctx context.Context, key CacheKey, v Variant) error {
	for _, a := range v.Artifacts {
		if err := p.store.CopyTo(ctx, key, a.RelPath, p.outputPath(a.RelPath)); err != nil {
			return err
		}
	}
	return nil
}

// produce transcodes a missed variant and writes every artifact to the
// cache and the output tree. It returns the number of optimizer warnings.
func (p *Processor) produce(ctx context.Context, src *SourceImage, img Image, key CacheKey, v Variant) (int, error) {
	data, err := p.transcoder.Transcode(ctx, src, img, v)
	if err != nil {
		p.metrics.RecordError("transcode", categoryOf(err))
		return 0, err
	}
	for range data.Warnings {
		p.metrics.RecordWarning("optimize")
	}

	for _, a := range v.Artifacts {
		encoded := data.Artifacts[a.Role]
		if err := p.store.Put(ctx, key, a.RelPath, encoded); err != nil {
			return 0, err
		}
		if err := utils.WriteFileAtomic(p.outputPath(a.RelPath), encoded, 0o644); err != nil {
			return 0, apperrors.Wrap(apperrors.CategoryOutput, "output.write "+a.RelPath, err)
		}
		p.metrics.RecordThroughput(int64(len(encoded)))
	}
	return len(data.Warnings), nil
}

func (p *Processor) outputPath(rel string) string {
	return filepath.Join(p.cfg.OutputDir, filepath.FromSlash(rel))
}

func categoryOf(err error) string {
	var pe *apperrors.ProcessingError
	if errors.As(err, &pe) {
		return string(pe.Category)
	}
	return string(apperrors.CategoryPipeline)
}
