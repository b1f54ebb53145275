// Package vips is the libvips codec backend.
package vips

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/Skryldev/image-builder/core"
	apperrors "github.com/Skryldev/image-builder/errors"
	"github.com/Skryldev/image-builder/utils"
)

// BackendConfig configures the libvips backend.
type BackendConfig struct {
	MaxCacheSize int
	MaxWorkers   int // libvips concurrency; 0 = NumCPU
	ReportLeaks  bool
}

// Backend is a unified libvips-powered Decoder and Encoder.
// Safe for concurrent use across goroutines.
type Backend struct {
	cfg BackendConfig
}

var startOnce sync.Once

// NewBackend initialises libvips and returns a ready Backend.
// libvips can be started once per process; call Shutdown at exit.
func NewBackend(cfg BackendConfig) *Backend {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	startOnce.Do(func() {
		govips.Startup(&govips.Config{
			ConcurrencyLevel: cfg.MaxWorkers,
			MaxCacheSize:     cfg.MaxCacheSize,
			ReportLeaks:      cfg.ReportLeaks,
		})
	})
	return &Backend{cfg: cfg}
}

// Shutdown releases all libvips resources. Call once at process exit.
func (b *Backend) Shutdown() {
	govips.Shutdown()
}

// RouteLogs sends libvips' own log stream to logger.
func RouteLogs(logger core.Logger, verbosity govips.LogLevel) {
	govips.LoggingSettings(func(domain string, level govips.LogLevel, message string) {
		switch level {
		case govips.LogLevelError, govips.LogLevelCritical:
			logger.Error(message, "domain", domain)
		case govips.LogLevelWarning:
			logger.Warn(message, "domain", domain)
		case govips.LogLevelMessage, govips.LogLevelInfo:
			logger.Info(message, "domain", domain)
		default:
			logger.Debug(message, "domain", domain)
		}
	}, verbosity)
}

// ─── Decoder ──────────────────────────────────────────────────────────────────

func (b *Backend) CanDecode(f core.Format) bool {
	switch f {
	case core.FormatJPEG, core.FormatPNG, core.FormatGIF, core.FormatWebP:
		return true
	}
	return false
}

func (b *Backend) Decode(ctx context.Context, data []byte) (core.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode", err)
	}
	if len(data) == 0 {
		return nil, apperrors.New(apperrors.CategoryDecode, "vips.decode", apperrors.ErrEmptyInput)
	}

	ref, err := govips.NewImageFromBuffer(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode", err)
	}
	return newImage(ref), nil
}

// ─── Encoder ──────────────────────────────────────────────────────────────────

func (b *Backend) CanEncode(f core.Format) bool {
	switch f {
	case core.FormatJPEG, core.FormatPNG, core.FormatWebP:
		return true
	}
	return false
}

func (b *Backend) Encode(ctx context.Context, img core.Image, format core.Format, opts core.EncodeOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode", err)
	}

	vi, ok := img.(*Image)
	if !ok || vi == nil || vi.ref == nil {
		return nil, apperrors.New(apperrors.CategoryEncode, "vips.encode",
			fmt.Errorf("image must be decoded with the vips backend first"))
	}

	switch format {
	case core.FormatJPEG:
		ep := govips.NewJpegExportParams()
		if opts.Quality > 0 {
			ep.Quality = opts.Quality
		}
		ep.StripMetadata = opts.StripMetadata
		if opts.OptimizeCoding {
			// mozjpeg-style: optimized Huffman tables, trellis quantisation,
			// progressive scans and the ImageMagick quant table.
			ep.OptimizeCoding = true
			ep.TrellisQuant = true
			ep.OvershootDeringing = true
			ep.OptimizeScans = true
			ep.Interlace = true
			ep.QuantTable = 3
		}
		buf, _, err := vi.ref.ExportJpeg(ep)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode.jpeg", err)
		}
		return buf, nil

	case core.FormatPNG:
		ep := govips.NewPngExportParams()
		ep.Compression = opts.CompressionLevel
		ep.StripMetadata = opts.StripMetadata
		if opts.AdaptiveFiltering {
			ep.Filter = govips.PngFilterAll
		} else {
			ep.Filter = govips.PngFilterNone
		}
		buf, _, err := vi.ref.ExportPng(ep)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode.png", err)
		}
		return buf, nil

	case core.FormatWebP:
		ep := govips.NewWebpExportParams()
		if opts.Quality > 0 {
			ep.Quality = opts.Quality
		}
		ep.Lossless = opts.Lossless
		ep.ReductionEffort = opts.Effort
		ep.StripMetadata = opts.StripMetadata
		buf, _, err := vi.ref.ExportWebp(ep)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode.webp", err)
		}
		return buf, nil

	default:
		return nil, apperrors.New(apperrors.CategoryEncode, "vips.encode",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, format))
	}
}

// ─── Image ────────────────────────────────────────────────────────────────────

// Image wraps a *govips.ImageRef.
type Image struct {
	mu  sync.Mutex
	ref *govips.ImageRef
}

func newImage(ref *govips.ImageRef) *Image {
	img := &Image{ref: ref}
	runtime.SetFinalizer(img, func(i *Image) { i.Close() })
	return img
}

func (v *Image) Width() int            { return v.ref.Width() }
func (v *Image) Height() int           { return v.ref.Height() }
func (v *Image) Ref() *govips.ImageRef { return v.ref }

// Resize copies the image and scales the copy with a Lanczos3 kernel. The
// horizontal and vertical factors are derived separately so the output
// matches the rounded manifest dimensions exactly.
func (v *Image) Resize(width int) (core.Image, error) {
	srcW, srcH := v.ref.Width(), v.ref.Height()
	dstW, dstH := utils.FitWidth(srcW, srcH, width)
	if dstW <= 0 || dstH <= 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, "vips.resize", apperrors.ErrInvalidDimensions)
	}

	v.mu.Lock()
	cp, err := v.ref.Copy()
	v.mu.Unlock()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, "vips.resize.copy", err)
	}
	if dstW == srcW && dstH == srcH {
		return newImage(cp), nil
	}

	hscale := float64(dstW) / float64(srcW)
	vscale := float64(dstH) / float64(srcH)
	if err := cp.ResizeWithVScale(hscale, vscale, govips.KernelLanczos3); err != nil {
		cp.Close()
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, "vips.resize", err)
	}
	return newImage(cp), nil
}

// Close releases the libvips reference. Safe to call more than once.
func (v *Image) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ref != nil {
		v.ref.Close()
		v.ref = nil
	}
}

// ─── Register ─────────────────────────────────────────────────────────────────

// RegisterBackend installs libvips for every format it handles.
func RegisterBackend(reg core.Registry, b *Backend) {
	for _, f := range []core.Format{core.FormatJPEG, core.FormatPNG, core.FormatGIF, core.FormatWebP} {
		reg.RegisterDecoder(f, b)
	}
	for _, f := range []core.Format{core.FormatJPEG, core.FormatPNG, core.FormatWebP} {
		reg.RegisterEncoder(f, b)
	}
}

// compile-time interface checks
var _ core.Decoder = (*Backend)(nil)
var _ core.Encoder = (*Backend)(nil)
var _ core.Image = (*Image)(nil)
