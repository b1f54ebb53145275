package core

import (
	"context"
	"time"
)

// Image is a decoded raster owned by a codec backend.
type Image interface {
	Width() int
	Height() int
	// Resize returns a new image scaled to width with the aspect ratio
	// preserved. It never enlarges: a width at or above the native width
	// yields an unscaled copy. The receiver is left untouched.
	Resize(width int) (Image, error)
	// Close releases backend resources. Safe to call more than once.
	Close()
}

// Decoder turns encoded bytes into an Image.
// Implementations live in adapters/.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (Image, error)
	CanDecode(format Format) bool
}

// Encoder serialises an Image to bytes in a target format.
// Implementations live in adapters/.
type Encoder interface {
	Encode(ctx context.Context, img Image, format Format, opts EncodeOptions) ([]byte, error)
	CanEncode(format Format) bool
}

// Optimizer rewrites a file in place with a lossless external tool.
// Failures are reported to the caller, which decides whether they matter.
type Optimizer interface {
	// Name identifies the tool and its effort level; it is part of the
	// cache key for every artifact the optimizer touches.
	Name() string
	Optimize(ctx context.Context, path string) error
}

// CacheStore is a content-addressed artifact store laid out as
// <root>/<key>/<relative output path>.
type CacheStore interface {
	// HasAll reports whether every listed artifact exists under key.
	HasAll(ctx context.Context, key CacheKey, relPaths ...string) (bool, error)
	Get(ctx context.Context, key CacheKey, relPath string) ([]byte, error)
	Put(ctx context.Context, key CacheKey, relPath string, data []byte) error
	// CopyTo copies a cached artifact to dst, creating parent directories.
	CopyTo(ctx context.Context, key CacheKey, relPath, dst string) error
}

// Planner enumerates the variants of a source and its manifest entry.
type Planner interface {
	Plan(src *SourceImage) []Variant
	ManifestEntry(src *SourceImage) (ManifestEntry, bool)
}

// Hasher derives the cache key of one variant.
type Hasher interface {
	Key(src *SourceImage, v Variant) (CacheKey, error)
}

// Transcoder produces the artifact bytes of one variant. img may be nil
// when the variant needs no decoded pixels.
type Transcoder interface {
	Transcode(ctx context.Context, src *SourceImage, img Image, v Variant) (*VariantData, error)
}

// Step is the building block of a transcoding chain.
type Step interface {
	Name() string
	Execute(ctx context.Context, data *VariantData) (*VariantData, error)
}

// Hook is an optional observer invoked around transcoding steps.
type Hook interface {
	BeforeStep(ctx context.Context, stepName string, data *VariantData)
	AfterStep(ctx context.Context, stepName string, data *VariantData, d time.Duration, err error)
}

// MetricsCollector receives build observations.
type MetricsCollector interface {
	RecordProcessingTime(stepName string, d interface{ Seconds() float64 })
	RecordThroughput(bytes int64)
	RecordError(stepName string, category string)
	RecordFile(format Format)
	RecordVariant(cacheHit bool)
	RecordWarning(stepName string)
}

// Logger is a minimal structured logging interface.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// Registry maps Format values to Decoder/Encoder implementations.
type Registry interface {
	DecoderFor(format Format) (Decoder, bool)
	EncoderFor(format Format) (Encoder, bool)
	RegisterDecoder(format Format, d Decoder)
	RegisterEncoder(format Format, e Encoder)
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordProcessingTime(string, interface{ Seconds() float64 }) {}
func (NopMetrics) RecordThroughput(int64)                                      {}
func (NopMetrics) RecordError(string, string)                                  {}
func (NopMetrics) RecordFile(Format)                                           {}
func (NopMetrics) RecordVariant(bool)                                          {}
func (NopMetrics) RecordWarning(string)                                        {}
