package core

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/Skryldev/image-builder/utils"
)

// Format identifies an image codec.
type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatGIF     Format = "gif"
	FormatWebP    Format = "webp"
	FormatUnknown Format = "unknown"
)

// FormatFromExt maps a file extension (with or without the leading dot, any
// case) to a source Format.
func FormatFromExt(ext string) Format {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "png":
		return FormatPNG
	case "jpg", "jpeg":
		return FormatJPEG
	case "gif":
		return FormatGIF
	case "webp":
		return FormatWebP
	}
	return FormatUnknown
}

// IsSource reports whether files of this format are picked up from the
// source tree.
func (f Format) IsSource() bool {
	return f == FormatPNG || f == FormatJPEG || f == FormatGIF
}

// Resizable reports whether sources of this format get width variants.
// GIFs are excluded because animation does not survive a generic re-encode.
func (f Format) Resizable() bool {
	return f == FormatPNG || f == FormatJPEG
}

// SourceImage is one file discovered under the source tree. It is read
// once per run and never mutated afterwards.
type SourceImage struct {
	Path    string // filesystem path
	RelPath string // slash-separated, relative to the source root
	Ext     string // extension as found on disk, including the dot
	Format  Format // from the extension; drives planning and naming
	Data    []byte

	// Detected is the format sniffed from the leading bytes, FormatUnknown
	// when unrecognized.
	Detected Format

	// Pixel dimensions from a header probe; zero when unknown.
	Width  int
	Height int
}

// BaseName is the file identity used by policy allow-lists.
func (s *SourceImage) BaseName() string { return path.Base(s.RelPath) }

// RelBase is RelPath without its extension.
func (s *SourceImage) RelBase() string { return strings.TrimSuffix(s.RelPath, path.Ext(s.RelPath)) }

// ManifestKey is `<relative-base>.<ext>` with the extension lowercased.
func (s *SourceImage) ManifestKey() string {
	return s.RelBase() + "." + strings.ToLower(strings.TrimPrefix(s.Ext, "."))
}

// DimensionsKnown reports whether a header probe produced usable dimensions.
func (s *SourceImage) DimensionsKnown() bool { return s.Width > 0 && s.Height > 0 }

// DecodeFormat is the format the bytes are decoded as. Content wins over a
// mislabeled extension.
func (s *SourceImage) DecodeFormat() Format {
	if s.Detected != FormatUnknown && s.Detected != "" {
		return s.Detected
	}
	return s.Format
}

// Scaled returns the dimensions a variant of the given width is emitted at;
// width 0 is the original size.
func (s *SourceImage) Scaled(width int) Dimensions {
	w, h := utils.FitWidth(s.Width, s.Height, width)
	return Dimensions{Width: w, Height: h}
}

// ArtifactRole distinguishes the files produced for one variant.
type ArtifactRole string

const (
	RolePrimary ArtifactRole = "primary"
	RoleWebP    ArtifactRole = "webp"
)

// EncodeOptions carries every encoder parameter that influences output
// bytes. It is serialized verbatim into the cache key, so a field added
// here takes part in cache invalidation automatically.
type EncodeOptions struct {
	Quality           int  `cbor:"quality,omitempty" json:"quality,omitempty"`
	Lossless          bool `cbor:"lossless,omitempty" json:"lossless,omitempty"`
	Effort            int  `cbor:"effort,omitempty" json:"effort,omitempty"`
	CompressionLevel  int  `cbor:"compression_level,omitempty" json:"compression_level,omitempty"`
	AdaptiveFiltering bool `cbor:"adaptive_filtering,omitempty" json:"adaptive_filtering,omitempty"`
	OptimizeCoding    bool `cbor:"optimize_coding,omitempty" json:"optimize_coding,omitempty"`
	StripMetadata     bool `cbor:"strip_metadata,omitempty" json:"strip_metadata,omitempty"`
}

// ArtifactSpec describes one output file of a variant.
type ArtifactSpec struct {
	Role        ArtifactRole
	Format      Format
	RelPath     string // slash-separated, relative to the output root
	Passthrough bool   // copy source bytes unchanged
	Optimize    bool   // run the secondary lossless optimizer
	Options     EncodeOptions
}

// Variant is one (format, width) combination planned for a source. The
// primary artifact is always first.
type Variant struct {
	Width     int // requested width; 0 means original size
	Artifacts []ArtifactSpec
}

// Primary returns the primary artifact.
func (v Variant) Primary() ArtifactSpec { return v.Artifacts[0] }

// Artifact returns the artifact with the given role.
func (v Variant) Artifact(role ArtifactRole) (ArtifactSpec, bool) {
	for _, a := range v.Artifacts {
		if a.Role == role {
			return a, true
		}
	}
	return ArtifactSpec{}, false
}

// RelPaths lists the output-relative paths of every artifact.
func (v Variant) RelPaths() []string {
	out := make([]string, len(v.Artifacts))
	for i, a := range v.Artifacts {
		out[i] = a.RelPath
	}
	return out
}

// NeedsDecode reports whether any artifact requires decoded pixels.
func (v Variant) NeedsDecode() bool {
	for _, a := range v.Artifacts {
		if !a.Passthrough {
			return true
		}
	}
	return false
}

// CacheKey names one cache entry directory.
type CacheKey string

// VariantData is the working value passed through transcoding steps.
type VariantData struct {
	Source    *SourceImage
	Variant   Variant
	Image     Image // shared decode or a resized copy
	Artifacts map[ArtifactRole][]byte

	// Warnings collects non-fatal failures (secondary optimization).
	Warnings []error

	// Temporaries are images created by steps and released after encoding.
	Temporaries []Image
}

// Release closes every temporary image.
func (d *VariantData) Release() {
	for _, img := range d.Temporaries {
		img.Close()
	}
	d.Temporaries = nil
}

// Dimensions is the emitted size of one variant.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ManifestEntry maps each requested responsive width (as a string) to the
// dimensions actually emitted for it.
type ManifestEntry struct {
	Widths map[string]Dimensions `json:"widths"`
}

// Manifest is keyed by SourceImage.ManifestKey.
type Manifest map[string]ManifestEntry

// BuildReport summarises a run.
type BuildReport struct {
	Files             int64
	Processed         int64 // variants
	CacheHits         int64
	CacheMisses       int64
	OptimizerWarnings int64
	Manifest          Manifest
	Duration          time.Duration
}

// Summary returns the two operator-facing result lines.
func (r *BuildReport) Summary() string {
	return fmt.Sprintf("Processed %d image variant(s).\nCache hits: %d, cache misses: %d.",
		r.Processed, r.CacheHits, r.CacheMisses)
}
