// Package planner decides which variants a source image produces and what
// the manifest records for it.
package planner

import (
	"path"
	"strconv"

	"github.com/Skryldev/image-builder/config"
	"github.com/Skryldev/image-builder/core"
)

// Policy is the explicit variant policy. Base-name sets match
// SourceImage.BaseName exactly.
type Policy struct {
	Widths        []int
	NoWebP        map[string]bool
	NonResponsive map[string]bool

	PNG      core.EncodeOptions // PNG primary
	PNGWebP  core.EncodeOptions // WebP sibling of a PNG source
	JPEG     core.EncodeOptions // JPEG primary
	JPEGWebP core.EncodeOptions // WebP sibling of a JPEG source

	// OptimizePNG runs the secondary lossless pass on PNG primaries.
	OptimizePNG bool
}

// PolicyFromConfig translates configuration into a Policy.
func PolicyFromConfig(cfg config.Config) Policy {
	return Policy{
		Widths:        append([]int(nil), cfg.Widths...),
		NoWebP:        toSet(cfg.NoWebP),
		NonResponsive: toSet(cfg.NonResponsive),
		PNG: core.EncodeOptions{
			CompressionLevel:  cfg.PNG.CompressionLevel,
			AdaptiveFiltering: cfg.PNG.AdaptiveFiltering,
			StripMetadata:     true,
		},
		PNGWebP: core.EncodeOptions{
			Lossless:      true,
			Effort:        cfg.WebP.Effort,
			StripMetadata: true,
		},
		JPEG: core.EncodeOptions{
			Quality:        cfg.JPEG.Quality,
			OptimizeCoding: cfg.JPEG.OptimizeCoding,
			StripMetadata:  true,
		},
		JPEGWebP: core.EncodeOptions{
			Quality:       cfg.WebP.Quality,
			Effort:        cfg.WebP.Effort,
			StripMetadata: true,
		},
		OptimizePNG: cfg.Optimizer.Enabled,
	}
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// Planner implements core.Planner.
type Planner struct {
	policy Policy
}

var _ core.Planner = (*Planner)(nil)

// New returns a Planner for policy.
func New(policy Policy) *Planner {
	return &Planner{policy: policy}
}

// Policy returns the policy in effect.
func (p *Planner) Policy() Policy { return p.policy }

// Responsive reports whether src gets width variants.
func (p *Planner) Responsive(src *core.SourceImage) bool {
	return src.Format.Resizable() && !p.policy.NonResponsive[src.BaseName()]
}

// Plan returns the variants of src, original size first. Unsupported
// formats yield nil.
func (p *Planner) Plan(src *core.SourceImage) []core.Variant {
	switch src.Format {
	case core.FormatGIF:
		return []core.Variant{{
			Artifacts: []core.ArtifactSpec{{
				Role:        core.RolePrimary,
				Format:      core.FormatGIF,
				RelPath:     OutputPath(src.RelBase(), ".gif", 0),
				Passthrough: true,
			}},
		}}
	case core.FormatPNG, core.FormatJPEG:
	default:
		return nil
	}

	widths := []int{0}
	if p.Responsive(src) {
		widths = append(widths, p.policy.Widths...)
	}
	webp := !p.policy.NoWebP[src.BaseName()]

	variants := make([]core.Variant, 0, len(widths))
	for _, w := range widths {
		variants = append(variants, p.variant(src, w, webp))
	}
	return variants
}

func (p *Planner) variant(src *core.SourceImage, width int, webp bool) core.Variant {
	primary := core.ArtifactSpec{Role: core.RolePrimary, Format: src.Format}
	sibling := core.ArtifactSpec{Role: core.RoleWebP, Format: core.FormatWebP}

	switch src.Format {
	case core.FormatPNG:
		primary.RelPath = OutputPath(src.RelBase(), ".png", width)
		primary.Options = p.policy.PNG
		primary.Optimize = p.policy.OptimizePNG
		sibling.Options = p.policy.PNGWebP
	case core.FormatJPEG:
		primary.RelPath = OutputPath(src.RelBase(), src.Ext, width)
		primary.Options = p.policy.JPEG
		sibling.Options = p.policy.JPEGWebP
	}

	v := core.Variant{Width: width, Artifacts: []core.ArtifactSpec{primary}}
	if webp {
		sibling.RelPath = OutputPath(src.RelBase(), ".webp", width)
		v.Artifacts = append(v.Artifacts, sibling)
	}
	return v
}

// OutputPath names an artifact relative to the output root: relBase+ext for
// the original size, relBase-<width>w+ext otherwise.
func OutputPath(relBase, ext string, width int) string {
	if width == 0 {
		return relBase + ext
	}
	dir, base := path.Split(relBase)
	return dir + base + "-" + strconv.Itoa(width) + "w" + ext
}

// ManifestEntry returns the emitted dimensions per configured width. Only
// responsive sources with known dimensions have an entry.
func (p *Planner) ManifestEntry(src *core.SourceImage) (core.ManifestEntry, bool) {
	if !p.Responsive(src) || !src.DimensionsKnown() {
		return core.ManifestEntry{}, false
	}
	entry := core.ManifestEntry{Widths: make(map[string]core.Dimensions, len(p.policy.Widths))}
	for _, w := range p.policy.Widths {
		entry.Widths[strconv.Itoa(w)] = src.Scaled(w)
	}
	return entry, true
}
