package native

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"image/png"

	"github.com/Skryldev/image-builder/core"
	apperrors "github.com/Skryldev/image-builder/errors"
)

// Encoder encodes PNG and JPEG with the standard library.
type Encoder struct {
	// DefaultQuality is used when EncodeOptions.Quality == 0.
	DefaultQuality int
}

var _ core.Encoder = (*Encoder)(nil)

// NewEncoder returns an Encoder.
func NewEncoder(defaultQuality int) *Encoder {
	if defaultQuality <= 0 {
		defaultQuality = 85
	}
	return &Encoder{DefaultQuality: defaultQuality}
}

func (e *Encoder) CanEncode(format core.Format) bool {
	return format == core.FormatPNG || format == core.FormatJPEG
}

func (e *Encoder) Encode(ctx context.Context, img core.Image, format core.Format, opts core.EncodeOptions) ([]byte, error) {
	op := string(format) + ".encode"
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, op, err)
	}
	src, ok := Unwrap(img)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryEncode, op, apperrors.ErrEmptyInput)
	}

	var buf bytes.Buffer
	switch format {
	case core.FormatPNG:
		enc := &png.Encoder{CompressionLevel: pngCompression(opts.CompressionLevel)}
		if err := enc.Encode(&buf, src); err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryEncode, op, err)
		}
	case core.FormatJPEG:
		quality := opts.Quality
		if quality <= 0 {
			quality = e.DefaultQuality
		}
		if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: quality}); err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryEncode, op, err)
		}
	default:
		return nil, apperrors.New(apperrors.CategoryEncode, op, fmt.Errorf("%s: %w", format, apperrors.ErrUnsupportedFormat))
	}
	return buf.Bytes(), nil
}

// pngCompression maps a zlib-style 0-9 level onto image/png's four presets.
func pngCompression(level int) png.CompressionLevel {
	switch {
	case level <= 0:
		return png.NoCompression
	case level <= 3:
		return png.BestSpeed
	case level <= 6:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}

// Register installs the native decoders and encoders in reg.
func Register(reg core.Registry) {
	for _, f := range []core.Format{core.FormatPNG, core.FormatJPEG, core.FormatGIF, core.FormatWebP} {
		reg.RegisterDecoder(f, NewDecoder(f))
	}
	enc := NewEncoder(0)
	reg.RegisterEncoder(core.FormatPNG, enc)
	reg.RegisterEncoder(core.FormatJPEG, enc)
}
