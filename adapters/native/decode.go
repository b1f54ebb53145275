package native

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/webp"

	"github.com/Skryldev/image-builder/core"
	apperrors "github.com/Skryldev/image-builder/errors"
)

// Decoder decodes one format with the standard library or x/image.
type Decoder struct {
	format core.Format
}

var _ core.Decoder = (*Decoder)(nil)

// NewDecoder returns a Decoder for format.
func NewDecoder(format core.Format) *Decoder { return &Decoder{format: format} }

func (d *Decoder) CanDecode(format core.Format) bool {
	switch format {
	case core.FormatPNG, core.FormatJPEG, core.FormatGIF, core.FormatWebP:
		return format == d.format
	}
	return false
}

func (d *Decoder) Decode(ctx context.Context, data []byte) (core.Image, error) {
	op := string(d.format) + ".decode"
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, op, err)
	}
	if len(data) == 0 {
		return nil, apperrors.New(apperrors.CategoryDecode, op, apperrors.ErrEmptyInput)
	}

	var (
		img image.Image
		err error
	)
	r := bytes.NewReader(data)
	switch d.format {
	case core.FormatPNG:
		img, err = png.Decode(r)
	case core.FormatJPEG:
		img, err = jpeg.Decode(r)
	case core.FormatGIF:
		// First frame only; animated GIFs are never transcoded.
		img, err = gif.Decode(r)
	case core.FormatWebP:
		img, err = webp.Decode(r)
	default:
		err = fmt.Errorf("%s: %w", d.format, apperrors.ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, op, err)
	}
	return Wrap(img), nil
}
