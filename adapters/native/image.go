// Package native is the pure-Go codec backend. It decodes PNG, JPEG, GIF
// and WebP and encodes PNG and JPEG; WebP encoding needs the vips backend
// or a registered Encoder.
package native

import (
	"image"

	xdraw "golang.org/x/image/draw"

	"github.com/Skryldev/image-builder/core"
	apperrors "github.com/Skryldev/image-builder/errors"
	"github.com/Skryldev/image-builder/utils"
)

// Image wraps a decoded image.Image.
type Image struct {
	img image.Image

	// Resampler controls quality vs speed. Defaults to CatmullRom.
	Resampler xdraw.Interpolator
}

var _ core.Image = (*Image)(nil)

// Wrap returns img as a core.Image.
func Wrap(img image.Image) *Image { return &Image{img: img} }

// Unwrap returns the underlying image.Image of a native image.
func Unwrap(img core.Image) (image.Image, bool) {
	n, ok := img.(*Image)
	if !ok || n == nil || n.img == nil {
		return nil, false
	}
	return n.img, true
}

func (i *Image) Width() int  { return i.img.Bounds().Dx() }
func (i *Image) Height() int { return i.img.Bounds().Dy() }

// Resize scales to width with the aspect ratio preserved and never enlarges.
func (i *Image) Resize(width int) (core.Image, error) {
	srcB := i.img.Bounds()
	dstW, dstH := utils.FitWidth(srcB.Dx(), srcB.Dy(), width)
	if dstW <= 0 || dstH <= 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, "native.resize", apperrors.ErrInvalidDimensions)
	}
	if dstW == srcB.Dx() && dstH == srcB.Dy() {
		return &Image{img: i.img, Resampler: i.Resampler}, nil
	}

	sampler := i.Resampler
	if sampler == nil {
		sampler = xdraw.CatmullRom
	}
	dst := image.NewNRGBA(image.Rect(0, 0, dstW, dstH))
	sampler.Scale(dst, dst.Bounds(), i.img, srcB, xdraw.Src, nil)
	return &Image{img: dst, Resampler: i.Resampler}, nil
}

// Close is a no-op; pixel buffers are garbage collected.
func (i *Image) Close() {}
