package utils

import (
	"bytes"
	"fmt"
	"image"
	"math"
	"net/http"

	// Registered for image.DecodeConfig.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

const (
	formatJPEG    = "jpeg"
	formatPNG     = "png"
	formatGIF     = "gif"
	formatWebP    = "webp"
	formatUnknown = "unknown"
)

// DetectFormat sniffs the leading bytes of data and returns the image format.
func DetectFormat(data []byte) string {
	if len(data) < 4 {
		return formatUnknown
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return formatJPEG
	}
	// PNG: 89 50 4E 47
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return formatPNG
	}
	// GIF: "GIF8"
	if data[0] == 'G' && data[1] == 'I' && data[2] == 'F' && data[3] == '8' {
		return formatGIF
	}
	// WebP: RIFF....WEBP
	if len(data) >= 12 &&
		data[0] == 'R' && data[1] == 'I' && data[2] == 'F' && data[3] == 'F' &&
		data[8] == 'W' && data[9] == 'E' && data[10] == 'B' && data[11] == 'P' {
		return formatWebP
	}
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return formatJPEG
	case "image/png":
		return formatPNG
	case "image/gif":
		return formatGIF
	case "image/webp":
		return formatWebP
	}
	return formatUnknown
}

// Probe reads only the image header and returns its pixel dimensions and
// format name (png, jpeg, gif or webp).
func Probe(data []byte) (width, height int, format string, err error) {
	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, formatUnknown, fmt.Errorf("probe: %w", err)
	}
	return cfg.Width, cfg.Height, name, nil
}

// FitWidth computes the dimensions of an image scaled to targetW while
// preserving aspect ratio. The result never exceeds the source width;
// targetW <= 0 means the original size. Height is rounded to the nearest
// pixel and is at least 1.
func FitWidth(srcW, srcH, targetW int) (int, int) {
	if targetW <= 0 || targetW >= srcW {
		return srcW, srcH
	}
	h := int(math.Round(float64(srcH) * (float64(targetW) / float64(srcW))))
	if h < 1 {
		h = 1
	}
	return targetW, h
}
