package vips_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"sync"
	"testing"

	"github.com/Skryldev/image-builder/adapters/native"
	"github.com/Skryldev/image-builder/adapters/vips"
	"github.com/Skryldev/image-builder/config"
	"github.com/Skryldev/image-builder/core"
	"github.com/Skryldev/image-builder/pipeline"
	"github.com/Skryldev/image-builder/planner"
)

var (
	backendOnce sync.Once
	backend     *vips.Backend
)

// libvips cannot be restarted, so every benchmark shares one backend.
func vipsBackend() *vips.Backend {
	backendOnce.Do(func() { backend = vips.NewBackend(vips.BackendConfig{}) })
	return backend
}

func TestMain(m *testing.M) {
	code := m.Run()
	if backend != nil {
		backend.Shutdown()
	}
	os.Exit(code)
}

func makeJPEG(b *testing.B, w, h int) []byte {
	b.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	jpeg.Encode(&buf, img, &jpeg.Options{Quality: 92})
	return buf.Bytes()
}

func vipsRegistry() core.Registry {
	reg := core.NewRegistry()
	vips.RegisterBackend(reg, vipsBackend())
	return reg
}

func nativeRegistry() core.Registry {
	reg := core.NewRegistry()
	native.Register(reg)
	return reg
}

func jpegSource(b *testing.B, w, h int) *core.SourceImage {
	return &core.SourceImage{RelPath: "bench.jpg", Ext: ".jpg", Format: core.FormatJPEG, Data: makeJPEG(b, w, h), Width: w, Height: h}
}

// ─── Decode ───────────────────────────────────────────────────────────────────

func benchmarkDecode(b *testing.B, reg core.Registry) {
	src := jpegSource(b, 1920, 1080)
	dec, _ := reg.DecoderFor(core.FormatJPEG)

	b.ReportAllocs()
	b.SetBytes(int64(len(src.Data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		img, err := dec.Decode(context.Background(), src.Data)
		if err != nil {
			b.Fatal(err)
		}
		img.Close()
	}
}

func BenchmarkDecode_Native_1920x1080(b *testing.B) { benchmarkDecode(b, nativeRegistry()) }
func BenchmarkDecode_Vips_1920x1080(b *testing.B)   { benchmarkDecode(b, vipsRegistry()) }

// ─── Variant ──────────────────────────────────────────────────────────────────

// benchmarkVariant transcodes the 800w variant of a JPEG from one shared
// decode, as the driver does on a cache miss.
func benchmarkVariant(b *testing.B, reg core.Registry, withWebP bool) {
	src := jpegSource(b, 1920, 1080)
	cfg := config.Default()
	policy := planner.PolicyFromConfig(cfg)
	if !withWebP {
		policy.NoWebP = map[string]bool{src.BaseName(): true}
	}
	v := planner.New(policy).Plan(src)[1]

	dec, _ := reg.DecoderFor(core.FormatJPEG)
	img, err := dec.Decode(context.Background(), src.Data)
	if err != nil {
		b.Fatal(err)
	}
	defer img.Close()
	tr := pipeline.NewTranscoder(reg, nil, "")

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := tr.Transcode(context.Background(), src, img, v); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkVariant_Native_JPEG800(b *testing.B)   { benchmarkVariant(b, nativeRegistry(), false) }
func BenchmarkVariant_Vips_JPEG800(b *testing.B)     { benchmarkVariant(b, vipsRegistry(), false) }
func BenchmarkVariant_Vips_JPEG800WebP(b *testing.B) { benchmarkVariant(b, vipsRegistry(), true) }

// ─── Resize ───────────────────────────────────────────────────────────────────

func BenchmarkResize_Vips_4KTo800(b *testing.B) {
	src := jpegSource(b, 3840, 2160)
	reg := vipsRegistry()
	dec, _ := reg.DecoderFor(core.FormatJPEG)
	img, err := dec.Decode(context.Background(), src.Data)
	if err != nil {
		b.Fatal(err)
	}
	defer img.Close()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resized, err := img.Resize(800)
		if err != nil {
			b.Fatal(err)
		}
		if resized.Width() != 800 || resized.Height() != 450 {
			b.Fatalf("got %dx%d, want 800x450", resized.Width(), resized.Height())
		}
		resized.Close()
	}
}
