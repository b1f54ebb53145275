package imagebuilder_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	imagebuilder "github.com/Skryldev/image-builder"
	"github.com/Skryldev/image-builder/adapters/native"
	"github.com/Skryldev/image-builder/config"
	"github.com/Skryldev/image-builder/core"
)

// ─── Helpers ──────────────────────────────────────────────────────────────────

func solid(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.NRGBA{R: 30, G: 120, B: 200, A: 255}}, image.Point{}, draw.Src)
	return img
}

func makePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(w, h)))
	return buf.Bytes()
}

func makeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, solid(w, h), &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func put(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func dims(t *testing.T, path string) (int, int) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	require.NoError(t, err)
	return cfg.Width, cfg.Height
}

func listOutputs(t *testing.T, dir string) []string {
	t.Helper()
	var out []string
	require.NoError(t, filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		out = append(out, filepath.ToSlash(rel))
		return err
	}))
	sort.Strings(out)
	return out
}

// pngAsWebP fills the WebP slot with PNG bytes so the pure-Go backend can
// run complete builds and emitted sizes stay probeable.
type pngAsWebP struct{}

func (pngAsWebP) CanEncode(f core.Format) bool { return f == core.FormatWebP }
func (pngAsWebP) Encode(ctx context.Context, img core.Image, _ core.Format, opts core.EncodeOptions) ([]byte, error) {
	return native.NewEncoder(0).Encode(ctx, img, core.FormatPNG, opts)
}

func testConfig(t *testing.T) config.Config {
	root := t.TempDir()
	cfg := config.Default()
	cfg.SourceDir = filepath.Join(root, "src", "images")
	cfg.OutputDir = filepath.Join(root, "_site", "images")
	cfg.CacheDir = filepath.Join(root, ".cache", "images")
	cfg.ManifestPath = filepath.Join(root, "src", "_data", "imageMeta.json")
	cfg.TempDir = t.TempDir()
	cfg.Backend = config.BackendNative
	cfg.Optimizer.Enabled = false
	return cfg
}

func newBuilder(t *testing.T, cfg config.Config) *imagebuilder.Builder {
	t.Helper()
	b, err := imagebuilder.New(cfg)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	b.RegisterEncoder(core.FormatWebP, pngAsWebP{})
	return b
}

// ─── Tests ────────────────────────────────────────────────────────────────────

func TestHeroBuild(t *testing.T) {
	cfg := testConfig(t)
	cfg.Verify = true
	put(t, filepath.Join(cfg.SourceDir, "hero.png"), makePNG(t, 3000, 2000))

	b := newBuilder(t, cfg)
	report, err := b.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"hero-1400w.png", "hero-1400w.webp",
		"hero-2000w.png", "hero-2000w.webp",
		"hero-800w.png", "hero-800w.webp",
		"hero.png", "hero.webp",
	}, listOutputs(t, cfg.OutputDir))
	assert.EqualValues(t, 4, report.Processed)
	assert.EqualValues(t, 0, report.CacheHits)
	assert.EqualValues(t, 4, report.CacheMisses)

	w, h := dims(t, filepath.Join(cfg.OutputDir, "hero-800w.png"))
	assert.Equal(t, 800, w)
	assert.Equal(t, 533, h)
	w, h = dims(t, filepath.Join(cfg.OutputDir, "hero.png"))
	assert.Equal(t, 3000, w)
	assert.Equal(t, 2000, h)

	manifest, err := core.ReadManifest(cfg.ManifestPath)
	require.NoError(t, err)
	assert.Equal(t, core.Manifest{"hero.png": {Widths: map[string]core.Dimensions{
		"800":  {Width: 800, Height: 533},
		"1400": {Width: 1400, Height: 933},
		"2000": {Width: 2000, Height: 1333},
	}}}, manifest)

	first, err := os.ReadFile(filepath.Join(cfg.OutputDir, "hero-1400w.webp"))
	require.NoError(t, err)

	report, err = b.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 4, report.CacheHits)
	assert.EqualValues(t, 0, report.CacheMisses)
	assert.Equal(t, "Processed 4 image variant(s).\nCache hits: 4, cache misses: 0.", report.Summary())

	second, err := os.ReadFile(filepath.Join(cfg.OutputDir, "hero-1400w.webp"))
	require.NoError(t, err)
	assert.Equal(t, first, second, "a warm build restores identical bytes")
}

func TestSettingsChangeInvalidates(t *testing.T) {
	cfg := testConfig(t)
	cfg.Widths = []int{40}
	put(t, filepath.Join(cfg.SourceDir, "icon.png"), makePNG(t, 80, 40))
	put(t, filepath.Join(cfg.SourceDir, "photo.jpg"), makeJPEG(t, 80, 40))

	_, err := newBuilder(t, cfg).Run(context.Background())
	require.NoError(t, err)

	// The lossy WebP quality only feeds the siblings of JPEG sources.
	cfg.WebP.Quality = 60
	report, err := newBuilder(t, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, report.CacheHits)
	assert.EqualValues(t, 2, report.CacheMisses)

	cfg.CacheVersion = "v3"
	report, err = newBuilder(t, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 0, report.CacheHits)
	assert.EqualValues(t, 4, report.CacheMisses)
}

func TestPolicyFlagsAndPassthrough(t *testing.T) {
	cfg := testConfig(t)
	cfg.Widths = []int{40}
	share := makeJPEG(t, 120, 60)
	anim := func() []byte {
		var buf bytes.Buffer
		pal := image.NewPaletted(image.Rect(0, 0, 4, 4), color.Palette{color.Black, color.White})
		require.NoError(t, gif.EncodeAll(&buf, &gif.GIF{Image: []*image.Paletted{pal, pal}, Delay: []int{10, 10}}))
		return buf.Bytes()
	}()
	put(t, filepath.Join(cfg.SourceDir, "me-share.jpg"), share)
	put(t, filepath.Join(cfg.SourceDir, "anim", "spin.gif"), anim)

	report, err := newBuilder(t, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, report.Processed)
	assert.Equal(t, []string{"anim/spin.gif", "me-share.jpg"}, listOutputs(t, cfg.OutputDir))

	copied, err := os.ReadFile(filepath.Join(cfg.OutputDir, "anim", "spin.gif"))
	require.NoError(t, err)
	assert.Equal(t, anim, copied)

	w, h := dims(t, filepath.Join(cfg.OutputDir, "me-share.jpg"))
	assert.Equal(t, 120, w)
	assert.Equal(t, 60, h)

	manifest, err := core.ReadManifest(cfg.ManifestPath)
	require.NoError(t, err)
	assert.Empty(t, manifest, "non-responsive files and GIFs are not listed")
}

func TestNeverUpscales(t *testing.T) {
	cfg := testConfig(t)
	cfg.Widths = []int{40, 100}
	cfg.Verify = true
	put(t, filepath.Join(cfg.SourceDir, "small.png"), makePNG(t, 60, 30))

	_, err := newBuilder(t, cfg).Run(context.Background())
	require.NoError(t, err)

	w, h := dims(t, filepath.Join(cfg.OutputDir, "small-100w.png"))
	assert.Equal(t, 60, w)
	assert.Equal(t, 30, h)

	manifest, err := core.ReadManifest(cfg.ManifestPath)
	require.NoError(t, err)
	assert.Equal(t, core.Dimensions{Width: 60, Height: 30}, manifest["small.png"].Widths["100"])
	assert.Equal(t, core.Dimensions{Width: 40, Height: 20}, manifest["small.png"].Widths["40"])
}

func TestMissingOptimizerIsNonFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Widths = []int{40}
	cfg.Optimizer.Enabled = true
	cfg.Optimizer.Binary = filepath.Join(t.TempDir(), "no-such-oxipng")
	put(t, filepath.Join(cfg.SourceDir, "logo.png"), makePNG(t, 80, 40))

	report, err := newBuilder(t, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, report.OptimizerWarnings)
	assert.FileExists(t, filepath.Join(cfg.OutputDir, "logo-40w.png"))
}

func TestSetOptimizerChangesKeys(t *testing.T) {
	cfg := testConfig(t)
	cfg.Widths = []int{40}
	cfg.Optimizer.Enabled = true
	cfg.Optimizer.Binary = filepath.Join(t.TempDir(), "no-such-oxipng")
	put(t, filepath.Join(cfg.SourceDir, "logo.png"), makePNG(t, 80, 40))

	_, err := newBuilder(t, cfg).Run(context.Background())
	require.NoError(t, err)

	b := newBuilder(t, cfg)
	b.SetOptimizer(stubOptimizer{})
	report, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 0, report.CacheHits, "optimized artifacts key on the optimizer identity")
	assert.EqualValues(t, 2, report.CacheMisses)
}

type stubOptimizer struct{}

func (stubOptimizer) Name() string                           { return "stub:1" }
func (stubOptimizer) Optimize(context.Context, string) error { return nil }

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Widths = nil
	_, err := imagebuilder.New(cfg)
	assert.Error(t, err)
}

// stepLogger counts debug messages.
type stepLogger struct {
	core.NopLogger
	mu     sync.Mutex
	counts map[string]int
}

func (l *stepLogger) Debug(msg string, _ ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts == nil {
		l.counts = make(map[string]int)
	}
	l.counts[msg]++
}

func TestSetLoggerReplacesStageLogging(t *testing.T) {
	cfg := testConfig(t)
	put(t, filepath.Join(cfg.SourceDir, "me-share.jpg"), makeJPEG(t, 40, 20))

	first, second := &stepLogger{}, &stepLogger{}
	b := newBuilder(t, cfg)
	b.SetLogger(first)
	b.SetLogger(second)

	_, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, first.counts["transcode.step.start"])
	assert.Equal(t, 2, second.counts["transcode.step.start"], "resize and encode, each logged once")
	assert.Equal(t, 2, second.counts["transcode.step.done"])
}
