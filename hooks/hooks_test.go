package hooks

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/image-builder/core"
	apperrors "github.com/Skryldev/image-builder/errors"
)

func variantData() *core.VariantData {
	return &core.VariantData{
		Source:    &core.SourceImage{RelPath: "blog/hero.png"},
		Variant:   core.Variant{Width: 800},
		Artifacts: map[core.ArtifactRole][]byte{core.RolePrimary: []byte("1234")},
	}
}

func TestSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	logger.With("run", "abc").Warn("optimizer skipped", "file", "hero.png")

	out := buf.String()
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, `"run":"abc"`)
	assert.Contains(t, out, `"file":"hero.png"`)
}

func TestLoggingHook(t *testing.T) {
	var buf bytes.Buffer
	hook := NewLoggingHook(NewSlogLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))))
	ctx := context.Background()
	data := variantData()

	hook.BeforeStep(ctx, "encode.primary", data)
	hook.AfterStep(ctx, "encode.primary", data, 3*time.Millisecond, nil)
	hook.AfterStep(ctx, "encode.webp", data, time.Millisecond, errors.New("boom"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "transcode.step.start")
	assert.Contains(t, lines[0], "file=blog/hero.png")
	assert.Contains(t, lines[1], "bytes=4")
	assert.Contains(t, lines[2], "level=ERROR")
	assert.Contains(t, lines[2], "error=boom")
}

func TestMetricsHookAndPromMetrics(t *testing.T) {
	m := NewPromMetrics()
	hook := NewMetricsHook(m)
	ctx := context.Background()

	hook.AfterStep(ctx, "encode.webp", variantData(), 2*time.Millisecond, nil)
	hook.AfterStep(ctx, "encode.webp", variantData(), time.Millisecond,
		apperrors.New(apperrors.CategoryEncode, "encode.webp", apperrors.ErrUnsupportedFormat))
	hook.AfterStep(ctx, "resize", variantData(), time.Millisecond, errors.New("plain"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("encode.webp", "encode")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("resize", "pipeline")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.stageDuration), "one histogram series per stage")
}

func TestPromMetricsCounters(t *testing.T) {
	m := NewPromMetrics()
	m.RecordFile(core.FormatPNG)
	m.RecordFile(core.FormatPNG)
	m.RecordFile(core.FormatGIF)
	m.RecordVariant(true)
	m.RecordVariant(false)
	m.RecordVariant(false)
	m.RecordWarning("optimize")
	m.RecordThroughput(1024)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.files.WithLabelValues("png")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.files.WithLabelValues("gif")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.variants.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.variants.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.warnings.WithLabelValues("optimize")))
	assert.Equal(t, 1024.0, testutil.ToFloat64(m.outputBytes))
}

func TestWriteTextfile(t *testing.T) {
	m := NewPromMetrics()
	m.RecordVariant(true)
	path := filepath.Join(t.TempDir(), "imagebuild.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `imagebuild_variants_total{result="hit"} 1`)
}

func TestErrorCategory(t *testing.T) {
	assert.Equal(t, "cache", ErrorCategory(apperrors.Wrap(apperrors.CategoryCache, "op", errors.New("x"))))
	assert.Equal(t, "pipeline", ErrorCategory(errors.New("x")))
}
