// Package hooks provides production-ready Hook and Logger implementations.
package hooks

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Skryldev/image-builder/core"
	apperrors "github.com/Skryldev/image-builder/errors"
)

// ── Structured logger adapter ─────────────────────────────────────────────────

// SlogLogger wraps the standard library slog.Logger to satisfy core.Logger.
type SlogLogger struct {
	log *slog.Logger
}

// NewSlogLogger creates a logger backed by slog.
func NewSlogLogger(l *slog.Logger) *SlogLogger { return &SlogLogger{log: l} }

func (s *SlogLogger) Debug(msg string, fields ...interface{}) {
	s.log.Debug(msg, toAttrs(fields)...)
}
func (s *SlogLogger) Info(msg string, fields ...interface{}) {
	s.log.Info(msg, toAttrs(fields)...)
}
func (s *SlogLogger) Warn(msg string, fields ...interface{}) {
	s.log.Warn(msg, toAttrs(fields)...)
}
func (s *SlogLogger) Error(msg string, fields ...interface{}) {
	s.log.Error(msg, toAttrs(fields)...)
}

// With returns a logger that adds fields to every record.
func (s *SlogLogger) With(fields ...interface{}) *SlogLogger {
	return &SlogLogger{log: s.log.With(toAttrs(fields)...)}
}

func toAttrs(fields []interface{}) []any { return fields }

// ── Logging hook ──────────────────────────────────────────────────────────────

// LoggingHook logs before/after each transcoding step.
type LoggingHook struct {
	logger core.Logger
}

// NewLoggingHook creates a LoggingHook.
func NewLoggingHook(l core.Logger) *LoggingHook { return &LoggingHook{logger: l} }

// SetLogger swaps the destination logger. Not safe during a running build.
func (h *LoggingHook) SetLogger(l core.Logger) { h.logger = l }

func (h *LoggingHook) BeforeStep(_ context.Context, stepName string, data *core.VariantData) {
	h.logger.Debug("transcode.step.start",
		"step", stepName,
		"file", data.Source.RelPath,
		"width", data.Variant.Width,
	)
}

func (h *LoggingHook) AfterStep(_ context.Context, stepName string, data *core.VariantData, d time.Duration, err error) {
	if err != nil {
		h.logger.Error("transcode.step.error",
			"step", stepName,
			"file", data.Source.RelPath,
			"duration_ms", d.Milliseconds(),
			"error", err.Error(),
		)
		return
	}
	var size int
	for _, b := range data.Artifacts {
		size += len(b)
	}
	h.logger.Debug("transcode.step.done",
		"step", stepName,
		"file", data.Source.RelPath,
		"duration_ms", d.Milliseconds(),
		"artifacts", len(data.Artifacts),
		"bytes", size,
	)
}

// ── Metrics hook ──────────────────────────────────────────────────────────────

// MetricsHook feeds transcoding step events into a MetricsCollector.
type MetricsHook struct {
	collector core.MetricsCollector
}

// NewMetricsHook creates a MetricsHook.
func NewMetricsHook(c core.MetricsCollector) *MetricsHook { return &MetricsHook{collector: c} }

func (h *MetricsHook) BeforeStep(_ context.Context, _ string, _ *core.VariantData) {}

func (h *MetricsHook) AfterStep(_ context.Context, stepName string, _ *core.VariantData, d time.Duration, err error) {
	h.collector.RecordProcessingTime(stepName, d)
	if err != nil {
		h.collector.RecordError(stepName, ErrorCategory(err))
	}
}

// ErrorCategory returns the category label of err, or "pipeline" when it
// carries none.
func ErrorCategory(err error) string {
	var pe *apperrors.ProcessingError
	if errors.As(err, &pe) {
		return string(pe.Category)
	}
	return string(apperrors.CategoryPipeline)
}
