package hooks

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Skryldev/image-builder/core"
)

const namespace = "imagebuild"

// PromMetrics collects build metrics in a private Prometheus registry;
// safe for concurrent use.
type PromMetrics struct {
	registry *prometheus.Registry

	stageDuration *prometheus.HistogramVec
	errors        *prometheus.CounterVec
	files         *prometheus.CounterVec
	variants      *prometheus.CounterVec
	warnings      *prometheus.CounterVec
	outputBytes   prometheus.Counter
}

var _ core.MetricsCollector = (*PromMetrics)(nil)

// NewPromMetrics creates the collectors and registers them.
func NewPromMetrics() *PromMetrics {
	m := &PromMetrics{
		registry: prometheus.NewRegistry(),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each transcoding stage.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"stage"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Failures by stage and error category.",
		}, []string{"stage", "category"}),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_files_total",
			Help:      "Source images processed, by format.",
		}, []string{"format"}),
		variants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "variants_total",
			Help:      "Variants processed, by cache result.",
		}, []string{"result"}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warnings_total",
			Help:      "Non-fatal failures, by stage.",
		}, []string{"stage"}),
		outputBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_bytes_total",
			Help:      "Bytes written to the output tree.",
		}),
	}
	m.registry.MustRegister(m.stageDuration, m.errors, m.files, m.variants, m.warnings, m.outputBytes)
	return m
}

// Registry exposes the underlying registry, e.g. for an HTTP handler.
func (m *PromMetrics) Registry() *prometheus.Registry { return m.registry }

func (m *PromMetrics) RecordProcessingTime(stepName string, d interface{ Seconds() float64 }) {
	m.stageDuration.WithLabelValues(stepName).Observe(d.Seconds())
}

func (m *PromMetrics) RecordThroughput(bytes int64) {
	m.outputBytes.Add(float64(bytes))
}

func (m *PromMetrics) RecordError(stepName string, category string) {
	m.errors.WithLabelValues(stepName, category).Inc()
}

func (m *PromMetrics) RecordFile(format core.Format) {
	m.files.WithLabelValues(string(format)).Inc()
}

func (m *PromMetrics) RecordVariant(cacheHit bool) {
	result := "miss"
	if cacheHit {
		result = "hit"
	}
	m.variants.WithLabelValues(result).Inc()
}

func (m *PromMetrics) RecordWarning(stepName string) {
	m.warnings.WithLabelValues(stepName).Inc()
}

// WriteTextfile writes the current values in the Prometheus text format,
// suitable for the node_exporter textfile collector.
func (m *PromMetrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
