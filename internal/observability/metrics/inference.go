package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// InferenceMetrics tracks soft-label generation, discovery, detection and
// preprocessing.
type InferenceMetrics struct {
	ClipsProcessed    *prometheus.CounterVec
	ClipsSkipped      *prometheus.CounterVec
	SoftLabelsWritten prometheus.Counter
	Discoveries       prometheus.Counter
	EventsDetected    *prometheus.CounterVec
	ClipDuration      *prometheus.HistogramVec
	ProcessRSS        prometheus.Gauge
}

// NewInferenceMetrics creates and registers the inference collectors.
func NewInferenceMetrics(registry *prometheus.Registry) (*InferenceMetrics, error) {
	m := &InferenceMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register inference metrics: %w", err)
	}
	return m, nil
}

func (m *InferenceMetrics) initMetrics() {
	m.ClipsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdsed_clips_processed_total",
			Help: "Clips handled per command and outcome.",
		},
		[]string{"command", "status"},
	)
	m.ClipsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdsed_clips_skipped_total",
			Help: "Clips that produced no output, by reason.",
		},
		[]string{"command", "reason"},
	)
	m.SoftLabelsWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "birdsed_soft_labels_written_total",
			Help: "Soft-label artifacts written.",
		},
	)
	m.Discoveries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "birdsed_discovered_labels_total",
			Help: "Undeclared species codes found by missing-label discovery.",
		},
	)
	m.EventsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdsed_events_detected_total",
			Help: "Sound events found, by species code.",
		},
		[]string{"code"},
	)
	m.ClipDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "birdsed_clip_process_duration_seconds",
			Help:    "Time taken to process one clip.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		[]string{"command"},
	)
	m.ProcessRSS = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "birdsed_process_resident_bytes",
			Help: "Resident memory of the process at the latest snapshot.",
		},
	)
}

// RecordClip counts one processed clip and its duration.
func (m *InferenceMetrics) RecordClip(command string, seconds float64, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.ClipsProcessed.WithLabelValues(command, status).Inc()
	m.ClipDuration.WithLabelValues(command).Observe(seconds)
}

// RecordSkip counts a clip that produced no output.
func (m *InferenceMetrics) RecordSkip(command, reason string) {
	m.ClipsSkipped.WithLabelValues(command, reason).Inc()
}

// RecordEvents counts detected events per code.
func (m *InferenceMetrics) RecordEvents(codes ...string) {
	for _, c := range codes {
		m.EventsDetected.WithLabelValues(c).Inc()
	}
}

// Describe implements the prometheus.Collector interface.
func (m *InferenceMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.ClipsProcessed.Describe(ch)
	m.ClipsSkipped.Describe(ch)
	ch <- m.SoftLabelsWritten.Desc()
	ch <- m.Discoveries.Desc()
	m.EventsDetected.Describe(ch)
	m.ClipDuration.Describe(ch)
	ch <- m.ProcessRSS.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *InferenceMetrics) Collect(ch chan<- prometheus.Metric) {
	m.ClipsProcessed.Collect(ch)
	m.ClipsSkipped.Collect(ch)
	ch <- m.SoftLabelsWritten
	ch <- m.Discoveries
	m.EventsDetected.Collect(ch)
	m.ClipDuration.Collect(ch)
	ch <- m.ProcessRSS
}
