package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// TrainingMetrics tracks the training loop.
type TrainingMetrics struct {
	BatchesTotal    *prometheus.CounterVec
	EMAAveraged     *prometheus.GaugeVec
	EpochsTotal     *prometheus.CounterVec
	EpochScore      *prometheus.GaugeVec
	BestMetric      *prometheus.GaugeVec
	LearningRate    *prometheus.GaugeVec
	EpochDuration   *prometheus.HistogramVec
}

// NewTrainingMetrics creates and registers the training collectors.
func NewTrainingMetrics(registry *prometheus.Registry) (*TrainingMetrics, error) {
	m := &TrainingMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register training metrics: %w", err)
	}
	return m, nil
}

func (m *TrainingMetrics) initMetrics() {
	m.BatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdsed_train_batches_total",
			Help: "Optimization steps taken, partitioned by fold.",
		},
		[]string{"fold"},
	)
	m.EMAAveraged = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "birdsed_ema_models_averaged",
			Help: "Live snapshots folded into the shadow model, partitioned by fold.",
		},
		[]string{"fold"},
	)
	m.EpochsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdsed_train_epochs_total",
			Help: "Finished training epochs, partitioned by fold.",
		},
		[]string{"fold"},
	)
	m.EpochScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "birdsed_epoch_score",
			Help: "Latest validation score per fold, model kind and metric.",
		},
		[]string{"fold", "kind", "metric"},
	)
	m.BestMetric = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "birdsed_best_metric",
			Help: "Best main metric reached so far per fold.",
		},
		[]string{"fold"},
	)
	m.LearningRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "birdsed_learning_rate",
			Help: "Learning rate after the latest scheduler step.",
		},
		[]string{"fold"},
	)
	m.EpochDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "birdsed_epoch_duration_seconds",
			Help:    "Wall time of one epoch including validation.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~34min
		},
		[]string{"fold"},
	)
}

// EpochScores carries the scores of one epoch. Scores maps model kind to
// metric name to value; EMAUpdates counts snapshots averaged since the fold
// started.
type EpochScores struct {
	Fold       int
	Batches    int
	EMAUpdates int
	Scores     map[string]map[string]float64
	BestMetric float64
	LR         float64
	Seconds    float64
}

// RecordEpoch updates every training collector from one epoch.
func (m *TrainingMetrics) RecordEpoch(e EpochScores) {
	fold := strconv.Itoa(e.Fold)
	m.BatchesTotal.WithLabelValues(fold).Add(float64(e.Batches))
	m.EMAAveraged.WithLabelValues(fold).Set(float64(e.EMAUpdates))
	m.EpochsTotal.WithLabelValues(fold).Inc()
	for kind, scores := range e.Scores {
		for metric, v := range scores {
			m.EpochScore.WithLabelValues(fold, kind, metric).Set(v)
		}
	}
	m.BestMetric.WithLabelValues(fold).Set(e.BestMetric)
	m.LearningRate.WithLabelValues(fold).Set(e.LR)
	m.EpochDuration.WithLabelValues(fold).Observe(e.Seconds)
}

// Describe implements the prometheus.Collector interface.
func (m *TrainingMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.BatchesTotal.Describe(ch)
	m.EMAAveraged.Describe(ch)
	m.EpochsTotal.Describe(ch)
	m.EpochScore.Describe(ch)
	m.BestMetric.Describe(ch)
	m.LearningRate.Describe(ch)
	m.EpochDuration.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *TrainingMetrics) Collect(ch chan<- prometheus.Metric) {
	m.BatchesTotal.Collect(ch)
	m.EMAAveraged.Collect(ch)
	m.EpochsTotal.Collect(ch)
	m.EpochScore.Collect(ch)
	m.BestMetric.Collect(ch)
	m.LearningRate.Collect(ch)
	m.EpochDuration.Collect(ch)
}
