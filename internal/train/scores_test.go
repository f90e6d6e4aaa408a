package train

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAveragePrecision(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		truth []float64
		score []float64
		want  float64
	}{
		{"ranked example", []float64{0, 0, 1, 1}, []float64{0.1, 0.4, 0.35, 0.8}, 0.8333333333},
		{"perfect ranking", []float64{1, 1, 0}, []float64{0.9, 0.8, 0.1}, 1},
		{"ties form one threshold", []float64{1, 0}, []float64{0.5, 0.5}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, AveragePrecision(tt.truth, tt.score), 1e-9)
		})
	}

	assert.True(t, math.IsNaN(AveragePrecision([]float64{0, 0}, []float64{0.2, 0.3})))
}

func TestMeanAveragePrecisionScoresEmptyClassAsZero(t *testing.T) {
	t.Parallel()

	truth := [][]float32{{1, 0}, {0, 0}}
	pred := [][]float32{{0.9, 0.1}, {0.2, 0.7}}
	assert.InDelta(t, 0.5, MeanAveragePrecision(truth, pred), 1e-9)
}

func TestClasswiseF1(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		truth [][]float32
		pred  [][]float32
		want  float64
	}{
		{"empty class scores one", [][]float32{{1, 0}, {1, 0}}, [][]float32{{0.9, 0.1}, {0.8, 0.2}}, 1},
		{"false positive on empty class", [][]float32{{1, 0}}, [][]float32{{0.9, 0.6}}, 0.5},
		{"missed class", [][]float32{{1, 1}}, [][]float32{{0.9, 0.1}}, 0.5},
		{"threshold is strict", [][]float32{{1}}, [][]float32{{0.5}}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, ClasswiseF1(tt.truth, tt.pred, 0.5), 1e-9)
		})
	}
}

func TestSampleF1(t *testing.T) {
	t.Parallel()

	truth := [][]float32{{1, 1, 0}, {0, 0, 0}, {0, 1, 0}}
	pred := [][]float32{{0.9, 0.1, 0.1}, {0.1, 0.1, 0.1}, {0.1, 0.9, 0.9}}
	// 2/3, 0 for the empty sample, 2/3
	assert.InDelta(t, 4.0/9.0, SampleF1(truth, pred, 0.5), 1e-9)
}

func TestScoresMapAndKeys(t *testing.T) {
	t.Parallel()

	m := Scores{Loss: 1, MAP: 2, ClasswiseF1: 3, SampleF1: 4}.Map(EMAPrefix)
	assert.Equal(t, map[string]float64{"EMA_loss": 1, "EMA_mAP": 2, "EMA_classwise_f1": 3, "EMA_sample_f1": 4}, m)
	assert.ElementsMatch(t, []string{
		"loss", "mAP", "classwise_f1", "sample_f1",
		"EMA_loss", "EMA_mAP", "EMA_classwise_f1", "EMA_sample_f1",
	}, MetricKeys())
}
