package train

import (
	"math"
	"slices"

	"github.com/montanaflynn/stats"
)

// Metric keys.
const (
	MetricLoss        = "loss"
	MetricMAP         = "mAP"
	MetricClasswiseF1 = "classwise_f1"
	MetricSampleF1    = "sample_f1"

	EMAPrefix = "EMA_"
)

// DefaultF1Threshold binarizes predictions for the F1 scores.
const DefaultF1Threshold = 0.5

// Scores summarizes one evaluation pass.
type Scores struct {
	Loss        float64
	MAP         float64
	ClasswiseF1 float64
	SampleF1    float64
}

// Map returns the scores keyed by metric name with prefix prepended.
func (s Scores) Map(prefix string) map[string]float64 {
	return map[string]float64{
		prefix + MetricLoss:        s.Loss,
		prefix + MetricMAP:         s.MAP,
		prefix + MetricClasswiseF1: s.ClasswiseF1,
		prefix + MetricSampleF1:    s.SampleF1,
	}
}

// MetricKeys lists every key a training epoch reports.
func MetricKeys() []string {
	base := []string{MetricLoss, MetricMAP, MetricClasswiseF1, MetricSampleF1}
	keys := slices.Clone(base)
	for _, k := range base {
		keys = append(keys, EMAPrefix+k)
	}
	return keys
}

// Score computes all scores for samples x classes predictions.
func Score(loss float64, truth, pred [][]float32, threshold float64) Scores {
	return Scores{
		Loss:        loss,
		MAP:         MeanAveragePrecision(truth, pred),
		ClasswiseF1: ClasswiseF1(truth, pred, threshold),
		SampleF1:    SampleF1(truth, pred, threshold),
	}
}

func column(m [][]float32, c int) []float64 {
	out := make([]float64, len(m))
	for i, row := range m {
		out[i] = float64(row[c])
	}
	return out
}

func classes(m [][]float32) int {
	if len(m) == 0 {
		return 0
	}
	return len(m[0])
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m, err := stats.Mean(values)
	if err != nil {
		return 0
	}
	return m
}

// AveragePrecision is the area under the precision-recall step curve for one
// class. Tied scores form one threshold. It is NaN when the class has no
// positive sample.
func AveragePrecision(truth, score []float64) float64 {
	positives := 0
	for _, y := range truth {
		if y > 0.5 {
			positives++
		}
	}
	if positives == 0 {
		return math.NaN()
	}

	order := make([]int, len(score))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		switch {
		case score[a] > score[b]:
			return -1
		case score[a] < score[b]:
			return 1
		}
		return 0
	})

	var ap, tp, seen, prevRecall float64
	for i := 0; i < len(order); {
		j := i
		for j < len(order) && score[order[j]] == score[order[i]] {
			if truth[order[j]] > 0.5 {
				tp++
			}
			seen++
			j++
		}
		recall := tp / float64(positives)
		ap += (recall - prevRecall) * (tp / seen)
		prevRecall = recall
		i = j
	}
	return ap
}

// MeanAveragePrecision averages per-class AP, scoring classes without
// positives as 0.
func MeanAveragePrecision(truth, pred [][]float32) float64 {
	n := classes(truth)
	aps := make([]float64, n)
	for c := range n {
		ap := AveragePrecision(column(truth, c), column(pred, c))
		if math.IsNaN(ap) {
			ap = 0
		}
		aps[c] = ap
	}
	return mean(aps)
}

func f1(tp, fp, fn float64) float64 {
	if d := 2*tp + fp + fn; d > 0 {
		return 2 * tp / d
	}
	return 0
}

// ClasswiseF1 averages per-class F1 at threshold. A class with neither true
// nor predicted positives scores 1.
func ClasswiseF1(truth, pred [][]float32, threshold float64) float64 {
	n := classes(truth)
	scores := make([]float64, n)
	for c := range n {
		var tp, fp, fn float64
		for i := range truth {
			y := truth[i][c] > 0.5
			p := float64(pred[i][c]) > threshold
			switch {
			case y && p:
				tp++
			case p:
				fp++
			case y:
				fn++
			}
		}
		if tp+fp+fn == 0 {
			scores[c] = 1
			continue
		}
		scores[c] = f1(tp, fp, fn)
	}
	return mean(scores)
}

// SampleF1 averages per-sample F1 at threshold. A sample with neither true
// nor predicted positives scores 0.
func SampleF1(truth, pred [][]float32, threshold float64) float64 {
	scores := make([]float64, len(truth))
	for i := range truth {
		var tp, fp, fn float64
		for c := range truth[i] {
			y := truth[i][c] > 0.5
			p := float64(pred[i][c]) > threshold
			switch {
			case y && p:
				tp++
			case p:
				fp++
			case y:
				fn++
			}
		}
		scores[i] = f1(tp, fp, fn)
	}
	return mean(scores)
}
