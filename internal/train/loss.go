package train

import (
	"fmt"
	"math"

	"github.com/tphakala/birdsed/internal/dataset"
	"github.com/tphakala/birdsed/internal/errors"
	"github.com/tphakala/birdsed/internal/model"
)

// Criterion tags.
const (
	CriterionBCE    = "bce"
	CriterionSEDBCE = "sed-bce"
)

const probEps = 1e-7

// Criterion scores model outputs against a batch. When withGrad is set the
// gradient with respect to the outputs is returned as well.
type Criterion interface {
	Name() string
	Compute(out model.Output, b *dataset.Batch, withGrad bool) (float64, *model.OutputGrad, error)
}

// BCE is binary cross-entropy between the clipwise output and the batch
// targets, averaged over samples and classes.
type BCE struct{}

func (BCE) Name() string { return CriterionBCE }

func (BCE) Compute(out model.Output, b *dataset.Batch, withGrad bool) (float64, *model.OutputGrad, error) {
	loss, grad, err := bceMatrix(out.Clipwise, b.Targets, withGrad)
	if err != nil {
		return 0, nil, err
	}
	if !withGrad {
		return loss, nil, nil
	}
	return loss, &model.OutputGrad{Clipwise: grad}, nil
}

// SEDBCE adds framewise BCE against the soft-label sequence to the clipwise
// BCE: loss = clip + FramewiseWeight * frame.
type SEDBCE struct {
	FramewiseWeight float64
}

func (SEDBCE) Name() string { return CriterionSEDBCE }

func (c SEDBCE) Compute(out model.Output, b *dataset.Batch, withGrad bool) (float64, *model.OutputGrad, error) {
	clip, clipGrad, err := bceMatrix(out.Clipwise, b.Targets, withGrad)
	if err != nil {
		return 0, nil, err
	}
	if b.Framewise == nil {
		return 0, nil, lossError(fmt.Errorf("%s needs framewise soft targets", CriterionSEDBCE))
	}
	if len(out.Framewise) != len(b.Framewise) {
		return 0, nil, lossError(fmt.Errorf("framewise output has %d items, targets have %d", len(out.Framewise), len(b.Framewise)))
	}

	var frame float64
	var frameGrad [][][]float64
	if withGrad {
		frameGrad = make([][][]float64, len(out.Framewise))
	}
	for i := range out.Framewise {
		l, g, err := bceMatrix(out.Framewise[i], b.Framewise[i], withGrad)
		if err != nil {
			return 0, nil, err
		}
		frame += l / float64(len(out.Framewise))
		if withGrad {
			scale := c.FramewiseWeight / float64(len(out.Framewise))
			for _, row := range g {
				for k := range row {
					row[k] *= scale
				}
			}
			frameGrad[i] = g
		}
	}

	loss := clip + c.FramewiseWeight*frame
	if !withGrad {
		return loss, nil, nil
	}
	return loss, &model.OutputGrad{Clipwise: clipGrad, Framewise: frameGrad}, nil
}

// bceMatrix returns mean binary cross-entropy over a rows x cols matrix and
// its gradient with respect to pred.
func bceMatrix(pred, target [][]float32, withGrad bool) (float64, [][]float64, error) {
	if len(pred) != len(target) {
		return 0, nil, lossError(fmt.Errorf("prediction has %d rows, target has %d", len(pred), len(target)))
	}
	if len(pred) == 0 {
		return 0, nil, lossError(fmt.Errorf("empty prediction"))
	}

	n := 0
	for i := range pred {
		if len(pred[i]) != len(target[i]) {
			return 0, nil, lossError(fmt.Errorf("row %d has %d predictions for %d targets", i, len(pred[i]), len(target[i])))
		}
		n += len(pred[i])
	}

	var loss float64
	var grad [][]float64
	if withGrad {
		grad = make([][]float64, len(pred))
	}
	for i := range pred {
		if withGrad {
			grad[i] = make([]float64, len(pred[i]))
		}
		for k, pv := range pred[i] {
			p := min(max(float64(pv), probEps), 1-probEps)
			y := float64(target[i][k])
			loss -= y*math.Log(p) + (1-y)*math.Log(1-p)
			if withGrad {
				grad[i][k] = (p - y) / (p * (1 - p)) / float64(n)
			}
		}
	}
	return loss / float64(n), grad, nil
}

func lossError(err error) error {
	return errors.New(err).
		Component("train").
		Category(errors.CategoryTraining).
		Build()
}
