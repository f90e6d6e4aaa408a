package train

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/tphakala/birdsed/internal/errors"
	"github.com/tphakala/birdsed/internal/model"
)

// Checkpoint file names inside a fold directory.
const (
	BestCheckpoint = "best.ckpt"
	EMACheckpoint  = "ema.ckpt"
)

// Checkpoint is the persisted state of a model.
type Checkpoint struct {
	ModelStateDict map[string][]float64 `json:"model_state_dict"`
	Arch           string               `json:"arch"`
	Epoch          int                  `json:"epoch"`
	Metric         *float64             `json:"metric,omitempty"`
	RunID          string               `json:"run_id,omitempty"`
}

// NewCheckpoint captures m. Non-finite metrics are left out.
func NewCheckpoint(m model.Trainable, epoch int, metric float64, runID string) *Checkpoint {
	ck := &Checkpoint{ModelStateDict: m.StateDict(), Arch: m.Arch(), Epoch: epoch, RunID: runID}
	if !math.IsNaN(metric) && !math.IsInf(metric, 0) {
		ck.Metric = &metric
	}
	return ck
}

// SaveCheckpoint writes ck as zstd-compressed JSON, replacing path
// atomically.
func SaveCheckpoint(path string, ck *Checkpoint) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return checkpointError(path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ckpt-*")
	if err != nil {
		return checkpointError(path, err)
	}
	defer os.Remove(tmp.Name())

	enc, err := zstd.NewWriter(tmp)
	if err != nil {
		tmp.Close()
		return checkpointError(path, err)
	}
	if err := json.NewEncoder(enc).Encode(ck); err != nil {
		enc.Close()
		tmp.Close()
		return checkpointError(path, fmt.Errorf("encoding checkpoint: %w", err))
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		return checkpointError(path, err)
	}
	if err := tmp.Close(); err != nil {
		return checkpointError(path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return checkpointError(path, err)
	}
	return nil
}

// LoadCheckpoint reads a checkpoint written by SaveCheckpoint.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		cat := errors.CategoryFileIO
		if os.IsNotExist(err) {
			cat = errors.CategoryNotFound
		}
		return nil, errors.New(err).
			Component("train").
			Category(cat).
			FileContext(path).
			Build()
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, checkpointError(path, err)
	}
	defer dec.Close()

	var ck Checkpoint
	if err := json.NewDecoder(dec).Decode(&ck); err != nil {
		return nil, checkpointError(path, fmt.Errorf("decoding checkpoint: %w", err))
	}
	return &ck, nil
}

// Restore loads the checkpoint weights into m after checking the
// architecture.
func (ck *Checkpoint) Restore(m model.Trainable) error {
	if ck.Arch != m.Arch() {
		return errors.Newf("checkpoint holds %s weights, model is %s", ck.Arch, m.Arch()).
			Component("train").
			Category(errors.CategoryCheckpoint).
			Build()
	}
	return m.LoadStateDict(ck.ModelStateDict)
}

func checkpointError(path string, err error) error {
	return errors.New(err).
		Component("train").
		Category(errors.CategoryCheckpoint).
		FileContext(path).
		Build()
}
