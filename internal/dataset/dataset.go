// Package dataset turns clip records into training samples and batches
// them for the trainer.
package dataset

import (
	"math/rand/v2"

	"github.com/tphakala/birdsed/internal/metadata"
	"github.com/tphakala/birdsed/internal/myaudio"
	"github.com/tphakala/birdsed/internal/softlabel"
)

// Sample is one training example.
type Sample struct {
	Key            string
	Waveform       []float32
	Targets        []float32           // classes, the target the criterion uses
	WeakTargets    []float32           // classes, binary
	WeakSumTargets []float32           // classes, nil for datasets without soft labels
	Framewise      *softlabel.Sequence // n_segments x classes, nil without soft labels
}

// Dataset is an indexed collection of samples. Implementations draw random
// crops from their own generator and are not safe for concurrent use.
type Dataset interface {
	Len() int
	Get(i int) (*Sample, error)
	Records() []*metadata.ClipRecord
}

// AudioReader decodes a clip into mono samples at the requested rate.
type AudioReader func(path string, sampleRate int) ([]float32, error)

// ReadAudio is the default AudioReader.
func ReadAudio(path string, sampleRate int) ([]float32, error) {
	samples, _, err := myaudio.ReadAudioFile(path, sampleRate)
	return samples, err
}

// SoftLabels provides persisted soft-label sequences by clip key.
type SoftLabels interface {
	Load(clip string) (*softlabel.Sequence, error)
	Exists(clip string) bool
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, 0xda7a5e7))
}
