package model

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// bandEnergies computes log band energies for consecutive non-overlapping
// frames of hop samples. Trailing samples that do not fill a frame are
// ignored. The FFT is not safe for concurrent use.
type bandEnergies struct {
	hop   int
	bands int
	fft   *fourier.FFT
	frame []float64
	coef  []complex128
}

func newBandEnergies(hop, bands int) *bandEnergies {
	return &bandEnergies{
		hop:   hop,
		bands: bands,
		fft:   fourier.NewFFT(hop),
		frame: make([]float64, hop),
	}
}

func (be *bandEnergies) frames(n int) int { return n / be.hop }

// compute returns frames x bands features for one waveform.
func (be *bandEnergies) compute(wave []float32) [][]float64 {
	t := be.frames(len(wave))
	out := make([][]float64, t)
	bins := be.hop / 2 // DC excluded
	for f := range t {
		for i := range be.hop {
			be.frame[i] = float64(wave[f*be.hop+i])
		}
		be.coef = be.fft.Coefficients(be.coef, be.frame)

		row := make([]float64, be.bands)
		for b := range be.bands {
			lo := 1 + b*bins/be.bands
			hi := 1 + (b+1)*bins/be.bands
			if hi <= lo {
				hi = lo + 1
			}
			var power float64
			for k := lo; k < hi && k < len(be.coef); k++ {
				a := cmplx.Abs(be.coef[k])
				power += a * a
			}
			row[b] = math.Log(1e-10 + power/float64(hi-lo)/float64(be.hop))
		}
		out[f] = row
	}
	return out
}
