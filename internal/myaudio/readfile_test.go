package myaudio

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdsed/internal/errors"
)

func sine(n, rate int, freq float64) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return s
}

func TestWAVRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "clip.wav")
	in := sine(4000, 8000, 440)
	require.NoError(t, WriteWAV(path, in, 8000))

	info, err := GetAudioInfo(path)
	require.NoError(t, err)
	assert.Equal(t, 8000, info.SampleRate)
	assert.Equal(t, 1, info.NumChannels)
	assert.Equal(t, 16, info.BitDepth)
	assert.Equal(t, 4000, info.TotalSamples)
	assert.InDelta(t, 0.5, info.Duration(), 1e-6)

	out, rate, err := ReadAudioFile(path, 0)
	require.NoError(t, err)
	assert.Equal(t, 8000, rate)
	require.Len(t, out, len(in))
	for i := range in {
		assert.InDelta(t, in[i], out[i], 1.0/16384, "sample %d", i)
	}
}

func TestReadAudioFileResamples(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, WriteWAV(path, sine(16000, 16000, 200), 16000))

	out, rate, err := ReadAudioFile(path, 32000)
	require.NoError(t, err)
	assert.Equal(t, 32000, rate)
	assert.Len(t, out, 32000)
}

func TestReadAudioFileErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bogus := filepath.Join(dir, "clip.wav")
	require.NoError(t, os.WriteFile(bogus, []byte("not a wav file at all"), 0o600))

	_, _, err := ReadAudioFile(bogus, 0)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryAudio))

	_, _, err = ReadAudioFile(filepath.Join(dir, "missing.wav"), 0)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))

	_, _, err = ReadAudioFile(filepath.Join(dir, "clip.mp3"), 0)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestDecodeSampleSignExtends24Bit(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int32(-1), decodeSample([]byte{0xff, 0xff, 0xff}, 24))
	assert.Equal(t, int32(-8388608), decodeSample([]byte{0x00, 0x00, 0x80}, 24))
	assert.Equal(t, int32(8388607), decodeSample([]byte{0xff, 0xff, 0x7f}, 24))
	assert.Equal(t, int32(-2), decodeSample([]byte{0xfe, 0xff}, 16))
}

func TestDownmix(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []float32{0.5, -0.25}, downmix([]float32{1, 0, -0.5, 0}, 2))
	mono := []float32{1, 2}
	assert.Equal(t, mono, downmix(mono, 1))
}

func TestResampleAudio(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		n        int
		from, to int
		wantLen  int
	}{
		{"upsample", 100, 16000, 32000, 200},
		{"downsample", 480, 48000, 32000, 320},
		{"identity", 10, 32000, 32000, 10},
		{"very short input", 2, 16000, 32000, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out, err := ResampleAudio(ramp(tt.n), tt.from, tt.to)
			require.NoError(t, err)
			assert.Len(t, out, tt.wantLen)
		})
	}

	_, err := ResampleAudio(ramp(4), 0, 32000)
	assert.Error(t, err)
}

func TestResamplePreservesConstant(t *testing.T) {
	t.Parallel()

	in := make([]float32, 64)
	for i := range in {
		in[i] = 0.25
	}
	out, err := ResampleAudio(in, 22050, 32000)
	require.NoError(t, err)
	for i, v := range out {
		assert.InDelta(t, 0.25, v, 1e-6, "sample %d", i)
	}
}
