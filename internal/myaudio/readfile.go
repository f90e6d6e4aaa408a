package myaudio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tphakala/birdsed/internal/errors"
	"github.com/tphakala/birdsed/internal/logger"
)

// AudioInfo holds basic information about an audio file
type AudioInfo struct {
	SampleRate   int
	TotalSamples int // per channel
	NumChannels  int
	BitDepth     int
}

// Duration returns the length of the recording in seconds.
func (ai AudioInfo) Duration() float64 {
	if ai.SampleRate == 0 {
		return 0
	}
	return float64(ai.TotalSamples) / float64(ai.SampleRate)
}

// SupportedExtension reports whether path has an extension ReadAudioFile can
// decode.
func SupportedExtension(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".flac":
		return true
	}
	return false
}

// GetAudioInfo returns basic information about the audio file
func GetAudioInfo(filePath string) (AudioInfo, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return AudioInfo{}, openError(filePath, err)
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(filePath))
	var info AudioInfo
	switch ext {
	case ".wav":
		info, err = readWAVInfo(file)
	case ".flac":
		info, err = readFLACInfo(file)
	default:
		return AudioInfo{}, unsupportedFormat(filePath)
	}
	if err != nil {
		return AudioInfo{}, decodeError(filePath, err)
	}
	return info, nil
}

// ReadAudioFile decodes a WAV or FLAC file into mono float32 samples in
// [-1, 1). Multichannel audio is averaged down to one channel. When
// targetRate is positive and differs from the file's rate the samples are
// resampled. The returned rate is the rate of the returned samples.
func ReadAudioFile(filePath string, targetRate int) ([]float32, int, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, 0, openError(filePath, err)
	}
	defer file.Close()

	var (
		samples []float32
		rate    int
	)
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".wav":
		samples, rate, err = readWAV(file)
	case ".flac":
		samples, rate, err = readFLAC(file)
	default:
		return nil, 0, unsupportedFormat(filePath)
	}
	if err != nil {
		return nil, 0, decodeError(filePath, err)
	}

	if targetRate > 0 && rate != targetRate {
		GetLogger().Debug("resampling audio",
			logger.String("file", filepath.Base(filePath)),
			logger.Int("from", rate),
			logger.Int("to", targetRate))
		samples, err = ResampleAudio(samples, rate, targetRate)
		if err != nil {
			return nil, 0, decodeError(filePath, fmt.Errorf("error resampling audio: %w", err))
		}
		rate = targetRate
	}

	return samples, rate, nil
}

// getAudioDivisor returns the divisor that maps integer PCM samples of the
// given bit depth to [-1, 1).
func getAudioDivisor(bitDepth int) (float32, error) {
	switch bitDepth {
	case 16:
		return 32768.0, nil
	case 24:
		return 8388608.0, nil
	case 32:
		return 2147483648.0, nil
	default:
		return 0, fmt.Errorf("unsupported audio bit depth: %d", bitDepth)
	}
}

// downmix averages interleaved channels into one.
func downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	mono := make([]float32, frames)
	scale := 1 / float32(channels)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += interleaved[i*channels+c]
		}
		mono[i] = sum * scale
	}
	return mono
}

func openError(path string, err error) error {
	return errors.New(fmt.Errorf("error opening audio file: %w", err)).
		Component("myaudio").
		Category(errors.CategoryFileIO).
		FileContext(path).
		Build()
}

func decodeError(path string, err error) error {
	return errors.New(err).
		Component("myaudio").
		Category(errors.CategoryAudio).
		FileContext(path).
		Build()
}

func unsupportedFormat(path string) error {
	return errors.Newf("unsupported audio format: %s", filepath.Ext(path)).
		Component("myaudio").
		Category(errors.CategoryValidation).
		FileContext(path).
		Build()
}
