package myaudio

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-audio/wav"
)

func readWAVInfo(file *os.File) (AudioInfo, error) {
	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()

	if !decoder.IsValidFile() {
		return AudioInfo{}, errors.New("invalid WAV file format")
	}

	if err := validateWAVFormat(decoder); err != nil {
		return AudioInfo{}, err
	}

	if err := decoder.FwdToPCM(); err != nil {
		return AudioInfo{}, fmt.Errorf("error locating WAV data chunk: %w", err)
	}
	frameSize := int(decoder.BitDepth/8) * int(decoder.NumChans)

	return AudioInfo{
		SampleRate:   int(decoder.SampleRate),
		TotalSamples: decoder.PCMSize / frameSize,
		NumChannels:  int(decoder.NumChans),
		BitDepth:     int(decoder.BitDepth),
	}, nil
}

func readWAV(file *os.File) ([]float32, int, error) {
	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, 0, errors.New("input is not a valid WAV audio file")
	}
	if err := validateWAVFormat(decoder); err != nil {
		return nil, 0, err
	}

	divisor, err := getAudioDivisor(int(decoder.BitDepth))
	if err != nil {
		return nil, 0, err
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("error reading WAV samples: %w", err)
	}

	interleaved := make([]float32, len(buf.Data))
	for i, sample := range buf.Data {
		interleaved[i] = float32(sample) / divisor
	}

	return downmix(interleaved, int(decoder.NumChans)), int(decoder.SampleRate), nil
}

func validateWAVFormat(decoder *wav.Decoder) error {
	if decoder.BitDepth != 16 && decoder.BitDepth != 24 && decoder.BitDepth != 32 {
		return fmt.Errorf("unsupported bit depth: %d", decoder.BitDepth)
	}
	if decoder.NumChans == 0 {
		return errors.New("WAV file declares zero channels")
	}
	return nil
}
