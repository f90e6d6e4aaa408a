// Package myaudio decodes WAV and FLAC recordings into mono float32 samples,
// resamples them to the pipeline sample rate and cuts them into fixed-length
// segments for batched inference.
package myaudio
