package conf

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct. Registry tags
// (model, criterion, optimizer, ...) are checked later when they are
// resolved, so unknown names surface as not-implemented errors there.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	for _, check := range []func(*Settings) error{
		validateAudioSettings,
		validateDatasetSettings,
		validateModelSettings,
		validateTrainSettings,
		validateInferenceSettings,
		validateThresholds,
		validatePrepareSettings,
		validateMonitorSettings,
	} {
		if err := check(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateAudioSettings(s *Settings) error {
	if s.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.samplerate must be positive, got %d", s.Audio.SampleRate)
	}
	return nil
}

func validateDatasetSettings(s *Settings) error {
	var errs []string

	if s.Dataset.Period <= 0 {
		errs = append(errs, fmt.Sprintf("dataset.period must be positive, got %g", s.Dataset.Period))
	}
	if s.Dataset.NSegments <= 0 {
		errs = append(errs, fmt.Sprintf("dataset.nsegments must be positive, got %d", s.Dataset.NSegments))
	}
	// The per-row step in samples is truncated to an integer and must not be zero.
	if s.Dataset.Period > 0 && s.Dataset.NSegments > 0 && s.Audio.SampleRate > 0 {
		step := int(s.Dataset.Period / float64(s.Dataset.NSegments) * float64(s.Audio.SampleRate))
		if step < 1 {
			errs = append(errs, fmt.Sprintf("dataset.nsegments %d is too large for %g s at %d Hz",
				s.Dataset.NSegments, s.Dataset.Period, s.Audio.SampleRate))
		}
	}
	if s.Loader.BatchSize <= 0 {
		errs = append(errs, fmt.Sprintf("loader.batchsize must be positive, got %d", s.Loader.BatchSize))
	}
	if s.Loader.Prefetch < 0 {
		errs = append(errs, "loader.prefetch must not be negative")
	}

	if len(errs) > 0 {
		return errors.New("dataset settings errors: " + strings.Join(errs, ", "))
	}
	return nil
}

func validateModelSettings(s *Settings) error {
	var errs []string

	if s.Model.FrameHop <= 0 {
		errs = append(errs, fmt.Sprintf("model.framehop must be positive, got %g", s.Model.FrameHop))
	}
	if s.Model.Bands <= 0 {
		errs = append(errs, fmt.Sprintf("model.bands must be positive, got %d", s.Model.Bands))
	}
	if s.Model.Threads < 0 {
		errs = append(errs, "model.threads must not be negative")
	}

	if len(errs) > 0 {
		return errors.New("model settings errors: " + strings.Join(errs, ", "))
	}
	return nil
}

func validateTrainSettings(s *Settings) error {
	var errs []string

	if s.Train.Epochs <= 0 {
		errs = append(errs, fmt.Sprintf("train.epochs must be positive, got %d", s.Train.Epochs))
	}
	if s.Train.EMAInterval <= 0 {
		errs = append(errs, fmt.Sprintf("train.emainterval must be positive, got %d", s.Train.EMAInterval))
	}
	if !slices.Contains([]string{"mean", "exponential"}, s.Train.EMAAverage) {
		errs = append(errs, fmt.Sprintf("train.emaaverage must be mean or exponential, got %q", s.Train.EMAAverage))
	}
	if s.Train.EMAAverage == "exponential" && (s.Train.EMADecay <= 0 || s.Train.EMADecay >= 1) {
		errs = append(errs, fmt.Sprintf("train.emadecay must be in (0, 1), got %g", s.Train.EMADecay))
	}
	if s.Split.NSplits < 2 {
		errs = append(errs, fmt.Sprintf("split.nsplits must be at least 2, got %d", s.Split.NSplits))
	}
	for _, fold := range s.Split.Folds {
		if fold < 0 || fold >= s.Split.NSplits {
			errs = append(errs, fmt.Sprintf("split.folds entry %d out of range [0, %d)", fold, s.Split.NSplits))
		}
	}

	if len(errs) > 0 {
		return errors.New("train settings errors: " + strings.Join(errs, ", "))
	}
	return nil
}

func validateInferenceSettings(s *Settings) error {
	var errs []string

	if s.Inference.BatchSize <= 0 {
		errs = append(errs, fmt.Sprintf("inference.batchsize must be positive, got %d", s.Inference.BatchSize))
	}
	if s.Inference.Period <= 0 {
		errs = append(errs, fmt.Sprintf("inference.period must be positive, got %g", s.Inference.Period))
	}
	if !slices.Contains([]string{"segmentwise", "framewise"}, s.Inference.Output) {
		errs = append(errs, fmt.Sprintf("inference.output must be segmentwise or framewise, got %q", s.Inference.Output))
	}

	if len(errs) > 0 {
		return errors.New("inference settings errors: " + strings.Join(errs, ", "))
	}
	return nil
}

func validateThresholds(s *Settings) error {
	var errs []string

	for _, th := range []struct {
		key   string
		value float64
	}{
		{"dataset.threshold", s.Dataset.Threshold},
		{"discovery.threshold", s.Discovery.Threshold},
		{"detection.threshold", s.Detection.Threshold},
	} {
		if th.value < 0 || th.value > 1 {
			errs = append(errs, fmt.Sprintf("%s must be between 0 and 1, got %g", th.key, th.value))
		}
	}

	if len(errs) > 0 {
		return errors.New("threshold errors: " + strings.Join(errs, ", "))
	}
	return nil
}

func validatePrepareSettings(s *Settings) error {
	if s.Prepare.SampleRate <= 0 {
		return fmt.Errorf("prepare.samplerate must be positive, got %d", s.Prepare.SampleRate)
	}
	if s.Prepare.Workers < 0 {
		return errors.New("prepare.workers must not be negative")
	}
	return nil
}

func validateMonitorSettings(s *Settings) error {
	if !s.Monitor.Enabled {
		return nil
	}
	if s.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive, got %d", s.Monitor.Interval)
	}
	if s.Monitor.MemoryWarning > s.Monitor.MemoryCritical {
		return errors.New("monitor.memorywarning must not exceed monitor.memorycritical")
	}
	if s.Monitor.DiskWarning > s.Monitor.DiskCritical {
		return errors.New("monitor.diskwarning must not exceed monitor.diskcritical")
	}
	return nil
}
