// Package conf loads, validates and persists the pipeline configuration.
package conf

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/birdsed/internal/errors"
	"github.com/tphakala/birdsed/internal/logger"
)

//go:embed config.yaml
var defaultConfigYAML []byte

// EnvPrefix is the prefix of environment variable overrides, e.g.
// BIRDSED_TRAIN_EPOCHS=10.
const EnvPrefix = "BIRDSED"

// Settings is the complete pipeline configuration.
type Settings struct {
	Debug bool // true to enable debug logging

	Main struct {
		Name   string // experiment name, used in run directories
		Seed   uint64 // seed for crops, shuffling and fold assignment
		LogDir string // root of per-fold checkpoint directories
	}

	Logging logger.LoggingConfig

	Audio     AudioSettings
	Data      DataSettings
	Dataset   DatasetSettings
	Loader    LoaderSettings
	Model     ModelSettings
	Train     TrainSettings
	Criterion CriterionSettings
	Optimizer OptimizerSettings
	Scheduler SchedulerSettings
	Split     SplitSettings
	Inference InferenceSettings
	Discovery DiscoverySettings
	Detection DetectionSettings
	Prepare   PrepareSettings
	Datastore DatastoreSettings
	Metrics   MetricsSettings
	Monitor   MonitorSettings
	Sentry    SentrySettings
}

// AudioSettings describes the decoded waveform all components agree on.
type AudioSettings struct {
	SampleRate int    // target sample rate in Hz
	Root       string // directory holding <ebird_code>/<filename> audio
}

// DataSettings points at metadata and label artifacts.
type DataSettings struct {
	TrainCSV          string   // clip metadata csv
	AdditionalLabels  string   // discovery json merged into secondary labels, optional
	SkipList          string   // skip list written by prepare
	SoftLabelDir      string   // directory of <clip>.npy soft labels
	IncludeBackground bool     // add background species to label vectors
	Countries         []string // keep only recordings from these countries, empty = all
}

// DatasetSettings selects and parameterizes the training dataset.
type DatasetSettings struct {
	Name      string  // "clip" or "label-correction"
	Period    float64 // crop length in seconds
	NSegments int     // soft-label rows per crop
	Threshold float64 // weak target corroboration threshold
	CacheTTL  int     // soft-label cache ttl in minutes, 0 disables expiry
}

// LoaderSettings controls batching.
type LoaderSettings struct {
	BatchSize int
	Shuffle   bool
	Prefetch  int // batches buffered ahead of the consumer
}

// ModelSettings selects the architecture.
type ModelSettings struct {
	Arch       string  // "linear-sed" or "tflite"
	FrameHop   float64 // seconds per output frame of linear-sed
	Bands      int     // energy bands per frame of linear-sed
	ModelPath  string  // tflite model file
	Frames     int     // output frames per inference segment for tflite models
	Threads    int     // tflite threads, 0 = derive from cpu
	UseXNNPACK bool
}

// TrainSettings drives the EMA trainer.
type TrainSettings struct {
	Epochs      int
	MainMetric  string  // metric key used for best checkpoint selection
	EMAInterval int     // batches between shadow updates
	EMAAverage  string  // "mean" or "exponential"
	EMADecay    float64 // weight of the previous shadow for "exponential"
}

// CriterionSettings selects the loss.
type CriterionSettings struct {
	Name            string  // "bce" or "sed-bce"
	FramewiseWeight float64 // weight of the framewise term of sed-bce
}

// OptimizerSettings selects the optimizer.
type OptimizerSettings struct {
	Name        string // "sgd" or "adam"
	LR          float64
	Momentum    float64
	WeightDecay float64
	Beta1       float64
	Beta2       float64
	Eps         float64
}

// SchedulerSettings selects the learning-rate schedule.
type SchedulerSettings struct {
	Name     string // "cosine", "step" or "none"
	TMax     int
	EtaMin   float64
	StepSize int
	Gamma    float64
}

// SplitSettings selects the fold splitter.
type SplitSettings struct {
	Name    string // "kfold" or "stratified-kfold"
	NSplits int
	Folds   []int // folds to run, empty = all
}

// InferenceSettings drives soft-label generation and event detection.
type InferenceSettings struct {
	BatchSize   int      // segments per sub-batch
	Period      float64  // segment length in seconds
	Output      string   // "segmentwise" or "framewise"
	Checkpoints []string // ensemble members, one checkpoint per model
}

// DiscoverySettings controls missing-label discovery.
type DiscoverySettings struct {
	Enabled   bool
	Threshold float64
	Output    string // json file
}

// DetectionSettings controls event extraction.
type DetectionSettings struct {
	Threshold  float64
	Output     string // csv file
	AllClasses bool   // threshold every class, not only declared ones
}

// PrepareSettings controls resampling.
type PrepareSettings struct {
	InputDir   string
	OutputDir  string
	SampleRate int
	Workers    int // 0 = derive from cpu
	Splits     int // number of work chunks
}

// DatastoreSettings configures the run history database.
type DatastoreSettings struct {
	Enabled bool
	Path    string
}

// MetricsSettings configures Prometheus output.
type MetricsSettings struct {
	Enabled  bool
	Textfile string // written when the command finishes
	Listen   string // host:port serving /metrics while running, empty = off
}

// MonitorSettings configures host resource checks during long runs.
type MonitorSettings struct {
	Enabled        bool
	Interval       int     // seconds between checks
	MemoryWarning  float64 // percent
	MemoryCritical float64 // percent
	DiskWarning    float64 // percent
	DiskCritical   float64 // percent
	Hysteresis     float64 // percent below a threshold before it clears
	Paths          []string
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	Enabled bool
	DSN     string
}

// Load reads configuration into a new Settings value. Values resolve in the
// order flags bound to v, environment, configFile (or config.yaml found on
// the search path), built-in defaults.
func Load(v *viper.Viper, configFile string) (*Settings, error) {
	if err := initViper(v, configFile); err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error unmarshaling config into struct: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

// initViper registers defaults, environment overrides and the config file.
func initViper(v *viper.Viper, configFile string) error {
	setDefaultConfig(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "birdsed"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			GetLogger().Info("no config file found, using defaults")
			return nil
		}
		return errors.New(fmt.Errorf("fatal error reading config file: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			FileContext(configFile).
			Build()
	}

	GetLogger().Debug("loaded config file", logger.String("path", v.ConfigFileUsed()))
	return nil
}

// DefaultConfig returns the commented default configuration file.
func DefaultConfig() []byte {
	out := make([]byte, len(defaultConfigYAML))
	copy(out, defaultConfigYAML)
	return out
}

// SaveYAMLConfig writes settings to configPath atomically. It is used to
// snapshot the effective configuration into every run directory.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}

	return nil
}
