// Package tflite runs exported SED networks with TensorFlow Lite.
//
// The network must take one float32 waveform tensor shaped [1, samples] and
// produce a framewise tensor shaped [1, frames, classes]. A second output
// shaped [1, classes] is used as the clipwise output when present; otherwise
// the clipwise output is the framewise maximum.
package tflite

import (
	"fmt"
	"os"
	"sync"
	"time"

	tfl "github.com/tphakala/go-tflite"
	"github.com/tphakala/go-tflite/delegates/xnnpack"

	"github.com/tphakala/birdsed/internal/cpuspec"
	"github.com/tphakala/birdsed/internal/errors"
	"github.com/tphakala/birdsed/internal/logger"
	"github.com/tphakala/birdsed/internal/model"
)

// ArchTFLite is the registry tag of Model.
const ArchTFLite = "tflite"

// Options configures the interpreter.
type Options struct {
	ModelPath  string
	Threads    int // 0 = derive from cpu
	UseXNNPACK bool
}

// Model is a model.Model backed by a TensorFlow Lite interpreter. Calls are
// serialized because the interpreter owns a single set of tensors.
type Model struct {
	mu          sync.Mutex
	tfModel     *tfl.Model
	options     *tfl.InterpreterOptions
	interpreter *tfl.Interpreter
	samples     int
	frames      int
	classes     int
	framewise   int // output tensor index
	clipwise    int // output tensor index, -1 when absent
}

// New loads the model file and allocates its tensors.
func New(opts Options) (*Model, error) {
	start := time.Now()
	log := GetLogger()

	modelData, err := os.ReadFile(opts.ModelPath)
	if err != nil {
		return nil, errors.New(fmt.Errorf("error reading model file: %w", err)).
			Component("model").
			Category(errors.CategoryModelLoad).
			FileContext(opts.ModelPath).
			Build()
	}

	tfModel := tfl.NewModel(modelData)
	if tfModel == nil {
		return nil, errors.New(fmt.Errorf("cannot load TensorFlow Lite model")).
			Component("model").
			Category(errors.CategoryModelInit).
			FileContext(opts.ModelPath).
			Context("model_size_mb", len(modelData)/1024/1024).
			Timing("model-init", time.Since(start)).
			Build()
	}

	threads := cpuspec.GetCPUSpec().InferenceThreads(opts.Threads)
	options := tfl.NewInterpreterOptions()
	if opts.UseXNNPACK {
		delegate := xnnpack.New(xnnpack.DelegateOptions{NumThreads: int32(max(1, threads-1))}) //nolint:gosec // G115: bounded by CPU count
		if delegate == nil {
			log.Warn("failed to create XNNPACK delegate, falling back to default CPU")
			options.SetNumThread(threads)
		} else {
			options.AddDelegate(delegate)
			options.SetNumThread(1)
		}
	} else {
		options.SetNumThread(threads)
	}
	options.SetErrorReporter(func(msg string, _ any) {
		GetLogger().Error("TFLite error", logger.String("message", msg))
	}, nil)

	interpreter := tfl.NewInterpreter(tfModel, options)
	if interpreter == nil {
		return nil, initError(opts.ModelPath, fmt.Errorf("cannot create interpreter"))
	}
	if status := interpreter.AllocateTensors(); status != tfl.OK {
		return nil, initError(opts.ModelPath, fmt.Errorf("tensor allocation failed"))
	}

	m := &Model{
		tfModel:     tfModel,
		options:     options,
		interpreter: interpreter,
		clipwise:    -1,
		framewise:   -1,
	}
	if err := m.inspectTensors(); err != nil {
		m.Close()
		return nil, initError(opts.ModelPath, err)
	}

	log.Info("TFLite model initialized",
		logger.String("model", opts.ModelPath),
		logger.Int("threads", threads),
		logger.Bool("xnnpack", opts.UseXNNPACK),
		logger.Int("samples", m.samples),
		logger.Int("frames", m.frames),
		logger.Int("classes", m.classes),
		logger.Duration("init_time", time.Since(start)))
	return m, nil
}

func (m *Model) inspectTensors() error {
	input := m.interpreter.GetInputTensor(0)
	if input == nil {
		return fmt.Errorf("cannot get input tensor")
	}
	if input.NumDims() != 2 {
		return fmt.Errorf("input tensor has %d dims, expected 2", input.NumDims())
	}
	m.samples = input.Dim(1)

	for i := range m.interpreter.GetOutputTensorCount() {
		out := m.interpreter.GetOutputTensor(i)
		switch out.NumDims() {
		case 3:
			m.framewise = i
			m.frames = out.Dim(1)
			m.classes = out.Dim(2)
		case 2:
			m.clipwise = i
		}
	}
	if m.framewise < 0 {
		return fmt.Errorf("model has no [1, frames, classes] output")
	}
	return nil
}

// NumClasses returns the width of the framewise output.
func (m *Model) NumClasses() int { return m.classes }

// Frames returns the framewise output length for one input.
func (m *Model) Frames() int { return m.frames }

// InputSamples returns the waveform length the model expects.
func (m *Model) InputSamples() int { return m.samples }

// Predict runs the interpreter once per waveform. Waveforms must have
// exactly InputSamples samples.
func (m *Model) Predict(batch [][]float32) (model.Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := model.Output{
		Clipwise:  make([][]float32, len(batch)),
		Framewise: make([][][]float32, len(batch)),
	}

	for b, wave := range batch {
		if len(wave) != m.samples {
			return model.Output{}, inferenceError(fmt.Errorf("waveform has %d samples, model expects %d", len(wave), m.samples))
		}
		copy(m.interpreter.GetInputTensor(0).Float32s(), wave)
		if status := m.interpreter.Invoke(); status != tfl.OK {
			return model.Output{}, inferenceError(fmt.Errorf("tensor invoke failed: %v", status))
		}

		data := m.interpreter.GetOutputTensor(m.framewise).Float32s()
		frames := make([][]float32, m.frames)
		clip := make([]float32, m.classes)
		for f := range m.frames {
			row := make([]float32, m.classes)
			copy(row, data[f*m.classes:(f+1)*m.classes])
			frames[f] = row
			for c, v := range row {
				clip[c] = max(clip[c], v)
			}
		}
		if m.clipwise >= 0 {
			copy(clip, m.interpreter.GetOutputTensor(m.clipwise).Float32s())
		}
		out.Framewise[b] = frames
		out.Clipwise[b] = clip
	}
	out.Segmentwise = out.Framewise
	return out, nil
}

// Close releases the interpreter.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.interpreter != nil {
		m.interpreter.Delete()
		m.interpreter = nil
	}
	if m.options != nil {
		m.options.Delete()
		m.options = nil
	}
	if m.tfModel != nil {
		m.tfModel.Delete()
		m.tfModel = nil
	}
	return nil
}

func initError(path string, err error) error {
	return errors.New(err).
		Component("model").
		Category(errors.CategoryModelInit).
		FileContext(path).
		Build()
}

func inferenceError(err error) error {
	return errors.New(err).
		Component("model").
		Category(errors.CategoryInference).
		Context("arch", ArchTFLite).
		Build()
}
