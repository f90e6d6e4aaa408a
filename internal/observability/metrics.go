package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	birdsederrors "github.com/tphakala/birdsed/internal/errors"
	"github.com/tphakala/birdsed/internal/logger"
	"github.com/tphakala/birdsed/internal/observability/metrics"
	"github.com/tphakala/birdsed/internal/train"
)

// Metrics holds all the metric collectors of a run.
type Metrics struct {
	registry  *prometheus.Registry
	Training  *metrics.TrainingMetrics
	Inference *metrics.InferenceMetrics
}

// NewMetrics creates a Metrics instance on a private registry.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	trainingMetrics, err := metrics.NewTrainingMetrics(registry)
	if err != nil {
		return nil, err
	}
	inferenceMetrics, err := metrics.NewInferenceMetrics(registry)
	if err != nil {
		return nil, err
	}
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, birdsederrors.New(err).
			Component("observability").
			Category(birdsederrors.CategorySystem).
			Build()
	}

	return &Metrics{
		registry:  registry,
		Training:  trainingMetrics,
		Inference: inferenceMetrics,
	}, nil
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterHandlers registers the metrics endpoint with the provided http.ServeMux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	}))
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return birdsederrors.New(err).
			Component("observability").
			Category(birdsederrors.CategorySystem).
			Context("addr", addr).
			Build()
	}

	mux := http.NewServeMux()
	m.RegisterHandlers(mux)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	GetLogger().Info("serving metrics", logger.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return birdsederrors.New(err).
			Component("observability").
			Category(birdsederrors.CategorySystem).
			Build()
	}
	return nil
}

// WriteTextfile writes the current state of every collector in the text
// exposition format, for pickup by a node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return birdsederrors.New(err).
			Component("observability").
			Category(birdsederrors.CategoryFileIO).
			FileContext(path).
			Build()
	}
	return nil
}

// TrainingObserver feeds epoch reports into the training collectors.
type TrainingObserver struct {
	Metrics *metrics.TrainingMetrics
}

// EpochFinished implements train.Observer.
func (o TrainingObserver) EpochFinished(_ context.Context, r *train.EpochReport) error {
	o.Metrics.RecordEpoch(metrics.EpochScores{
		Fold:       r.Fold,
		Batches:    r.Batches,
		EMAUpdates: r.EMAUpdates,
		Scores: map[string]map[string]float64{
			metrics.KindLive: r.Valid.Map(""),
			metrics.KindEMA:  r.EMA.Map(""),
		},
		BestMetric: r.BestMetric,
		LR:         r.LR,
		Seconds:    r.Elapsed.Seconds(),
	})
	return nil
}
