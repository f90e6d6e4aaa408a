package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdsed/internal/train"
)

func findFamily(t *testing.T, m *Metrics, name string) *dto.MetricFamily {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func TestTrainingObserver(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	obs := TrainingObserver{Metrics: m.Training}
	err = obs.EpochFinished(context.Background(), &train.EpochReport{
		Fold:       2,
		Epoch:      1,
		Valid:      train.Scores{Loss: 0.7, MAP: 0.55},
		EMA:        train.Scores{Loss: 0.6, MAP: 0.65},
		BestMetric: 0.55,
		LR:         0.01,
		EMAUpdates: 3,
		Batches:    30,
		Elapsed:    1500 * time.Millisecond,
	})
	require.NoError(t, err)

	family := findFamily(t, m, "birdsed_epoch_score")
	require.NotNil(t, family)
	// two kinds times four metrics
	assert.Len(t, family.GetMetric(), 8)

	values := map[string]float64{}
	for _, metric := range family.GetMetric() {
		labels := map[string]string{}
		for _, lp := range metric.GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		assert.Equal(t, "2", labels["fold"])
		values[labels["kind"]+"/"+labels["metric"]] = metric.GetGauge().GetValue()
	}
	assert.InDelta(t, 0.55, values["live/mAP"], 1e-12)
	assert.InDelta(t, 0.65, values["ema/mAP"], 1e-12)

	batches := findFamily(t, m, "birdsed_train_batches_total")
	require.NotNil(t, batches)
	assert.InDelta(t, 30.0, batches.GetMetric()[0].GetCounter().GetValue(), 1e-12)
}

func TestMetricsHandler(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)
	m.Inference.SoftLabelsWritten.Add(3)

	mux := http.NewServeMux()
	m.RegisterHandlers(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "birdsed_soft_labels_written_total 3")
}

func TestWriteTextfile(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)
	m.Inference.Discoveries.Inc()

	path := filepath.Join(t.TempDir(), "birdsed.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "birdsed_discovered_labels_total 1")
}

func TestServeStopsWithContext(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx, "127.0.0.1:0") }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
