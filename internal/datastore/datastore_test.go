package datastore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdsed/internal/detection"
	"github.com/tphakala/birdsed/internal/train"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "birdsed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t)

	run, err := s.StartRun(ctx, "", "train", "/tmp/config.yaml", 5)
	require.NoError(t, err)
	assert.Len(t, run.UUID, 36)
	assert.Equal(t, StatusRunning, run.Status)

	rec := EpochRecorder{Store: s, Run: run}
	for epoch := 1; epoch <= 2; epoch++ {
		require.NoError(t, rec.EpochFinished(ctx, &train.EpochReport{
			Fold:  0,
			Epoch: epoch,
			Valid: train.Scores{Loss: 0.5, MAP: 0.1 * float64(epoch)},
			EMA:   train.Scores{Loss: 0.4, MAP: 0.2 * float64(epoch)},
			Best:  epoch == 2,
		}))
	}
	require.NoError(t, s.FinishRun(ctx, run, nil))

	loaded, err := s.RunByUUID(ctx, run.UUID)
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, loaded.Status)
	require.NotNil(t, loaded.FinishedAt)
	require.Len(t, loaded.Epochs, 4)
	assert.Equal(t, KindEMA, loaded.Epochs[0].Kind)
	assert.Equal(t, KindLive, loaded.Epochs[1].Kind)
	assert.InDelta(t, 0.4, loaded.Epochs[2].MAP, 1e-9)
	assert.InDelta(t, 0.2, loaded.Epochs[3].MAP, 1e-9)
	assert.True(t, loaded.Epochs[3].Best)
}

func TestFailedRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t)
	run, err := s.StartRun(ctx, "fixed-id", "detect", "", 0)
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(ctx, run, errors.New("boom")))

	loaded, err := s.RunByUUID(ctx, "fixed-id")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, loaded.Status)
}

func TestSaveEvents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t)
	run, err := s.StartRun(ctx, "", "detect", "", 0)
	require.NoError(t, err)

	require.NoError(t, s.SaveEvents(ctx, run, nil))
	require.NoError(t, s.SaveEvents(ctx, run, []detection.Event{
		{Filename: "b.wav", Code: "amecro", Onset: 3, Offset: 4, Peak: 0.8},
		{Filename: "a.wav", Code: "amecro", Onset: 1, Offset: 2, Peak: 0.9},
		{Filename: "a.wav", Code: "blujay", Onset: 0, Offset: 1, Peak: 0.7},
	}))

	events, err := s.EventsByCode(ctx, run, "amecro")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "a.wav", events[0].Filename)
	assert.InDelta(t, 0.9, events[0].Peak, 1e-12)
}

func TestRunByUUIDMissing(t *testing.T) {
	t.Parallel()

	_, err := openStore(t).RunByUUID(context.Background(), "nope")
	require.Error(t, err)
}
