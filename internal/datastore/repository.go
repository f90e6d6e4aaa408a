package datastore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tphakala/birdsed/internal/detection"
	"github.com/tphakala/birdsed/internal/train"
)

// StartRun records a new run and returns it. An empty id gets a fresh
// UUID.
func (s *Store) StartRun(ctx context.Context, id, command, configPath string, folds int) (*Run, error) {
	if id == "" {
		id = uuid.NewString()
	}
	run := &Run{
		UUID:       id,
		Command:    command,
		StartedAt:  time.Now(),
		ConfigPath: configPath,
		Folds:      folds,
		Status:     StatusRunning,
	}
	if err := s.DB.WithContext(ctx).Create(run).Error; err != nil {
		return nil, dbError("start run", err)
	}
	return run, nil
}

// FinishRun marks a run finished, or failed when runErr is set.
func (s *Store) FinishRun(ctx context.Context, run *Run, runErr error) error {
	now := time.Now()
	status := StatusFinished
	if runErr != nil {
		status = StatusFailed
	}
	err := s.DB.WithContext(ctx).Model(run).Updates(map[string]any{
		"finished_at": now,
		"status":      status,
	}).Error
	if err != nil {
		return dbError("finish run", err)
	}
	run.FinishedAt = &now
	run.Status = status
	return nil
}

// RunByUUID loads a run with its epoch history.
func (s *Store) RunByUUID(ctx context.Context, id string) (*Run, error) {
	var run Run
	err := s.DB.WithContext(ctx).
		Preload("Epochs", func(db *gorm.DB) *gorm.DB { return db.Order("fold, epoch, kind") }).
		Where("uuid = ?", id).
		First(&run).Error
	if err != nil {
		return nil, dbError("load run", err)
	}
	return &run, nil
}

// SaveEpoch stores the live and EMA scores of one epoch report.
func (s *Store) SaveEpoch(ctx context.Context, run *Run, report *train.EpochReport) error {
	records := []EpochRecord{
		epochRecord(run.ID, report, KindLive, report.Valid, report.Best),
		epochRecord(run.ID, report, KindEMA, report.EMA, false),
	}
	if err := s.DB.WithContext(ctx).Create(&records).Error; err != nil {
		return dbError("save epoch", err)
	}
	return nil
}

func epochRecord(runID uint, r *train.EpochReport, kind string, sc train.Scores, best bool) EpochRecord {
	return EpochRecord{
		RunID:       runID,
		Fold:        r.Fold,
		Epoch:       r.Epoch,
		Kind:        kind,
		Loss:        sc.Loss,
		MAP:         sc.MAP,
		ClasswiseF1: sc.ClasswiseF1,
		SampleF1:    sc.SampleF1,
		LR:          r.LR,
		Best:        best,
	}
}

// SaveEvents stores detected events for a run in one transaction.
func (s *Store) SaveEvents(ctx context.Context, run *Run, events []detection.Event) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]DetectedEvent, len(events))
	for i, e := range events {
		rows[i] = DetectedEvent{
			RunID:    run.ID,
			Filename: e.Filename,
			Code:     e.Code,
			Onset:    e.Onset,
			Offset:   e.Offset,
			Peak:     e.Peak,
		}
	}
	if err := s.DB.WithContext(ctx).CreateInBatches(rows, 500).Error; err != nil {
		return dbError("save events", err)
	}
	return nil
}

// EventsByCode returns the events of a run for one species code ordered by
// file and onset.
func (s *Store) EventsByCode(ctx context.Context, run *Run, code string) ([]DetectedEvent, error) {
	var events []DetectedEvent
	err := s.DB.WithContext(ctx).
		Where("run_id = ? AND code = ?", run.ID, code).
		Order("filename, onset").
		Find(&events).Error
	if err != nil {
		return nil, dbError("load events", err)
	}
	return events, nil
}

// EpochRecorder adapts a Store to train.Observer for one run.
type EpochRecorder struct {
	Store *Store
	Run   *Run
}

// EpochFinished implements train.Observer.
func (r EpochRecorder) EpochFinished(ctx context.Context, report *train.EpochReport) error {
	return r.Store.SaveEpoch(ctx, r.Run, report)
}
