// model.go defines the tables of the run history database
package datastore

import "time"

// Run is one invocation of a training or inference command.
type Run struct {
	ID         uint      `gorm:"primaryKey"`
	UUID       string    `gorm:"uniqueIndex;not null"`
	Command    string    `gorm:"index"`
	StartedAt  time.Time `gorm:"index"`
	FinishedAt *time.Time
	ConfigPath string // snapshot of the effective configuration
	Folds      int
	Status     string `gorm:"type:varchar(20)"` // running, finished, failed

	Epochs []EpochRecord   `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
	Events []DetectedEvent `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

// Run statuses.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// Model kinds of an epoch record.
const (
	KindLive = "live"
	KindEMA  = "ema"
)

// EpochRecord holds validation scores of one model after one epoch.
type EpochRecord struct {
	ID          uint   `gorm:"primaryKey"`
	RunID       uint   `gorm:"index:idx_epoch_run_fold;not null"`
	Fold        int    `gorm:"index:idx_epoch_run_fold"`
	Epoch       int
	Kind        string `gorm:"type:varchar(10)"`
	Loss        float64
	MAP         float64 `gorm:"column:map"`
	ClasswiseF1 float64
	SampleF1    float64
	LR          float64
	Best        bool
	CreatedAt   time.Time
}

// DetectedEvent is one persisted sound event.
type DetectedEvent struct {
	ID       uint   `gorm:"primaryKey"`
	RunID    uint   `gorm:"index;not null"`
	Filename string `gorm:"index"`
	Code     string `gorm:"index"`
	Onset    float64
	Offset   float64
	Peak     float64
}
