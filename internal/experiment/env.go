package experiment

import (
	"context"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/tphakala/birdsed/internal/catalog"
	"github.com/tphakala/birdsed/internal/conf"
	"github.com/tphakala/birdsed/internal/datastore"
	"github.com/tphakala/birdsed/internal/errors"
	"github.com/tphakala/birdsed/internal/logger"
	"github.com/tphakala/birdsed/internal/metadata"
	"github.com/tphakala/birdsed/internal/monitor"
	"github.com/tphakala/birdsed/internal/observability"
	"github.com/tphakala/birdsed/internal/train"
)

// Env carries the run-wide services shared by every pipeline. Optional
// services are nil when disabled in the configuration.
type Env struct {
	Settings *conf.Settings
	Catalog  catalog.Resolver
	RunID    string
	Command  string

	Metrics *observability.Metrics
	Store   *datastore.Store
	Run     *datastore.Run
	Monitor *monitor.Monitor

	stopMetrics context.CancelFunc
}

// NewEnv starts the optional services configured in s and records the run.
func NewEnv(ctx context.Context, s *conf.Settings, cat catalog.Resolver, command string) (*Env, error) {
	env := &Env{
		Settings: s,
		Catalog:  cat,
		RunID:    uuid.NewString(),
		Command:  command,
	}
	log := GetLogger()

	if s.Metrics.Enabled {
		m, err := observability.NewMetrics()
		if err != nil {
			return nil, err
		}
		env.Metrics = m
		if s.Metrics.Listen != "" {
			mctx, cancel := context.WithCancel(ctx)
			env.stopMetrics = cancel
			go func() {
				if err := m.Serve(mctx, s.Metrics.Listen); err != nil {
					log.Warn("metrics endpoint stopped", logger.Error(err))
				}
			}()
		}
	}

	if s.Datastore.Enabled {
		store, err := datastore.Open(s.Datastore.Path)
		if err != nil {
			env.stop()
			return nil, err
		}
		env.Store = store
	}

	if s.Monitor.Enabled {
		env.Monitor = monitor.New(s)
		if env.Metrics != nil {
			rss := env.Metrics.Inference.ProcessRSS
			env.Monitor.OnSample = func(snap monitor.Snapshot) { rss.Set(float64(snap.ProcessRSS)) }
		}
		env.Monitor.Start(ctx)
	}

	log.Info("run started",
		logger.String("run_id", env.RunID),
		logger.String("command", command),
		logger.Bool("metrics", env.Metrics != nil),
		logger.Bool("datastore", env.Store != nil),
		logger.Bool("monitor", env.Monitor != nil))
	return env, nil
}

// StartRun records the run in the datastore. configPath is the snapshot of
// the effective configuration, folds the number of folds to train.
func (e *Env) StartRun(ctx context.Context, configPath string, folds int) error {
	if e.Store == nil {
		return nil
	}
	run, err := e.Store.StartRun(ctx, e.RunID, e.Command, configPath, folds)
	if err != nil {
		return err
	}
	e.Run = run
	return nil
}

// Observers returns the epoch observers backed by the enabled services.
func (e *Env) Observers() []train.Observer {
	var obs []train.Observer
	if e.Store != nil && e.Run != nil {
		obs = append(obs, datastore.EpochRecorder{Store: e.Store, Run: e.Run})
	}
	if e.Metrics != nil {
		obs = append(obs, observability.TrainingObserver{Metrics: e.Metrics.Training})
		obs = append(obs, textfileWriter{metrics: e.Metrics, path: e.Settings.Metrics.Textfile})
	}
	if e.Monitor != nil {
		obs = append(obs, e.Monitor)
	}
	return obs
}

// Close finishes the run record, writes the metrics textfile and stops the
// services. runErr marks the run failed.
func (e *Env) Close(runErr error) error {
	var errs []error
	if e.Store != nil && e.Run != nil {
		if err := e.Store.FinishRun(context.Background(), e.Run, runErr); err != nil {
			errs = append(errs, err)
		}
	}
	if e.Metrics != nil && e.Settings.Metrics.Textfile != "" {
		if err := e.Metrics.WriteTextfile(e.Settings.Metrics.Textfile); err != nil {
			errs = append(errs, err)
		}
	}
	e.stop()
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Env) stop() {
	if e.Monitor != nil {
		e.Monitor.Stop()
	}
	if e.stopMetrics != nil {
		e.stopMetrics()
	}
}

// LoadRecords reads the training metadata with the configured filters.
func (e *Env) LoadRecords() ([]*metadata.ClipRecord, error) {
	s := e.Settings
	return metadata.Load(s.Data.TrainCSV, e.Catalog, metadata.Options{
		SkipList:         s.Data.SkipList,
		AdditionalLabels: s.Data.AdditionalLabels,
		Countries:        s.Data.Countries,
	})
}

// SnapshotConfig writes the effective configuration into the log directory.
func (e *Env) SnapshotConfig() (string, error) {
	path := filepath.Join(e.Settings.Main.LogDir, "config.yaml")
	if err := conf.SaveYAMLConfig(path, e.Settings); err != nil {
		return "", err
	}
	return path, nil
}

// textfileWriter refreshes the metrics textfile after every epoch.
type textfileWriter struct {
	metrics *observability.Metrics
	path    string
}

func (w textfileWriter) EpochFinished(context.Context, *train.EpochReport) error {
	if w.path == "" {
		return nil
	}
	return w.metrics.WriteTextfile(w.path)
}

// Run loads the catalog, starts the services configured in s for command
// and calls fn with them. The services are closed when fn returns.
func Run(ctx context.Context, s *conf.Settings, command string, fn func(context.Context, *Env) error) error {
	cat, err := catalog.Load()
	if err != nil {
		return err
	}
	env, err := NewEnv(ctx, s, cat, command)
	if err != nil {
		return err
	}
	runErr := fn(ctx, env)
	return errors.Join(runErr, env.Close(runErr))
}
