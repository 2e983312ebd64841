package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rowjay/drkit/internal/artifact"
	"github.com/rowjay/drkit/internal/config"
	"github.com/rowjay/drkit/internal/consumers"
	"github.com/rowjay/drkit/internal/lock"
	"github.com/rowjay/drkit/internal/logging"
	"github.com/rowjay/drkit/internal/metrics"
	"github.com/rowjay/drkit/internal/notify"
	"github.com/rowjay/drkit/internal/producer"
	"github.com/rowjay/drkit/internal/restore"
	"github.com/rowjay/drkit/internal/retention"
	"github.com/rowjay/drkit/internal/source"
	"github.com/rowjay/drkit/internal/storage"
	"github.com/rowjay/drkit/internal/util"
)

type App struct {
	Cfg      *config.Config
	Store    *storage.ArtifactStore
	Drivers  []source.Driver
	Producer *producer.Producer
	Pruner   *retention.Pruner
	Restorer *restore.Orchestrator
	Notifier notify.Notifier
	Metrics  metrics.Recorder
	Log      zerolog.Logger
	NewID    func() string
}

// New wires the application from configuration.
func New(cfg *config.Config, log zerolog.Logger, rec metrics.Recorder) (*App, error) {
	store, err := storage.New(cfg, logging.Component(log, "storage"))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	runner := util.ExecRunner{}
	drivers := source.FromConfig(cfg, runner, log)
	if len(drivers) == 0 {
		return nil, errors.New("no sources enabled")
	}
	ctrl := consumers.Compose{
		File:    cfg.Global.ComposeFile,
		Project: cfg.Global.ComposeProject,
		Runner:  runner,
		Log:     logging.Component(log, "consumers"),
	}
	return Assemble(cfg, store, drivers, ctrl, notify.FromConfig(cfg.Notifications, logging.Component(log, "report")), rec, log), nil
}

// Assemble builds an App from already constructed collaborators.
func Assemble(cfg *config.Config, store *storage.ArtifactStore, drivers []source.Driver, ctrl consumers.Controller, notifier notify.Notifier, rec metrics.Recorder, log zerolog.Logger) *App {
	if rec == nil {
		rec = metrics.Noop{}
	}
	return &App{
		Cfg:      cfg,
		Store:    store,
		Drivers:  drivers,
		Producer: producer.New(drivers, store, cfg.Backup.Parallel, logging.Component(log, "producer")),
		Pruner:   retention.New(store, retention.FromConfig(cfg.Retention), logging.Component(log, "retention")),
		Restorer: &restore.Orchestrator{
			Store:     store,
			Drivers:   source.ByKind(drivers),
			Consumers: ctrl,
			Services: map[artifact.SourceKind][]string{
				artifact.Relational: cfg.Restore.Services.Postgres,
				artifact.Cache:      cfg.Restore.Services.Redis,
			},
			Log: logging.Component(log, "restore"),
		},
		Notifier: notifier,
		Metrics:  rec,
		Log:      log,
		NewID:    uuid.NewString,
	}
}

func (a *App) newRun(kind artifact.RunKind, cadence artifact.Cadence) artifact.Run {
	return artifact.Run{ID: a.NewID(), Kind: kind, Cadence: cadence, StartedAt: time.Now().UTC()}
}

// report finishes the run and emits it. It is deferred exactly once per run
// that got past the lock.
func (a *App) report(run *artifact.Run) {
	run.EndedAt = time.Now().UTC()
	a.Metrics.ObserveRun(string(run.Kind), string(run.Cadence), run.Status(), run.Duration())
	if a.Notifier == nil {
		return
	}
	if err := a.Notifier.Notify(context.Background(), notify.FromRun(*run)); err != nil {
		a.Log.Warn().Err(err).Str("run_id", run.ID).Msg("report delivery failed")
	}
}

// Backup takes one snapshot per source under cadence, then prunes that
// cadence. A run that finds another backup or restore in progress returns a
// *lock.RunInProgressError and emits no report.
func (a *App) Backup(ctx context.Context, cadence artifact.Cadence) (run artifact.Run, err error) {
	if !cadence.Valid() {
		return run, fmt.Errorf("unknown cadence: %q", cadence)
	}
	guard, err := lock.Acquire(a.Cfg.Global.LockDir, lock.KeyBackup)
	if err != nil {
		return run, err
	}
	defer guard.Release()

	run = a.newRun(artifact.BackupRun, cadence)
	defer a.report(&run)

	if a.Cfg.Global.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Cfg.Global.OperationTimeout)
		defer cancel()
	}

	log := a.Log.With().Str("run_id", run.ID).Str("cadence", string(cadence)).Logger()
	log.Info().Msg("backup run started")

	run.Results = a.Producer.Run(ctx, cadence)
	for _, res := range run.Results {
		var size int64
		if res.Artifact != nil {
			size = res.Artifact.SizeBytes
			switch {
			case res.Artifact.Uploaded:
				a.Metrics.IncUpload(string(res.Source), "success")
			case a.Store.RemoteEnabled() && !res.Artifact.Degraded():
				a.Metrics.IncUpload(string(res.Source), "failure")
			}
		}
		a.Metrics.ObserveSnapshot(string(res.Source), string(cadence), res.Success, size)
	}

	pruned, perr := a.Pruner.Prune(context.WithoutCancel(ctx), cadence)
	if perr != nil {
		log.Error().Err(perr).Msg("retention failed")
	}
	run.Pruned = pruned
	a.Metrics.AddPruned(string(cadence), len(pruned))

	log.Info().Str("status", run.Status()).Int("pruned", len(pruned)).Msg("backup run finished")
	return run, nil
}

// Prune applies retention to every cadence. With dryRun nothing is deleted and
// the artifacts that would go are returned.
func (a *App) Prune(ctx context.Context, dryRun bool) ([]artifact.Artifact, error) {
	guard, err := lock.Acquire(a.Cfg.Global.LockDir, lock.KeyBackup)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	var all []artifact.Artifact
	for _, c := range artifact.Cadences {
		var list []artifact.Artifact
		if dryRun {
			list, err = a.Pruner.Expired(ctx, c)
		} else {
			list, err = a.Pruner.Prune(ctx, c)
			a.Metrics.AddPruned(string(c), len(list))
		}
		if err != nil {
			return all, err
		}
		all = append(all, list...)
	}
	return all, nil
}

// List returns every artifact, local first.
func (a *App) List(ctx context.Context) ([]artifact.Artifact, error) {
	return a.Restorer.ListAvailable(ctx)
}

// QuickRollback restores the newest artifact of every source.
func (a *App) QuickRollback(ctx context.Context) (artifact.Run, []restore.Outcome, error) {
	return a.restoreRun(ctx, artifact.Quick, func(ctx context.Context) ([]restore.Outcome, error) {
		return a.Restorer.QuickRollback(ctx)
	})
}

// Restore restores one artifact identified by key or file name.
func (a *App) Restore(ctx context.Context, key string) (artifact.Run, []restore.Outcome, error) {
	return a.restoreRun(ctx, "", func(ctx context.Context) ([]restore.Outcome, error) {
		art, err := a.Restorer.Find(ctx, key)
		if err != nil {
			return nil, err
		}
		return []restore.Outcome{a.Restorer.Restore(ctx, art)}, nil
	})
}

// RestoreLatest restores the newest artifact of a single source.
func (a *App) RestoreLatest(ctx context.Context, src artifact.SourceKind) (artifact.Run, []restore.Outcome, error) {
	return a.restoreRun(ctx, "", func(ctx context.Context) ([]restore.Outcome, error) {
		latest, err := a.Restorer.Latest(ctx)
		if err != nil {
			return nil, err
		}
		art, ok := latest[src]
		if !ok {
			return nil, fmt.Errorf("%s: %w", src, restore.ErrNoBackupFound)
		}
		return []restore.Outcome{a.Restorer.Restore(ctx, art)}, nil
	})
}

func (a *App) restoreRun(ctx context.Context, cadence artifact.Cadence, fn func(context.Context) ([]restore.Outcome, error)) (run artifact.Run, outcomes []restore.Outcome, err error) {
	// restores also hold the backup key so nothing writes the local directory
	guard, err := lock.Acquire(a.Cfg.Global.LockDir, lock.KeyBackup, lock.KeyRestore)
	if err != nil {
		return run, nil, err
	}
	defer guard.Release()

	run = a.newRun(artifact.RestoreRun, cadence)
	defer a.report(&run)

	if a.Cfg.Restore.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Cfg.Restore.Timeout)
		defer cancel()
	}

	outcomes, err = fn(ctx)
	for _, o := range outcomes {
		run.Results = append(run.Results, o.Result)
		a.Metrics.ObserveRestore(string(o.Artifact.Source), string(o.Final()))
	}
	if err != nil {
		run.Err = err.Error()
		a.Log.Error().Err(err).Str("run_id", run.ID).Msg("restore aborted")
		return run, outcomes, err
	}
	a.Log.Info().Str("run_id", run.ID).Str("status", run.Status()).Msg("restore finished")
	return run, outcomes, nil
}

// Validate checks every source, the local directory and the remote bucket.
func (a *App) Validate(ctx context.Context) error {
	var errs []error
	for _, d := range a.Drivers {
		if err := d.Validate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.Kind(), err))
		}
	}
	if err := a.Store.EnsureWritable(); err != nil {
		errs = append(errs, err)
	}
	if err := a.Store.Ping(ctx); err != nil {
		errs = append(errs, fmt.Errorf("remote: %w", err))
	}
	return errors.Join(errs...)
}

// Close releases clients held by the source drivers.
func (a *App) Close() error {
	var errs []error
	for _, d := range a.Drivers {
		if c, ok := d.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
