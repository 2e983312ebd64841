// Package restore brings a protected store back to the state captured in an
// artifact, stopping and restarting the services that depend on it.
package restore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/drkit/internal/artifact"
	"github.com/rowjay/drkit/internal/compress"
	"github.com/rowjay/drkit/internal/consumers"
	"github.com/rowjay/drkit/internal/source"
)

var (
	// ErrNoBackupFound is returned when a source has no artifact to restore.
	ErrNoBackupFound = errors.New("no backup found")
	ErrUnknownSource = errors.New("source not configured")
)

type State string

const (
	Idle               State = "idle"
	Preparing          State = "preparing"
	ConsumersStopped   State = "consumers_stopped"
	Restoring          State = "restoring"
	ConsumersRestarted State = "consumers_restarted"
	Done               State = "done"
	Failed             State = "failed"
)

type Transition struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}

// Outcome is the result of restoring one artifact.
type Outcome struct {
	Artifact artifact.Artifact  `json:"artifact"`
	Trace    []Transition       `json:"trace"`
	Result   artifact.RunResult `json:"result"`
}

// Final is the terminal state of the outcome.
func (o Outcome) Final() State {
	if len(o.Trace) == 0 {
		return Idle
	}
	return o.Trace[len(o.Trace)-1].State
}

// States lists the visited states in order.
func (o Outcome) States() []State {
	out := make([]State, len(o.Trace))
	for i, t := range o.Trace {
		out[i] = t.State
	}
	return out
}

// Store is the part of the artifact store the orchestrator needs.
type Store interface {
	ListAll(ctx context.Context) ([]artifact.Artifact, error)
	Fetch(ctx context.Context, art artifact.Artifact) (string, error)
}

type Orchestrator struct {
	Store     Store
	Drivers   map[artifact.SourceKind]source.Driver
	Consumers consumers.Controller
	// Services are stopped before and started after restoring each source.
	Services map[artifact.SourceKind][]string
	// TempDir holds decompressed dumps while they are applied.
	TempDir string
	Now     func() time.Time
	Log     zerolog.Logger
}

// run tracks one invocation of the state machine.
type run struct {
	o       *Orchestrator
	log     zerolog.Logger
	outcome Outcome
	errs    []string
}

func (r *run) enter(s State) {
	r.outcome.Trace = append(r.outcome.Trace, Transition{State: s, At: r.o.now()})
	r.log.Info().Str("state", string(s)).Msg("restore state")
}

func (r *run) fail(msg string, err error) {
	r.errs = append(r.errs, fmt.Sprintf("%s: %v", msg, err))
	r.log.Error().Err(err).Msg(msg)
}

func (r *run) finish() Outcome {
	src := r.outcome.Artifact.Source
	if len(r.errs) == 0 {
		r.enter(Done)
		r.outcome.Result = artifact.RunResult{Source: src, Success: true, Artifact: &r.outcome.Artifact}
		return r.outcome
	}
	msg := strings.Join(r.errs, "; ")
	r.outcome.Trace = append(r.outcome.Trace, Transition{State: Failed, At: r.o.now(), Error: msg})
	r.log.Error().Str("state", string(Failed)).Str("error", msg).Msg("restore state")
	r.outcome.Result = artifact.RunResult{Source: src, Artifact: &r.outcome.Artifact, ErrorMessage: msg}
	return r.outcome
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Restore runs the full state machine for one artifact. Once services have
// been stopped they are started again exactly once, whatever happens in
// between, including context cancellation.
func (o *Orchestrator) Restore(ctx context.Context, art artifact.Artifact) Outcome {
	r := &run{
		o:   o,
		log: o.Log.With().Str("source", string(art.Source)).Str("file", art.Key).Str("location", string(art.Location)).Logger(),
	}
	r.outcome.Artifact = art
	r.enter(Idle)

	r.enter(Preparing)
	drv, ok := o.Drivers[art.Source]
	if !ok {
		r.fail("prepare", fmt.Errorf("%s: %w", art.Source, ErrUnknownSource))
		return r.finish()
	}
	path, err := o.Store.Fetch(ctx, art)
	if err != nil {
		r.fail("fetch", err)
		return r.finish()
	}

	services := o.Services[art.Source]
	stopped := true
	if len(services) > 0 {
		if err := o.Consumers.Stop(ctx, services); err != nil {
			stopped = false
			r.fail("stop "+strings.Join(services, ","), err)
		} else {
			r.enter(ConsumersStopped)
		}
	} else {
		r.log.Warn().Msg("no consumer services configured")
		r.enter(ConsumersStopped)
	}

	if stopped {
		r.enter(Restoring)
		if err := o.apply(ctx, drv, path); err != nil {
			r.fail("apply", err)
		}
	}

	if len(services) > 0 {
		// restart even when ctx is done
		if err := o.Consumers.Start(context.WithoutCancel(ctx), services); err != nil {
			r.fail("start "+strings.Join(services, ","), err)
		}
	}
	r.enter(ConsumersRestarted)
	return r.finish()
}

func (o *Orchestrator) apply(ctx context.Context, drv source.Driver, path string) error {
	tmp, err := os.CreateTemp(o.TempDir, "drkit-restore-*."+drv.Kind().Ext())
	if err != nil {
		return err
	}
	name := tmp.Name()
	tmp.Close()
	defer os.Remove(name)

	if err := compress.Decompress(path, name); err != nil {
		return fmt.Errorf("decompress %s: %w", path, err)
	}
	return drv.Apply(ctx, name)
}

// ListAvailable returns local then remote artifacts, each newest first. A
// remote listing failure is returned with the local records.
func (o *Orchestrator) ListAvailable(ctx context.Context) ([]artifact.Artifact, error) {
	return o.Store.ListAll(ctx)
}

// Latest picks the newest restorable artifact per configured source across
// both locations. A local copy wins over a remote copy of the same dump.
func (o *Orchestrator) Latest(ctx context.Context) (map[artifact.SourceKind]artifact.Artifact, error) {
	all, err := o.Store.ListAll(ctx)
	if err != nil {
		if all == nil {
			return nil, err
		}
		o.Log.Warn().Err(err).Msg("remote listing failed, using local artifacts only")
	}
	latest := map[artifact.SourceKind]artifact.Artifact{}
	for _, a := range all {
		if a.Degraded() {
			continue
		}
		cur, ok := latest[a.Source]
		switch {
		case !ok, a.CreatedAt.After(cur.CreatedAt):
			latest[a.Source] = a
		case a.CreatedAt.Equal(cur.CreatedAt) && a.Location == artifact.Local && cur.Location != artifact.Local:
			latest[a.Source] = a
		}
	}
	return latest, nil
}

// QuickRollback restores the newest artifact of every configured source, one
// source at a time. If any source has no artifact, nothing is touched.
func (o *Orchestrator) QuickRollback(ctx context.Context) ([]Outcome, error) {
	latest, err := o.Latest(ctx)
	if err != nil {
		return nil, err
	}
	var plan []artifact.Artifact
	var missing []string
	for _, kind := range artifact.Sources {
		if _, configured := o.Drivers[kind]; !configured {
			continue
		}
		a, ok := latest[kind]
		if !ok {
			missing = append(missing, string(kind))
			continue
		}
		plan = append(plan, a)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%s: %w", strings.Join(missing, ", "), ErrNoBackupFound)
	}
	if len(plan) == 0 {
		return nil, ErrNoBackupFound
	}

	outcomes := make([]Outcome, 0, len(plan))
	for _, a := range plan {
		o.Log.Info().Str("source", string(a.Source)).Str("file", a.Key).Time("created_at", a.CreatedAt).Msg("quick rollback")
		outcomes = append(outcomes, o.Restore(ctx, a))
	}
	return outcomes, nil
}

// Find resolves a key or file name to an artifact, preferring the local copy.
func (o *Orchestrator) Find(ctx context.Context, key string) (artifact.Artifact, error) {
	all, err := o.Store.ListAll(ctx)
	if err != nil && all == nil {
		return artifact.Artifact{}, err
	}
	for _, a := range all {
		if a.Key == key || a.Filename() == key {
			return a, nil
		}
	}
	return artifact.Artifact{}, fmt.Errorf("%s: %w", key, ErrNoBackupFound)
}
