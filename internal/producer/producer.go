// Package producer takes one snapshot of every protected source per run.
package producer

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rowjay/drkit/internal/artifact"
	"github.com/rowjay/drkit/internal/source"
	"github.com/rowjay/drkit/internal/storage"
)

type Producer struct {
	Drivers []source.Driver
	Store   *storage.ArtifactStore
	// Parallel runs sources concurrently. Steps for one source are always
	// sequential.
	Parallel bool
	Now      func() time.Time
	Log      zerolog.Logger
}

func New(drivers []source.Driver, store *storage.ArtifactStore, parallel bool, log zerolog.Logger) *Producer {
	return &Producer{Drivers: drivers, Store: store, Parallel: parallel, Now: time.Now, Log: log}
}

// Run produces one artifact per source for cadence. Failures are isolated per
// source; the returned slice has one result per driver, in driver order.
func (p *Producer) Run(ctx context.Context, cadence artifact.Cadence) []artifact.RunResult {
	results := make([]artifact.RunResult, len(p.Drivers))
	var g errgroup.Group
	if !p.Parallel {
		g.SetLimit(1)
	}
	for i, drv := range p.Drivers {
		i, drv := i, drv
		g.Go(func() error {
			results[i] = p.snapshot(ctx, drv, cadence)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *Producer) snapshot(ctx context.Context, drv source.Driver, cadence artifact.Cadence) artifact.RunResult {
	kind := drv.Kind()
	log := p.Log.With().Str("source", string(kind)).Str("cadence", string(cadence)).Logger()
	createdAt := artifact.Normalize(p.Now())
	started := time.Now()

	if err := p.Store.EnsureWritable(); err != nil {
		log.Error().Err(err).Msg("backup directory not writable")
		return artifact.Failed(kind, err)
	}

	raw, err := drv.Dump(ctx, p.Store.Root(), cadence, createdAt)
	if err != nil {
		log.Error().Err(err).Msg("dump failed")
		return artifact.Failed(kind, err)
	}

	art, err := p.Store.Put(ctx, raw, kind, cadence, createdAt)
	var degraded *storage.DegradedError
	switch {
	case errors.As(err, &degraded):
		log.Warn().Err(err).Str("raw", raw).Msg("artifact degraded")
		return artifact.RunResult{Source: kind, Success: true, Artifact: &art, Warning: err.Error()}
	case err != nil:
		log.Error().Err(err).Msg("storing artifact failed")
		return artifact.Failed(kind, err)
	}

	res := artifact.RunResult{Source: kind, Success: true}
	if p.Store.RemoteEnabled() {
		art = p.Store.Upload(ctx, art)
		if art.UploadError != "" {
			res.Warning = "upload failed: " + art.UploadError
		}
	}
	res.Artifact = &art
	log.Info().Str("file", art.Key).Int64("size", art.SizeBytes).Bool("uploaded", art.Uploaded).Dur("took", time.Since(started)).Msg("snapshot complete")
	return res
}
