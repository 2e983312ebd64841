// Package retention deletes local artifacts beyond each cadence's keep-count.
package retention

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/rowjay/drkit/internal/artifact"
	"github.com/rowjay/drkit/internal/config"
)

// Policy maps a cadence to the number of newest local artifacts kept. Cadences
// with no positive count are never pruned.
type Policy map[artifact.Cadence]int

func FromConfig(cfg config.RetentionConfig) Policy {
	return Policy{
		artifact.Hourly:  cfg.Hourly,
		artifact.Daily:   cfg.Daily,
		artifact.Weekly:  cfg.Weekly,
		artifact.Monthly: cfg.Monthly,
		artifact.Manual:  cfg.Manual,
		artifact.Startup: cfg.Startup,
		artifact.Quick:   cfg.Quick,
	}
}

// Store is the part of the artifact store the pruner needs.
type Store interface {
	List(ctx context.Context, loc artifact.Location) ([]artifact.Artifact, error)
	Delete(ctx context.Context, art artifact.Artifact) error
}

// Plan selects the local artifacts of cadence c beyond the k newest. Matching
// is on the structured cadence; other cadences and remote copies are never
// selected. The input order does not matter.
func Plan(artifacts []artifact.Artifact, c artifact.Cadence, k int) []artifact.Artifact {
	if k <= 0 {
		return nil
	}
	var matching []artifact.Artifact
	for _, a := range artifacts {
		if a.Location == artifact.Local && a.Cadence == c {
			matching = append(matching, a)
		}
	}
	if len(matching) <= k {
		return nil
	}
	artifact.SortNewestFirst(matching)
	return matching[k:]
}

type Pruner struct {
	Store  Store
	Policy Policy
	Log    zerolog.Logger
}

func New(store Store, policy Policy, log zerolog.Logger) *Pruner {
	return &Pruner{Store: store, Policy: policy, Log: log}
}

// Prune deletes the local artifacts of cadence c beyond the policy's count and
// returns those actually deleted. A failed delete is logged and skipped.
func (p *Pruner) Prune(ctx context.Context, c artifact.Cadence) ([]artifact.Artifact, error) {
	log := p.Log.With().Str("cadence", string(c)).Logger()
	k := p.Policy[c]
	if k <= 0 {
		log.Debug().Msg("no retention configured, skipping")
		return nil, nil
	}
	local, err := p.Store.List(ctx, artifact.Local)
	if err != nil {
		return nil, err
	}

	var deleted []artifact.Artifact
	for _, a := range Plan(local, c, k) {
		if err := p.Store.Delete(ctx, a); err != nil {
			log.Warn().Err(err).Str("file", a.Key).Msg("failed to delete expired artifact")
			continue
		}
		log.Info().Str("file", a.Key).Msg("deleted expired artifact")
		deleted = append(deleted, a)
	}
	return deleted, nil
}

// Expired reports what Prune would delete for cadence c without deleting.
func (p *Pruner) Expired(ctx context.Context, c artifact.Cadence) ([]artifact.Artifact, error) {
	local, err := p.Store.List(ctx, artifact.Local)
	if err != nil {
		return nil, err
	}
	return Plan(local, c, p.Policy[c]), nil
}
