// Package source dumps and restores the protected data stores.
package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/drkit/internal/artifact"
	"github.com/rowjay/drkit/internal/config"
	"github.com/rowjay/drkit/internal/util"
)

// Driver produces raw dumps of one store and applies them back.
type Driver interface {
	Kind() artifact.SourceKind
	// Dump writes a raw, uncompressed dump into dir and returns its path.
	Dump(ctx context.Context, dir string, cadence artifact.Cadence, createdAt time.Time) (string, error)
	// Apply loads an uncompressed dump into the store.
	Apply(ctx context.Context, path string) error
	// Validate checks that the store and its tools are reachable.
	Validate(ctx context.Context) error
}

// FromConfig returns a driver for every enabled store, in artifact.Sources order.
func FromConfig(cfg *config.Config, runner util.Runner, log zerolog.Logger) []Driver {
	var drivers []Driver
	if cfg.Database.Enabled {
		drivers = append(drivers, NewPostgres(cfg.Database, runner, cfg.Global.AllowMissingTools, log))
	}
	if cfg.Cache.Enabled {
		drivers = append(drivers, NewRedis(cfg.Cache, runner, cfg.Global.AllowMissingTools, log))
	}
	return drivers
}

// ByKind indexes drivers by source kind.
func ByKind(drivers []Driver) map[artifact.SourceKind]Driver {
	out := make(map[artifact.SourceKind]Driver, len(drivers))
	for _, d := range drivers {
		out[d.Kind()] = d
	}
	return out
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for snapshot: %w", ctx.Err())
	}
}
