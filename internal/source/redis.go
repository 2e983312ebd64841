package source

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/rowjay/drkit/internal/artifact"
	"github.com/rowjay/drkit/internal/config"
	"github.com/rowjay/drkit/internal/util"
)

// Saver is the subset of the redis client used for snapshots.
type Saver interface {
	BgSave(ctx context.Context) *redis.StatusCmd
	LastSave(ctx context.Context) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Redis snapshots the cache with BGSAVE and copies the resulting RDB file,
// either out of a container with "docker cp" or straight from disk.
type Redis struct {
	cfg               config.CacheConfig
	client            Saver
	runner            util.Runner
	allowMissingTools bool
	log               zerolog.Logger
}

func NewRedis(cfg config.CacheConfig, runner util.Runner, allowMissingTools bool, log zerolog.Logger) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(cfg.Host, portOrDefault(cfg.Port, 6379)),
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.CommandTimeout,
		WriteTimeout: cfg.CommandTimeout,
	})
	return NewRedisWithClient(cfg, client, runner, allowMissingTools, log)
}

func NewRedisWithClient(cfg config.CacheConfig, client Saver, runner util.Runner, allowMissingTools bool, log zerolog.Logger) *Redis {
	return &Redis{
		cfg:               cfg,
		client:            client,
		runner:            runner,
		allowMissingTools: allowMissingTools,
		log:               log.With().Str("source", string(artifact.Cache)).Logger(),
	}
}

func (r *Redis) Kind() artifact.SourceKind { return artifact.Cache }

func (r *Redis) Dump(ctx context.Context, dir string, cadence artifact.Cadence, createdAt time.Time) (string, error) {
	if r.cfg.Container != "" && !r.allowMissingTools {
		if err := util.RequireBinary("docker"); err != nil {
			return "", err
		}
	}

	before, err := r.client.LastSave(ctx).Result()
	if err != nil {
		r.log.Debug().Err(err).Msg("LASTSAVE unavailable")
	}
	if err := r.client.BgSave(ctx).Err(); err != nil {
		return "", fmt.Errorf("trigger BGSAVE: %w", err)
	}
	if err := wait(ctx, r.cfg.SaveGrace); err != nil {
		return "", err
	}
	if after, err := r.client.LastSave(ctx).Result(); err == nil {
		r.log.Info().Int64("lastsave_before", before).Int64("lastsave_after", after).Bool("completed", after > before).Msg("snapshot triggered")
	}

	raw := filepath.Join(dir, artifact.RawFilename(artifact.Cache, cadence, createdAt))
	if err := r.copyOut(ctx, raw); err != nil {
		os.Remove(raw)
		return "", err
	}
	return raw, nil
}

func (r *Redis) copyOut(ctx context.Context, raw string) error {
	if r.cfg.Container != "" {
		cmd := util.NewCmd("docker", "cp", r.cfg.Container+":"+r.cfg.RDBPath, raw)
		r.log.Info().Str("cmd", cmd.String()).Msg("copying snapshot")
		return r.runner.Run(ctx, cmd)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := copyFile(r.cfg.RDBPath, raw); err != nil {
		return fmt.Errorf("copy snapshot %s: %w", r.cfg.RDBPath, err)
	}
	return nil
}

// Apply replaces the store's RDB file. The cache service is expected to be
// stopped so the file is loaded on the next start.
func (r *Redis) Apply(ctx context.Context, path string) error {
	if r.cfg.Container != "" {
		cmd := util.NewCmd("docker", "cp", path, r.cfg.Container+":"+r.cfg.RDBPath)
		r.log.Info().Str("cmd", cmd.String()).Msg("restoring snapshot")
		return r.runner.Run(ctx, cmd)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := copyFile(path, r.cfg.RDBPath); err != nil {
		return fmt.Errorf("restore snapshot %s: %w", r.cfg.RDBPath, err)
	}
	return nil
}

func (r *Redis) Validate(ctx context.Context) error {
	if r.cfg.Container != "" && !r.allowMissingTools {
		if err := util.RequireBinary("docker"); err != nil {
			return err
		}
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the underlying client when it owns one.
func (r *Redis) Close() error {
	if c, ok := r.client.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
