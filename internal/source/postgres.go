package source

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/rowjay/drkit/internal/artifact"
	"github.com/rowjay/drkit/internal/config"
	"github.com/rowjay/drkit/internal/util"
)

// Postgres dumps with pg_dump and restores with psql. Credentials travel in
// PG* environment variables, never on the command line.
type Postgres struct {
	cfg               config.DatabaseConfig
	runner            util.Runner
	allowMissingTools bool
	log               zerolog.Logger

	// ping is replaceable for tests.
	ping func(ctx context.Context) error
}

func NewPostgres(cfg config.DatabaseConfig, runner util.Runner, allowMissingTools bool, log zerolog.Logger) *Postgres {
	p := &Postgres{cfg: cfg, runner: runner, allowMissingTools: allowMissingTools, log: log.With().Str("source", string(artifact.Relational)).Logger()}
	p.ping = p.pgxPing
	return p
}

func (p *Postgres) Kind() artifact.SourceKind { return artifact.Relational }

func (p *Postgres) Dump(ctx context.Context, dir string, cadence artifact.Cadence, createdAt time.Time) (string, error) {
	if !p.allowMissingTools {
		if err := util.RequireBinary("pg_dump"); err != nil {
			return "", err
		}
	}
	raw := filepath.Join(dir, artifact.RawFilename(artifact.Relational, cadence, createdAt))
	cmd := p.withEnv(util.NewCmd("pg_dump", "--no-owner", "--no-privileges", "--clean", "--if-exists").
		Flag("-f", raw).
		Arg(p.cfg.Database))

	p.log.Info().Str("cmd", cmd.String()).Strs("env", cmd.EnvKeys()).Msg("dumping database")
	if err := p.runner.Run(ctx, cmd); err != nil {
		os.Remove(raw)
		return "", err
	}
	return raw, nil
}

func (p *Postgres) Apply(ctx context.Context, path string) error {
	if !p.allowMissingTools {
		if err := util.RequireBinary("psql"); err != nil {
			return err
		}
	}
	cmd := p.withEnv(util.NewCmd("psql", "-v", "ON_ERROR_STOP=1").Flag("-f", path))
	p.log.Info().Str("cmd", cmd.String()).Msg("applying database dump")
	return p.runner.Run(ctx, cmd)
}

func (p *Postgres) Validate(ctx context.Context) error {
	if !p.allowMissingTools {
		for _, bin := range []string{"pg_dump", "psql"} {
			if err := util.RequireBinary(bin); err != nil {
				return err
			}
		}
	}
	if err := p.ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

func (p *Postgres) withEnv(cmd util.Cmd) util.Cmd {
	for k, v := range postgresEnv(p.cfg) {
		cmd = cmd.WithEnv(k, v)
	}
	return cmd
}

func (p *Postgres) pgxPing(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, connString(p.cfg))
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())
	return conn.Ping(ctx)
}

func postgresEnv(cfg config.DatabaseConfig) map[string]string {
	env := map[string]string{
		"PGHOST":     cfg.Host,
		"PGPORT":     portOrDefault(cfg.Port, 5432),
		"PGUSER":     cfg.Username,
		"PGDATABASE": cfg.Database,
	}
	if cfg.Password != "" {
		env["PGPASSWORD"] = cfg.Password
	}
	if cfg.SSLMode != "" {
		env["PGSSLMODE"] = cfg.SSLMode
	}
	if cfg.ConnectionTimeout > 0 {
		env["PGCONNECT_TIMEOUT"] = strconv.Itoa(int(cfg.ConnectionTimeout.Seconds()))
	}
	return env
}

func connString(cfg config.DatabaseConfig) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   cfg.Host + ":" + portOrDefault(cfg.Port, 5432),
		Path:   "/" + cfg.Database,
	}
	if cfg.Password != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	} else {
		u.User = url.User(cfg.Username)
	}
	q := url.Values{}
	if cfg.SSLMode != "" {
		q.Set("sslmode", cfg.SSLMode)
	}
	if cfg.ConnectionTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(cfg.ConnectionTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func portOrDefault(port, def int) string {
	if port == 0 {
		port = def
	}
	return strconv.Itoa(port)
}
