package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/rowjay/drkit/internal/artifact"
	"github.com/rowjay/drkit/internal/config"
	"github.com/rowjay/drkit/internal/util"
)

type fakeRunner struct {
	cmds []util.Cmd
	err  error
	// output, when set, is written to the last argument of each command.
	output string
}

func (f *fakeRunner) Run(_ context.Context, c util.Cmd) error {
	f.cmds = append(f.cmds, c)
	if f.output != "" && len(c.Args) > 0 {
		_ = os.WriteFile(c.Args[len(c.Args)-1], []byte(f.output), 0o600)
	}
	return f.err
}

type fakeSaver struct {
	bgsaveErr error
	bgsaves   int
	lastsave  int64
}

func (f *fakeSaver) BgSave(ctx context.Context) *redis.StatusCmd {
	f.bgsaves++
	if f.bgsaveErr != nil {
		return redis.NewStatusResult("", f.bgsaveErr)
	}
	f.lastsave++
	return redis.NewStatusResult("Background saving started", nil)
}

func (f *fakeSaver) LastSave(ctx context.Context) *redis.IntCmd {
	return redis.NewIntResult(f.lastsave, nil)
}

func (f *fakeSaver) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

var created = time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC)

func TestPostgresDumpCommand(t *testing.T) {
	runner := &fakeRunner{}
	cfg := config.DatabaseConfig{Host: "db", Port: 5433, Username: "app", Password: "s3cret", Database: "dashboard", SSLMode: "disable"}
	pg := NewPostgres(cfg, runner, true, zerolog.Nop())
	dir := t.TempDir()

	raw, err := pg.Dump(context.Background(), dir, artifact.Daily, created)
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	if raw != filepath.Join(dir, "postgres-daily-2024-01-01T02-00-00-000Z.sql") {
		t.Fatalf("unexpected raw path: %s", raw)
	}
	if len(runner.cmds) != 1 {
		t.Fatalf("expected one command, got %d", len(runner.cmds))
	}
	cmd := runner.cmds[0]
	if cmd.Name != "pg_dump" {
		t.Fatalf("unexpected command: %s", cmd.Name)
	}
	want := []string{"--no-owner", "--no-privileges", "--clean", "--if-exists", "-f", raw, "dashboard"}
	if strings.Join(cmd.Args, " ") != strings.Join(want, " ") {
		t.Fatalf("unexpected args: %v", cmd.Args)
	}
	if strings.Contains(cmd.String(), "s3cret") {
		t.Fatalf("password leaked into command line: %s", cmd.String())
	}
	if cmd.Env["PGPASSWORD"] != "s3cret" || cmd.Env["PGPORT"] != "5433" || cmd.Env["PGSSLMODE"] != "disable" {
		t.Fatalf("unexpected env: %v", cmd.EnvKeys())
	}
}

func TestPostgresDumpFailureRemovesRaw(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, artifact.RawFilename(artifact.Relational, artifact.Hourly, created))
	if err := os.WriteFile(raw, []byte("partial"), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	runner := &fakeRunner{err: &util.ExternalProcessError{Command: "pg_dump", ExitCode: 1}}
	pg := NewPostgres(config.DatabaseConfig{Database: "app"}, runner, true, zerolog.Nop())

	_, err := pg.Dump(context.Background(), dir, artifact.Hourly, created)
	var perr *util.ExternalProcessError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ExternalProcessError, got %v", err)
	}
	if _, err := os.Stat(raw); !os.IsNotExist(err) {
		t.Fatalf("partial dump should be removed")
	}
}

func TestPostgresApplyStopsOnError(t *testing.T) {
	runner := &fakeRunner{}
	pg := NewPostgres(config.DatabaseConfig{Database: "app"}, runner, true, zerolog.Nop())
	if err := pg.Apply(context.Background(), "/tmp/restore.sql"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got := strings.Join(runner.cmds[0].Args, " ")
	if runner.cmds[0].Name != "psql" || got != "-v ON_ERROR_STOP=1 -f /tmp/restore.sql" {
		t.Fatalf("unexpected command: %s", runner.cmds[0].String())
	}
}

func TestPostgresValidateUsesPing(t *testing.T) {
	pg := NewPostgres(config.DatabaseConfig{Database: "app"}, &fakeRunner{}, true, zerolog.Nop())
	pg.ping = func(context.Context) error { return errors.New("refused") }
	if err := pg.Validate(context.Background()); err == nil || !strings.Contains(err.Error(), "refused") {
		t.Fatalf("expected ping error, got %v", err)
	}
}

func TestConnStringEscapesCredentials(t *testing.T) {
	got := connString(config.DatabaseConfig{Host: "db", Username: "app", Password: "p@ss/word", Database: "dash", SSLMode: "require"})
	if !strings.HasPrefix(got, "postgres://app:p%40ss%2Fword@db:5432/dash") || !strings.Contains(got, "sslmode=require") {
		t.Fatalf("unexpected conn string: %s", got)
	}
}

func TestRedisDumpFromFile(t *testing.T) {
	rdb := filepath.Join(t.TempDir(), "dump.rdb")
	if err := os.WriteFile(rdb, []byte("REDIS0011"), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	saver := &fakeSaver{}
	r := NewRedisWithClient(config.CacheConfig{RDBPath: rdb}, saver, &fakeRunner{}, true, zerolog.Nop())

	raw, err := r.Dump(context.Background(), t.TempDir(), artifact.Startup, created)
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	if filepath.Base(raw) != "redis-startup-2024-01-01T02-00-00-000Z.rdb" {
		t.Fatalf("unexpected raw name: %s", raw)
	}
	data, err := os.ReadFile(raw)
	if err != nil || string(data) != "REDIS0011" {
		t.Fatalf("unexpected snapshot %q: %v", data, err)
	}
	if saver.bgsaves != 1 {
		t.Fatalf("expected one BGSAVE, got %d", saver.bgsaves)
	}
}

func TestRedisDumpFromContainer(t *testing.T) {
	runner := &fakeRunner{output: "REDIS"}
	r := NewRedisWithClient(config.CacheConfig{Container: "stack-redis-1", RDBPath: "/data/dump.rdb"}, &fakeSaver{}, runner, true, zerolog.Nop())

	raw, err := r.Dump(context.Background(), t.TempDir(), artifact.Hourly, created)
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	got := strings.Join(runner.cmds[0].Args, " ")
	if runner.cmds[0].Name != "docker" || got != "cp stack-redis-1:/data/dump.rdb "+raw {
		t.Fatalf("unexpected command: %s", runner.cmds[0].String())
	}
}

func TestRedisBgsaveFailureAbortsBeforeCopy(t *testing.T) {
	runner := &fakeRunner{}
	saver := &fakeSaver{bgsaveErr: errors.New("ERR background save already in progress")}
	r := NewRedisWithClient(config.CacheConfig{Container: "redis"}, saver, runner, true, zerolog.Nop())

	if _, err := r.Dump(context.Background(), t.TempDir(), artifact.Hourly, created); err == nil {
		t.Fatalf("expected error")
	}
	if len(runner.cmds) != 0 {
		t.Fatalf("copy should not run after failed trigger, ran %v", runner.cmds)
	}
}

func TestRedisGraceWaitHonoursContext(t *testing.T) {
	r := NewRedisWithClient(config.CacheConfig{RDBPath: "/nonexistent", SaveGrace: time.Hour}, &fakeSaver{}, &fakeRunner{}, true, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Dump(ctx, t.TempDir(), artifact.Hourly, created)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRedisApplyToFile(t *testing.T) {
	target := filepath.Join(t.TempDir(), "data", "dump.rdb")
	src := filepath.Join(t.TempDir(), "restore.rdb")
	if err := os.WriteFile(src, []byte("REDIS0011"), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	r := NewRedisWithClient(config.CacheConfig{RDBPath: target}, &fakeSaver{}, &fakeRunner{}, true, zerolog.Nop())
	if err := r.Apply(context.Background(), src); err != nil {
		t.Fatalf("apply: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil || string(data) != "REDIS0011" {
		t.Fatalf("unexpected target %q: %v", data, err)
	}
}

func TestRedisValidatePing(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	cfg := config.CacheConfig{Host: mr.Host(), Port: port, DialTimeout: time.Second, CommandTimeout: time.Second}
	r := NewRedis(cfg, &fakeRunner{}, true, zerolog.Nop())
	defer r.Close()
	if err := r.Validate(context.Background()); err != nil {
		t.Fatalf("validate: %v", err)
	}

	mr.Close()
	if err := r.Validate(context.Background()); err == nil {
		t.Fatalf("expected error after server shutdown")
	}
}

func TestFromConfigHonoursEnabled(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.Enabled = true
	drivers := FromConfig(cfg, &fakeRunner{}, zerolog.Nop())
	if len(drivers) != 1 || drivers[0].Kind() != artifact.Relational {
		t.Fatalf("unexpected drivers: %v", drivers)
	}
}
