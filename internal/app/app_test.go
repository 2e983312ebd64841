package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/drkit/internal/artifact"
	"github.com/rowjay/drkit/internal/config"
	"github.com/rowjay/drkit/internal/lock"
	"github.com/rowjay/drkit/internal/notify"
	"github.com/rowjay/drkit/internal/restore"
	"github.com/rowjay/drkit/internal/source"
	"github.com/rowjay/drkit/internal/storage"
)

type stubDriver struct {
	kind    artifact.SourceKind
	payload string
	applied []string
	dumpErr error
}

func (s *stubDriver) Kind() artifact.SourceKind { return s.kind }

func (s *stubDriver) Dump(_ context.Context, dir string, cadence artifact.Cadence, createdAt time.Time) (string, error) {
	if s.dumpErr != nil {
		return "", s.dumpErr
	}
	raw := filepath.Join(dir, artifact.RawFilename(s.kind, cadence, createdAt))
	return raw, os.WriteFile(raw, []byte(s.payload), 0o600)
}

func (s *stubDriver) Apply(_ context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	s.applied = append(s.applied, string(data))
	return nil
}

func (s *stubDriver) Validate(context.Context) error { return nil }

type stubController struct{ calls int }

func (c *stubController) Stop(context.Context, []string) error  { c.calls++; return nil }
func (c *stubController) Start(context.Context, []string) error { c.calls++; return nil }

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

type harness struct {
	app   *App
	pg    *stubDriver
	redis *stubDriver
	ctrl  *stubController
	sink  *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := &config.Config{}
	cfg.Global.LockDir = t.TempDir()
	cfg.Global.OperationTimeout = time.Minute
	cfg.Restore.Timeout = time.Minute
	cfg.Retention = config.RetentionConfig{Hourly: 1, Daily: 7}
	cfg.Backup.Parallel = true
	cfg.Restore.Services.Postgres = []string{"backend", "ai-engine"}
	cfg.Restore.Services.Redis = []string{"redis"}

	h := &harness{
		pg:    &stubDriver{kind: artifact.Relational, payload: "SELECT 1;"},
		redis: &stubDriver{kind: artifact.Cache, payload: "REDIS0011"},
		ctrl:  &stubController{},
		sink:  &recordingNotifier{},
	}
	store := storage.NewArtifactStore(storage.NewLocal(t.TempDir()), storage.NewLocal(t.TempDir()), "backups", zerolog.Nop())
	h.app = Assemble(cfg, store, []source.Driver{h.pg, h.redis}, h.ctrl, h.sink, nil, zerolog.Nop())
	ids := 0
	h.app.NewID = func() string { ids++; return fmt.Sprintf("run-%d", ids) }
	return h
}

func TestBackupEmitsOneReport(t *testing.T) {
	h := newHarness(t)
	run, err := h.app.Backup(context.Background(), artifact.Daily)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if !run.Success() || len(run.Results) != 2 || run.EndedAt.IsZero() {
		t.Fatalf("unexpected run: %+v", run)
	}
	if len(h.sink.events) != 1 || h.sink.events[0].Status != "success" || h.sink.events[0].RunID != run.ID {
		t.Fatalf("expected exactly one success report, got %+v", h.sink.events)
	}
	for _, r := range run.Results {
		if !r.Artifact.Uploaded {
			t.Fatalf("artifact not uploaded: %+v", r.Artifact)
		}
	}
}

func TestBackupPrunesCadence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.app.Backup(ctx, artifact.Hourly); err != nil {
		t.Fatalf("first backup: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	run, err := h.app.Backup(ctx, artifact.Hourly)
	if err != nil {
		t.Fatalf("second backup: %v", err)
	}
	// the keep-count applies to the cadence across sources
	if len(run.Pruned) != 2 {
		t.Fatalf("expected 2 pruned artifacts, got %d", len(run.Pruned))
	}
	local, err := h.app.Store.List(ctx, artifact.Local)
	if err != nil || len(local) != 1 {
		t.Fatalf("expected 1 local artifact, got %v %v", local, err)
	}
	remote, err := h.app.Store.List(ctx, artifact.Remote)
	if err != nil || len(remote) != 4 {
		t.Fatalf("remote copies must be kept, got %d %v", len(remote), err)
	}
}

func TestBackupPrunesAfterDeadline(t *testing.T) {
	h := newHarness(t)
	h.app.Pruner.Policy[artifact.Hourly] = 0
	if _, err := h.app.Backup(context.Background(), artifact.Hourly); err != nil {
		t.Fatalf("first backup: %v", err)
	}
	h.app.Pruner.Policy[artifact.Hourly] = 1

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	run, err := h.app.Backup(ctx, artifact.Hourly)
	if err != nil {
		t.Fatalf("second backup: %v", err)
	}
	if run.Success() || len(run.Pruned) != 1 {
		t.Fatalf("expected a failed run that still pruned one artifact: %+v", run)
	}
	local, err := h.app.Store.List(context.Background(), artifact.Local)
	if err != nil || len(local) != 1 {
		t.Fatalf("expected 1 local artifact, got %v %v", local, err)
	}
}

func TestBackupPartialFailure(t *testing.T) {
	h := newHarness(t)
	h.redis.dumpErr = errors.New("BGSAVE failed")
	run, err := h.app.Backup(context.Background(), artifact.Manual)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if run.Success() || !run.Partial() {
		t.Fatalf("expected partial run: %+v", run)
	}
	if len(h.sink.events) != 1 || h.sink.events[0].Status != "partial" {
		t.Fatalf("unexpected reports: %+v", h.sink.events)
	}
}

func TestBackupWhileLockedIsRejected(t *testing.T) {
	h := newHarness(t)
	held, err := lock.Acquire(h.app.Cfg.Global.LockDir, lock.KeyBackup)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer held.Release()

	_, err = h.app.Backup(context.Background(), artifact.Hourly)
	if !errors.Is(err, lock.ErrRunInProgress) {
		t.Fatalf("expected run in progress, got %v", err)
	}
	if len(h.sink.events) != 0 {
		t.Fatalf("a rejected run must not report: %+v", h.sink.events)
	}
}

func TestQuickRollbackWithoutBackups(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.app.QuickRollback(context.Background())
	if !errors.Is(err, restore.ErrNoBackupFound) {
		t.Fatalf("expected ErrNoBackupFound, got %v", err)
	}
	if h.ctrl.calls != 0 {
		t.Fatalf("consumers must not be touched, got %d calls", h.ctrl.calls)
	}
	if len(h.sink.events) != 1 || h.sink.events[0].Status != "failure" || h.sink.events[0].Error == "" {
		t.Fatalf("expected one failure report, got %+v", h.sink.events)
	}
}

func TestBackupThenQuickRollback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.app.Backup(ctx, artifact.Daily); err != nil {
		t.Fatalf("backup: %v", err)
	}
	run, outcomes, err := h.app.QuickRollback(ctx)
	if err != nil {
		t.Fatalf("quick: %v", err)
	}
	if !run.Success() || len(outcomes) != 2 || run.Kind != artifact.RestoreRun {
		t.Fatalf("unexpected run: %+v", run)
	}
	if h.pg.applied[0] != "SELECT 1;" || h.redis.applied[0] != "REDIS0011" {
		t.Fatalf("unexpected applied data: %v %v", h.pg.applied, h.redis.applied)
	}
	if h.ctrl.calls != 4 {
		t.Fatalf("expected stop and start per source, got %d", h.ctrl.calls)
	}
	if len(h.sink.events) != 2 {
		t.Fatalf("expected one report per run, got %d", len(h.sink.events))
	}
}

func TestRestoreByKeyAndLatest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	backup, err := h.app.Backup(ctx, artifact.Manual)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	key := backup.Results[0].Artifact.Key
	if _, _, err := h.app.Restore(ctx, key); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(h.pg.applied) != 1 {
		t.Fatalf("postgres not restored")
	}
	if _, _, err := h.app.RestoreLatest(ctx, artifact.Cache); err != nil {
		t.Fatalf("restore latest: %v", err)
	}
	if len(h.redis.applied) != 1 {
		t.Fatalf("redis not restored")
	}
	if _, _, err := h.app.Restore(ctx, "missing.sql.gz"); !errors.Is(err, restore.ErrNoBackupFound) {
		t.Fatalf("expected ErrNoBackupFound, got %v", err)
	}
}

func TestPruneDryRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := h.app.Backup(ctx, artifact.Startup); err != nil {
			t.Fatalf("backup: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	h.app.Pruner.Policy[artifact.Startup] = 1
	expired, err := h.app.Prune(ctx, true)
	if err != nil || len(expired) != 5 {
		t.Fatalf("expected 5 expired artifacts, got %d %v", len(expired), err)
	}
	local, _ := h.app.Store.List(ctx, artifact.Local)
	if len(local) != 6 {
		t.Fatalf("dry run must not delete, have %d", len(local))
	}
	deleted, err := h.app.Prune(ctx, false)
	if err != nil || len(deleted) != 5 {
		t.Fatalf("expected 5 deletions, got %d %v", len(deleted), err)
	}
}

func TestValidate(t *testing.T) {
	h := newHarness(t)
	if err := h.app.Validate(context.Background()); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
