package producer

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/drkit/internal/artifact"
	"github.com/rowjay/drkit/internal/source"
	"github.com/rowjay/drkit/internal/storage"
	"github.com/rowjay/drkit/internal/util"
)

type fakeDriver struct {
	kind    artifact.SourceKind
	err     error
	running *int32
	peak    *int32
}

func (f *fakeDriver) Kind() artifact.SourceKind { return f.kind }

func (f *fakeDriver) Dump(ctx context.Context, dir string, cadence artifact.Cadence, createdAt time.Time) (string, error) {
	if f.running != nil {
		n := atomic.AddInt32(f.running, 1)
		defer atomic.AddInt32(f.running, -1)
		for {
			old := atomic.LoadInt32(f.peak)
			if n <= old || atomic.CompareAndSwapInt32(f.peak, old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	if f.err != nil {
		return "", f.err
	}
	raw := filepath.Join(dir, artifact.RawFilename(f.kind, cadence, createdAt))
	return raw, os.WriteFile(raw, []byte(strings.Repeat("data", 64)), 0o600)
}

func (f *fakeDriver) Apply(context.Context, string) error { return nil }
func (f *fakeDriver) Validate(context.Context) error      { return nil }

type failingRemote struct{ storage.ObjectStore }

func (failingRemote) Put(context.Context, string, io.Reader, int64, map[string]string) error {
	return errors.New("bucket unreachable")
}

var fixed = time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC)

func newProducer(t *testing.T, remote storage.ObjectStore, drivers ...*fakeDriver) *Producer {
	t.Helper()
	store := storage.NewArtifactStore(storage.NewLocal(t.TempDir()), remote, "backups", zerolog.Nop())
	ds := make([]source.Driver, 0, len(drivers))
	for _, d := range drivers {
		ds = append(ds, d)
	}
	p := New(ds, store, true, zerolog.Nop())
	p.Now = func() time.Time { return fixed }
	return p
}

func TestRunOneArtifactPerSource(t *testing.T) {
	p := newProducer(t, storage.NewLocal(t.TempDir()),
		&fakeDriver{kind: artifact.Relational},
		&fakeDriver{kind: artifact.Cache})

	results := p.Run(context.Background(), artifact.Daily)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for i, want := range []artifact.SourceKind{artifact.Relational, artifact.Cache} {
		r := results[i]
		if r.Source != want || !r.Success || r.Artifact == nil {
			t.Fatalf("unexpected result %d: %+v", i, r)
		}
		if r.Artifact.Cadence != artifact.Daily || !r.Artifact.CreatedAt.Equal(fixed) || !r.Artifact.Uploaded {
			t.Fatalf("unexpected artifact: %+v", r.Artifact)
		}
	}
	list, err := p.Store.List(context.Background(), artifact.Local)
	if err != nil || len(list) != 2 {
		t.Fatalf("expected 2 local artifacts, got %v %v", list, err)
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	p := newProducer(t, nil,
		&fakeDriver{kind: artifact.Relational, err: &util.ExternalProcessError{Command: "pg_dump", ExitCode: 1}},
		&fakeDriver{kind: artifact.Cache})

	results := p.Run(context.Background(), artifact.Hourly)
	if results[0].Success || !strings.Contains(results[0].ErrorMessage, "pg_dump exited with code 1") {
		t.Fatalf("unexpected postgres result: %+v", results[0])
	}
	if !results[1].Success || results[1].Artifact == nil {
		t.Fatalf("redis should succeed independently: %+v", results[1])
	}
}

func TestRunUploadFailureIsWarning(t *testing.T) {
	p := newProducer(t, failingRemote{}, &fakeDriver{kind: artifact.Cache})
	r := p.Run(context.Background(), artifact.Manual)[0]
	if !r.Success || !strings.Contains(r.Warning, "bucket unreachable") || r.Artifact.Uploaded {
		t.Fatalf("unexpected result: %+v", r)
	}
}

func TestRunDegradedIsSuccessWithWarning(t *testing.T) {
	p := newProducer(t, storage.NewLocal(t.TempDir()), &fakeDriver{kind: artifact.Relational})
	p.Store.Compress = func(string, string, int) (int64, error) { return 0, errors.New("gzip: short write") }

	r := p.Run(context.Background(), artifact.Daily)[0]
	if !r.Success || r.Warning == "" || r.Artifact == nil || !r.Artifact.Degraded() {
		t.Fatalf("unexpected result: %+v", r)
	}
	if r.Artifact.Uploaded {
		t.Fatalf("degraded artifact must not be uploaded")
	}
}

func TestRunSequentialWhenNotParallel(t *testing.T) {
	var running, peak int32
	p := newProducer(t, nil,
		&fakeDriver{kind: artifact.Relational, running: &running, peak: &peak},
		&fakeDriver{kind: artifact.Cache, running: &running, peak: &peak})
	p.Parallel = false
	p.Run(context.Background(), artifact.Daily)
	if peak != 1 {
		t.Fatalf("expected sequential execution, peak concurrency %d", peak)
	}
}
