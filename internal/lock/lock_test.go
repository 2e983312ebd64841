package lock

import (
	"errors"
	"testing"
)

func TestAcquireExclusive(t *testing.T) {
	dir := t.TempDir()
	first, err := Acquire(dir, KeyBackup)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	_, err = Acquire(dir, KeyBackup)
	if !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected run in progress, got %v", err)
	}
	var rip *RunInProgressError
	if !errors.As(err, &rip) || rip.Key != KeyBackup {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	again, err := Acquire(dir, KeyBackup)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	again.Release()
}

func TestKeysAreIndependent(t *testing.T) {
	dir := t.TempDir()
	b, err := Acquire(dir, KeyBackup)
	if err != nil {
		t.Fatalf("acquire backup: %v", err)
	}
	defer b.Release()
	r, err := Acquire(dir, KeyRestore)
	if err != nil {
		t.Fatalf("acquire restore: %v", err)
	}
	r.Release()
}

func TestAcquireMultipleRollsBack(t *testing.T) {
	dir := t.TempDir()
	r, err := Acquire(dir, KeyRestore)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := Acquire(dir, KeyBackup, KeyRestore); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected run in progress, got %v", err)
	}
	r.Release()
	// backup must have been released by the failed multi-key acquire
	b, err := Acquire(dir, KeyBackup)
	if err != nil {
		t.Fatalf("backup key leaked: %v", err)
	}
	b.Release()
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
