package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Keys for the two kinds of run that must not overlap.
const (
	KeyBackup  = "backup"
	KeyRestore = "restore"
)

// ErrRunInProgress matches any *RunInProgressError via errors.Is.
var ErrRunInProgress = errors.New("run in progress")

// RunInProgressError is returned when another run already holds the key.
type RunInProgressError struct {
	Key  string
	Path string
}

func (e *RunInProgressError) Error() string {
	return fmt.Sprintf("another %s run is already in progress (lock: %s)", e.Key, e.Path)
}

func (e *RunInProgressError) Is(target error) bool { return target == ErrRunInProgress }

type Lock struct {
	files []*flock.Flock
}

// Path is the lock file used for key inside dir (os.TempDir when empty).
func Path(dir, key string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "drkit-"+key+".lock")
}

// Acquire takes file locks for every key, in order, without blocking. Locks
// already taken are released if a later key is busy.
func Acquire(dir string, keys ...string) (*Lock, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create lock dir: %w", err)
		}
	}
	l := &Lock{}
	for _, key := range keys {
		path := Path(dir, key)
		f := flock.New(path)
		ok, err := f.TryLock()
		if err != nil {
			l.Release()
			return nil, err
		}
		if !ok {
			l.Release()
			return nil, &RunInProgressError{Key: key, Path: path}
		}
		l.files = append(l.files, f)
	}
	return l, nil
}

// Release frees the locks in reverse order.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	var errs []error
	for i := len(l.files) - 1; i >= 0; i-- {
		if err := l.files[i].Unlock(); err != nil {
			errs = append(errs, err)
		}
	}
	l.files = nil
	return errors.Join(errs...)
}
