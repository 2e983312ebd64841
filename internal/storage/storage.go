package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	// ErrNotFound is returned when a key does not exist in a store.
	ErrNotFound = errors.New("not found")
	// ErrRemoteDisabled is returned by remote operations when no bucket is configured.
	ErrRemoteDisabled = errors.New("remote storage not configured")
)

type ObjectInfo struct {
	Key      string
	Size     int64
	Modified time.Time
	ETag     string
	Metadata map[string]string
}

// ObjectStore is a flat key/value blob store.
type ObjectStore interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, metadata map[string]string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// IOError reports a local disk failure (write, compress, delete).
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string { return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// RemoteTransferError reports a failed upload, download or listing.
type RemoteTransferError struct {
	Op  string
	Key string
	Err error
}

func (e *RemoteTransferError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("remote %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *RemoteTransferError) Unwrap() error { return e.Err }

// DegradedError accompanies an artifact whose compressed file could not be
// produced. The artifact is still returned, with SizeBytes 0.
type DegradedError struct {
	Name string
	Err  error
}

func (e *DegradedError) Error() string {
	return fmt.Sprintf("degraded artifact %s: %v", e.Name, e.Err)
}

func (e *DegradedError) Unwrap() error { return e.Err }
