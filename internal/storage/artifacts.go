package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/drkit/internal/artifact"
	"github.com/rowjay/drkit/internal/compress"
	"github.com/rowjay/drkit/internal/util"
)

// ArtifactStore keeps compressed dumps in a local directory and mirrors them to
// an optional remote bucket.
type ArtifactStore struct {
	Local     *Local
	Remote    ObjectStore // nil when remote storage is disabled
	Namespace string

	Level         int
	UploadRetries int
	UploadBackoff time.Duration

	// Compress turns a raw dump into its compressed artifact.
	Compress func(src, dst string, level int) (int64, error)

	Log zerolog.Logger
}

func NewArtifactStore(local *Local, remote ObjectStore, namespace string, log zerolog.Logger) *ArtifactStore {
	return &ArtifactStore{
		Local:         local,
		Remote:        remote,
		Namespace:     namespace,
		Level:         6,
		UploadRetries: 1,
		Compress:      compress.File,
		Log:           log,
	}
}

// RemoteEnabled reports whether a remote bucket is configured.
func (s *ArtifactStore) RemoteEnabled() bool { return s.Remote != nil }

// Root is the local artifact directory.
func (s *ArtifactStore) Root() string { return s.Local.BasePath }

// Put compresses the raw dump at rawPath into the local root and removes the raw
// file. When compression fails the returned artifact has SizeBytes 0, the raw
// file is left in place and a *DegradedError is returned with it.
func (s *ArtifactStore) Put(ctx context.Context, rawPath string, source artifact.SourceKind, cadence artifact.Cadence, createdAt time.Time) (artifact.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return artifact.Artifact{}, err
	}
	if err := s.EnsureWritable(); err != nil {
		return artifact.Artifact{}, err
	}

	created := artifact.Normalize(createdAt)
	name := artifact.Filename(source, cadence, created)
	art := artifact.Artifact{
		Source:    source,
		Cadence:   cadence,
		CreatedAt: created,
		Location:  artifact.Local,
		Key:       name,
	}

	size, err := s.Compress(rawPath, s.Local.Path(name), s.Level)
	if err != nil {
		s.Log.Warn().Err(err).Str("file", name).Str("raw", rawPath).Msg("compression failed, keeping raw dump")
		return art, &DegradedError{Name: name, Err: err}
	}
	art.SizeBytes = size

	if err := os.Remove(rawPath); err != nil && !os.IsNotExist(err) {
		s.Log.Warn().Err(err).Str("raw", rawPath).Msg("failed to remove raw dump")
	}
	s.Log.Info().Str("file", name).Int64("size", size).Msg("artifact stored")
	return art, nil
}

// EnsureWritable creates the local root if needed and checks that files can be
// written to it.
func (s *ArtifactStore) EnsureWritable() error {
	root := s.Local.BasePath
	if err := os.MkdirAll(root, 0o750); err != nil {
		return &IOError{Op: "create", Path: root, Err: err}
	}
	probe, err := os.CreateTemp(root, ".probe-*")
	if err != nil {
		return &IOError{Op: "write", Path: root, Err: err}
	}
	probe.Close()
	os.Remove(probe.Name())
	return nil
}

// RemoteKey is where art is stored in the bucket.
func (s *ArtifactStore) RemoteKey(art artifact.Artifact) string {
	return artifact.RemoteKey(s.Namespace, art.Source, art.Cadence, art.Filename())
}

// Upload mirrors a local artifact to the remote bucket. It never fails; the
// outcome is recorded on the returned artifact.
func (s *ArtifactStore) Upload(ctx context.Context, art artifact.Artifact) artifact.Artifact {
	log := s.Log.With().Str("file", art.Key).Logger()
	switch {
	case s.Remote == nil:
		art.UploadError = ErrRemoteDisabled.Error()
		return art
	case art.Location != artifact.Local:
		art.UploadError = "only local artifacts can be uploaded"
		return art
	case art.Degraded():
		art.UploadError = "degraded artifact not uploaded"
		return art
	}

	key := s.RemoteKey(art)
	meta := Metadata(art)
	attempts := s.UploadRetries
	err := util.Retry(ctx, attempts, s.UploadBackoff, func(attempt int) error {
		f, err := os.Open(s.Local.Path(art.Key))
		if err != nil {
			return util.Permanent(err)
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return util.Permanent(err)
		}
		if err := s.Remote.Put(ctx, key, f, info.Size(), meta); err != nil {
			log.Warn().Err(err).Str("key", key).Int("attempt", attempt).Msg("upload attempt failed")
			return err
		}
		return nil
	})
	if err != nil {
		art.UploadError = (&RemoteTransferError{Op: "upload", Key: key, Err: err}).Error()
		log.Error().Err(err).Str("key", key).Msg("upload failed")
		return art
	}
	art.RemoteKey = key
	art.Uploaded = true
	log.Info().Str("key", key).Msg("artifact uploaded")
	return art
}

// List returns the artifacts at loc, newest first. Objects whose names do not
// parse as artifacts are skipped.
func (s *ArtifactStore) List(ctx context.Context, loc artifact.Location) ([]artifact.Artifact, error) {
	var (
		infos []ObjectInfo
		err   error
	)
	switch loc {
	case artifact.Local:
		infos, err = s.Local.List(ctx, "")
		if err != nil {
			return nil, &IOError{Op: "list", Path: s.Local.BasePath, Err: err}
		}
	case artifact.Remote:
		if s.Remote == nil {
			return []artifact.Artifact{}, nil
		}
		infos, err = s.Remote.List(ctx, artifact.RemotePrefix(s.Namespace))
		if err != nil {
			return nil, &RemoteTransferError{Op: "list", Err: err}
		}
	default:
		return nil, fmt.Errorf("unknown location: %q", loc)
	}

	out := make([]artifact.Artifact, 0, len(infos))
	for _, info := range infos {
		id, perr := artifact.ParseFilename(info.Key)
		if perr != nil {
			continue
		}
		// local artifacts live directly under the root
		if loc == artifact.Local && path.Dir(info.Key) != "." {
			continue
		}
		out = append(out, artifact.Artifact{
			Source:    id.Source,
			Cadence:   id.Cadence,
			CreatedAt: id.CreatedAt,
			Location:  loc,
			Key:       info.Key,
			SizeBytes: info.Size,
		})
	}
	artifact.SortNewestFirst(out)
	return out, nil
}

// ListAll returns local artifacts followed by remote ones. A remote failure is
// returned together with the local records.
func (s *ArtifactStore) ListAll(ctx context.Context) ([]artifact.Artifact, error) {
	local, err := s.List(ctx, artifact.Local)
	if err != nil {
		return nil, err
	}
	remote, err := s.List(ctx, artifact.Remote)
	if err != nil {
		return local, err
	}
	return append(local, remote...), nil
}

// Fetch returns a local path holding art, downloading remote artifacts into the
// local root when they are not already there.
func (s *ArtifactStore) Fetch(ctx context.Context, art artifact.Artifact) (string, error) {
	if art.Location == artifact.Local {
		ok, err := s.Local.Exists(ctx, art.Key)
		if err != nil {
			return "", &IOError{Op: "stat", Path: s.Local.Path(art.Key), Err: err}
		}
		if !ok {
			return "", fmt.Errorf("local artifact %s: %w", art.Key, ErrNotFound)
		}
		return s.Local.Path(art.Key), nil
	}

	name := path.Base(art.Key)
	target := s.Local.Path(name)
	if ok, _ := s.Local.Exists(ctx, name); ok {
		s.Log.Debug().Str("file", name).Msg("remote artifact already present locally")
		return target, nil
	}
	if s.Remote == nil {
		return "", &RemoteTransferError{Op: "download", Key: art.Key, Err: ErrRemoteDisabled}
	}

	if _, err := s.Remote.Stat(ctx, art.Key); err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("remote artifact %s: %w", art.Key, ErrNotFound)
		}
		return "", &RemoteTransferError{Op: "stat", Key: art.Key, Err: err}
	}
	rc, err := s.Remote.Get(ctx, art.Key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("remote artifact %s: %w", art.Key, ErrNotFound)
		}
		return "", &RemoteTransferError{Op: "download", Key: art.Key, Err: err}
	}
	defer rc.Close()
	if err := s.Local.Put(ctx, name, rc, art.SizeBytes, nil); err != nil {
		return "", &RemoteTransferError{Op: "download", Key: art.Key, Err: err}
	}
	s.Log.Info().Str("key", art.Key).Str("file", name).Msg("artifact downloaded")
	return target, nil
}

// Delete removes a local artifact. Remote copies are never deleted.
func (s *ArtifactStore) Delete(ctx context.Context, art artifact.Artifact) error {
	if art.Location != artifact.Local {
		return fmt.Errorf("refusing to delete %s artifact %s", art.Location, art.Key)
	}
	if err := s.Local.Delete(ctx, art.Key); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return &IOError{Op: "delete", Path: s.Local.Path(art.Key), Err: err}
	}
	return nil
}

// Ping checks the remote bucket when one is configured.
func (s *ArtifactStore) Ping(ctx context.Context) error {
	p, ok := s.Remote.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	return p.Ping(ctx)
}
