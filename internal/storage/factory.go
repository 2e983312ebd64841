package storage

import (
	"github.com/rs/zerolog"

	"github.com/rowjay/drkit/internal/config"
)

// NewRemote returns the configured remote store, or nil when no bucket is set.
func NewRemote(cfg config.S3Store) (ObjectStore, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}
	s3, err := NewS3(cfg)
	if err != nil {
		return nil, err
	}
	return s3, nil
}

// New builds the artifact store described by cfg.
func New(cfg *config.Config, log zerolog.Logger) (*ArtifactStore, error) {
	remote, err := NewRemote(cfg.Storage.S3)
	if err != nil {
		return nil, err
	}
	store := NewArtifactStore(NewLocal(cfg.Storage.Local.Path), remote, cfg.Storage.S3.Namespace, log)
	store.Level = cfg.Backup.CompressionLevel
	store.UploadRetries = cfg.Backup.UploadRetries
	store.UploadBackoff = cfg.Backup.UploadBackoff
	return store, nil
}
