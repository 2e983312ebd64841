package storage

import (
	"strconv"

	"github.com/rowjay/drkit/internal/artifact"
)

// Metadata is attached to every uploaded object.
func Metadata(a artifact.Artifact) map[string]string {
	return map[string]string{
		"backup-type":   string(a.Cadence),
		"database-type": string(a.Source),
		"timestamp":     a.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
		"file-size":     strconv.FormatInt(a.SizeBytes, 10),
	}
}
