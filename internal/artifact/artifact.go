package artifact

import (
	"fmt"
	"sort"
	"time"
)

// SourceKind identifies a protected data store.
type SourceKind string

const (
	Relational SourceKind = "postgres"
	Cache      SourceKind = "redis"
)

// Sources lists every protected source kind in run order.
var Sources = []SourceKind{Relational, Cache}

// Ext is the raw dump extension for the source, before compression.
func (s SourceKind) Ext() string {
	switch s {
	case Relational:
		return "sql"
	case Cache:
		return "rdb"
	default:
		return ""
	}
}

func (s SourceKind) Valid() bool { return s.Ext() != "" }

// ParseSource accepts the canonical names plus a few common aliases.
func ParseSource(v string) (SourceKind, error) {
	switch v {
	case "postgres", "postgresql", "relational":
		return Relational, nil
	case "redis", "cache":
		return Cache, nil
	default:
		return "", fmt.Errorf("unknown source kind: %q", v)
	}
}

// Cadence is the schedule tier an artifact was produced under.
type Cadence string

const (
	Hourly  Cadence = "hourly"
	Daily   Cadence = "daily"
	Weekly  Cadence = "weekly"
	Monthly Cadence = "monthly"
	Manual  Cadence = "manual"
	Startup Cadence = "startup"
	Quick   Cadence = "quick"
)

var Cadences = []Cadence{Hourly, Daily, Weekly, Monthly, Manual, Startup, Quick}

func (c Cadence) Valid() bool {
	for _, known := range Cadences {
		if c == known {
			return true
		}
	}
	return false
}

func ParseCadence(v string) (Cadence, error) {
	c := Cadence(v)
	if !c.Valid() {
		return "", fmt.Errorf("unknown cadence: %q", v)
	}
	return c, nil
}

// Location says where a physical copy of an artifact lives.
type Location string

const (
	Local  Location = "local"
	Remote Location = "remote"
)

// Artifact is one compressed dump of one source. Local and Remote copies of the
// same dump share Source, Cadence and CreatedAt but are separate records.
type Artifact struct {
	Source    SourceKind `json:"source"`
	Cadence   Cadence    `json:"cadence"`
	CreatedAt time.Time  `json:"created_at"`
	Location  Location   `json:"location"`
	// Key is the file name under the local root, or the object key in the bucket.
	Key       string `json:"key"`
	SizeBytes int64  `json:"size_bytes"`

	RemoteKey   string `json:"remote_key,omitempty"`
	Uploaded    bool   `json:"uploaded,omitempty"`
	UploadError string `json:"upload_error,omitempty"`
}

// Identity is the logical identity shared by all copies of an artifact.
type Identity struct {
	Source    SourceKind
	Cadence   Cadence
	CreatedAt time.Time
}

func (a Artifact) Identity() Identity {
	return Identity{Source: a.Source, Cadence: a.Cadence, CreatedAt: a.CreatedAt}
}

// Filename is the canonical compressed file name for the artifact.
func (a Artifact) Filename() string {
	return Filename(a.Source, a.Cadence, a.CreatedAt)
}

// Degraded reports an artifact whose file is empty or missing.
func (a Artifact) Degraded() bool { return a.SizeBytes == 0 }

// RunResult is the outcome of one producer or restore step for one source.
type RunResult struct {
	Source       SourceKind `json:"source"`
	Success      bool       `json:"success"`
	Artifact     *Artifact  `json:"artifact,omitempty"`
	ErrorMessage string     `json:"error,omitempty"`
	Warning      string     `json:"warning,omitempty"`
}

// Failed builds a failed result for source.
func Failed(source SourceKind, err error) RunResult {
	res := RunResult{Source: source}
	if err != nil {
		res.ErrorMessage = err.Error()
	}
	return res
}

// SortNewestFirst orders artifacts by CreatedAt descending. Ties keep a stable
// order by key so listings are deterministic.
func SortNewestFirst(list []Artifact) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].Key < list[j].Key
	})
}
