package artifact

import "time"

// RunKind distinguishes backup runs from restore runs.
type RunKind string

const (
	BackupRun  RunKind = "backup"
	RestoreRun RunKind = "restore"
)

// Run aggregates the per-source results of one backup or restore invocation.
type Run struct {
	ID        string      `json:"id"`
	Kind      RunKind     `json:"kind"`
	Cadence   Cadence     `json:"cadence,omitempty"`
	StartedAt time.Time   `json:"started_at"`
	EndedAt   time.Time   `json:"ended_at"`
	Results   []RunResult `json:"results"`
	Pruned    []Artifact  `json:"pruned,omitempty"`
	// Err is a failure that prevented the run from producing per-source results.
	Err string `json:"error,omitempty"`
}

// Success reports whether the run produced results and all of them succeeded.
func (r Run) Success() bool {
	if r.Err != "" || len(r.Results) == 0 {
		return false
	}
	for _, res := range r.Results {
		if !res.Success {
			return false
		}
	}
	return true
}

// Partial reports a run where some, but not all, sources succeeded.
func (r Run) Partial() bool {
	ok := 0
	for _, res := range r.Results {
		if res.Success {
			ok++
		}
	}
	return ok > 0 && ok < len(r.Results)
}

// Status is "success", "partial" or "failure".
func (r Run) Status() string {
	switch {
	case r.Success():
		return "success"
	case r.Partial():
		return "partial"
	default:
		return "failure"
	}
}

func (r Run) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}
