package notify

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// Subject is a one-line summary of the run.
func Subject(ev Event) string {
	label := ev.Type
	if ev.Cadence != "" {
		label = ev.Cadence + " " + ev.Type
	}
	ok := 0
	for _, r := range ev.Results {
		if r.Success {
			ok++
		}
	}
	return fmt.Sprintf("[drkit] %s %s (%d/%d sources)", label, ev.Status, ok, len(ev.Results))
}

// Body renders the per-source detail of a report as plain text.
func Body(ev Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "run:      %s\n", ev.RunID)
	fmt.Fprintf(&b, "started:  %s\n", ev.StartedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "duration: %s\n", ev.Duration)
	if ev.Error != "" {
		fmt.Fprintf(&b, "error:    %s\n", ev.Error)
	}
	for _, r := range ev.Results {
		status := "ok"
		if !r.Success {
			status = "FAILED"
		}
		fmt.Fprintf(&b, "\n%s: %s\n", r.Source, status)
		if a := r.Artifact; a != nil {
			fmt.Fprintf(&b, "  file:   %s (%s)\n", a.Key, humanize.IBytes(uint64(max(a.SizeBytes, 0))))
			loc := string(a.Location)
			if a.Uploaded {
				loc += ", remote " + a.RemoteKey
			}
			fmt.Fprintf(&b, "  stored: %s\n", loc)
		}
		if r.ErrorMessage != "" {
			fmt.Fprintf(&b, "  error:  %s\n", r.ErrorMessage)
		}
		if r.Warning != "" {
			fmt.Fprintf(&b, "  warn:   %s\n", r.Warning)
		}
	}
	if len(ev.Pruned) > 0 {
		fmt.Fprintf(&b, "\npruned %d:\n", len(ev.Pruned))
		for _, p := range ev.Pruned {
			fmt.Fprintf(&b, "  %s\n", p)
		}
	}
	return b.String()
}
