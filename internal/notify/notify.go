package notify

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/drkit/internal/artifact"
	"github.com/rowjay/drkit/internal/config"
)

// Event is the report emitted once per completed backup or restore run.
type Event struct {
	RunID     string               `json:"run_id"`
	Type      string               `json:"type"`
	Cadence   string               `json:"cadence,omitempty"`
	Status    string               `json:"status"`
	Message   string               `json:"message"`
	StartedAt time.Time            `json:"started_at"`
	EndedAt   time.Time            `json:"ended_at"`
	Duration  string               `json:"duration"`
	Results   []artifact.RunResult `json:"results"`
	Pruned    []string             `json:"pruned,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// FromRun builds the report for a finished run.
func FromRun(run artifact.Run) Event {
	ev := Event{
		RunID:     run.ID,
		Type:      string(run.Kind),
		Cadence:   string(run.Cadence),
		Status:    run.Status(),
		StartedAt: run.StartedAt,
		EndedAt:   run.EndedAt,
		Duration:  run.Duration().Round(time.Millisecond).String(),
		Results:   run.Results,
		Error:     run.Err,
	}
	for _, p := range run.Pruned {
		ev.Pruned = append(ev.Pruned, p.Key)
	}
	ev.Message = Subject(ev)
	return ev
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Multi fans an event out to every target. All targets are attempted; their
// errors are joined.
type Multi struct {
	Targets []Notifier
}

func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, target := range m.Targets {
		if target == nil {
			continue
		}
		if err := target.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes the report to the structured log.
type Log struct {
	Logger zerolog.Logger
}

func (l Log) Notify(_ context.Context, event Event) error {
	entry := l.Logger.Info()
	if event.Status != "success" {
		entry = l.Logger.Error()
	}
	arr := zerolog.Arr()
	for _, r := range event.Results {
		d := zerolog.Dict().Str("source", string(r.Source)).Bool("success", r.Success)
		if r.Artifact != nil {
			d = d.Str("file", r.Artifact.Key).Int64("size", r.Artifact.SizeBytes)
		}
		if r.ErrorMessage != "" {
			d = d.Str("error", r.ErrorMessage)
		}
		if r.Warning != "" {
			d = d.Str("warning", r.Warning)
		}
		arr = arr.Dict(d)
	}
	entry.
		Str("run_id", event.RunID).
		Str("type", event.Type).
		Str("cadence", event.Cadence).
		Str("status", event.Status).
		Str("duration", event.Duration).
		Array("results", arr).
		Strs("pruned", event.Pruned).
		Msg(event.Message)
	return nil
}

// FromConfig builds the configured targets. The log target is always present.
func FromConfig(cfg config.NotificationsConfig, log zerolog.Logger) Multi {
	targets := []Notifier{Log{Logger: log}}
	if cfg.Email.Host != "" && len(cfg.Email.To) > 0 {
		targets = append(targets, Email{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
			To:       cfg.Email.To,
		})
	}
	for _, w := range cfg.Webhooks {
		targets = append(targets, Webhook{Name: w.Name, URL: w.URL, Headers: w.Headers})
	}
	for _, mm := range cfg.Mattermost {
		targets = append(targets, Mattermost{Name: mm.Name, URL: mm.URL})
	}
	for _, mx := range cfg.Matrix {
		targets = append(targets, Matrix{Name: mx.Name, ServerURL: mx.ServerURL, AccessToken: mx.AccessToken, RoomID: mx.RoomID})
	}
	return Multi{Targets: targets}
}
