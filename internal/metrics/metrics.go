package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder captures backup, retention and restore activity.
type Recorder interface {
	ObserveRun(kind, cadence, status string, duration time.Duration)
	ObserveSnapshot(source, cadence string, success bool, sizeBytes int64)
	IncUpload(source, status string)
	AddPruned(cadence string, n int)
	ObserveRestore(source, status string)
}

// Noop implements Recorder without emitting anything.
type Noop struct{}

func (Noop) ObserveRun(string, string, string, time.Duration) {}
func (Noop) ObserveSnapshot(string, string, bool, int64)      {}
func (Noop) IncUpload(string, string)                         {}
func (Noop) AddPruned(string, int)                            {}
func (Noop) ObserveRestore(string, string)                    {}

// Prom implements Recorder backed by Prometheus collectors.
type Prom struct {
	runs          *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	snapshots     *prometheus.CounterVec
	artifactBytes *prometheus.GaugeVec
	lastSuccess   *prometheus.GaugeVec
	uploads       *prometheus.CounterVec
	pruned        *prometheus.CounterVec
	restores      *prometheus.CounterVec
	once          sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Backup and restore runs by kind, cadence and status",
		}, []string{"kind", "cadence", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Run duration by kind",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"kind"}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Snapshots by source, cadence and status",
		}, []string{"source", "cadence", "status"}),
		artifactBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_artifact_bytes",
			Help:      "Size of the latest artifact per source",
		}, []string{"source"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the latest successful snapshot per source and cadence",
		}, []string{"source", "cadence"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Remote uploads by source and status",
		}, []string{"source", "status"}),
		pruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pruned_artifacts_total",
			Help:      "Local artifacts deleted by retention per cadence",
		}, []string{"cadence"}),
		restores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restores_total",
			Help:      "Restores by source and status",
		}, []string{"source", "status"}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.runs, p.runDuration, p.snapshots, p.artifactBytes, p.lastSuccess, p.uploads, p.pruned, p.restores)
	})
}

func (p *Prom) ObserveRun(kind, cadence, status string, duration time.Duration) {
	p.runs.WithLabelValues(kind, cadence, status).Inc()
	p.runDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (p *Prom) ObserveSnapshot(source, cadence string, success bool, sizeBytes int64) {
	if !success {
		p.snapshots.WithLabelValues(source, cadence, "failure").Inc()
		return
	}
	p.snapshots.WithLabelValues(source, cadence, "success").Inc()
	p.artifactBytes.WithLabelValues(source).Set(float64(sizeBytes))
	p.lastSuccess.WithLabelValues(source, cadence).SetToCurrentTime()
}

func (p *Prom) IncUpload(source, status string) {
	p.uploads.WithLabelValues(source, status).Inc()
}

func (p *Prom) AddPruned(cadence string, n int) {
	p.pruned.WithLabelValues(cadence).Add(float64(n))
}

func (p *Prom) ObserveRestore(source, status string) {
	p.restores.WithLabelValues(source, status).Inc()
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
