// Package metrics records batch run metrics with Prometheus. A run is a
// short-lived process, so metrics are not served over HTTP; they are written
// once to a node-exporter textfile at the end of the run.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "panelkit"

// Gate names used as label values.
const (
	GateUnique     = "unique"
	GateContinuous = "continuous"
)

// Recorder holds the metrics of one run in a private registry.
type Recorder struct {
	registry *prometheus.Registry

	groups       *prometheus.CounterVec
	chunkSeconds *prometheus.HistogramVec
	rows         *prometheus.GaugeVec
	coerced      *prometheus.CounterVec
	gateFailures *prometheus.CounterVec
	stageSeconds *prometheus.GaugeVec
	stageStatus  *prometheus.GaugeVec
	lastRun      prometheus.Gauge
}

// New creates a recorder with all metrics registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		groups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "groups_processed_total",
			Help:      "Groups passed through a pool transform.",
		}, []string{"transform"}),
		chunkSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_duration_seconds",
			Help:      "Time one worker spent on its chunk.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"transform", "worker"}),
		rows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "table_rows",
			Help:      "Rows in a persisted table.",
		}, []string{"table"}),
		coerced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coerced_cells_total",
			Help:      "Cells that failed to parse and were stored as missing.",
		}, []string{"table", "column"}),
		gateFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_failures_total",
			Help:      "Integrity gate failures.",
		}, []string{"table", "gate"}),
		stageSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of the last run of a stage.",
		}, []string{"stage"}),
		stageStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_success",
			Help:      "1 if the last run of a stage succeeded, 0 otherwise.",
		}, []string{"stage"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the run finished.",
		}),
	}

	r.registry.MustRegister(
		r.groups,
		r.chunkSeconds,
		r.rows,
		r.coerced,
		r.gateFailures,
		r.stageSeconds,
		r.stageStatus,
		r.lastRun,
	)
	return r
}

// Registry returns the recorder's registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// GroupsProcessed implements engine.Observer.
func (r *Recorder) GroupsProcessed(transform string, n int) {
	r.groups.WithLabelValues(transform).Add(float64(n))
}

// ChunkDone implements engine.Observer.
func (r *Recorder) ChunkDone(transform string, worker int, d time.Duration) {
	r.chunkSeconds.WithLabelValues(transform, strconv.Itoa(worker)).Observe(d.Seconds())
}

// SetRows records the row count of a persisted table.
func (r *Recorder) SetRows(table string, n int) {
	r.rows.WithLabelValues(table).Set(float64(n))
}

// Coerced adds per-column coercion counts of one read.
func (r *Recorder) Coerced(table string, counts map[string]int) {
	for column, n := range counts {
		r.coerced.WithLabelValues(table, column).Add(float64(n))
	}
}

// GateFailed counts a failed integrity gate.
func (r *Recorder) GateFailed(table, gate string) {
	r.gateFailures.WithLabelValues(table, gate).Inc()
}

// StageDone records the duration and outcome of a stage.
func (r *Recorder) StageDone(stage string, d time.Duration, err error) {
	r.stageSeconds.WithLabelValues(stage).Set(d.Seconds())
	if err != nil {
		r.stageStatus.WithLabelValues(stage).Set(0)
	} else {
		r.stageStatus.WithLabelValues(stage).Set(1)
	}
}

// WriteTextfile stamps the run time and writes all metrics to path in the
// Prometheus text format.
func (r *Recorder) WriteTextfile(path string) error {
	r.lastRun.SetToCurrentTime()
	return prometheus.WriteToTextfile(path, r.registry)
}
