// Package metrics records run counters in a private Prometheus registry and
// writes them in the text exposition format for node_exporter's textfile
// collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "volexport"

// Item outcomes.
const (
	StatusConverted = "converted"
	StatusFailed    = "failed"
)

// Metrics holds the counters of one export run.
type Metrics struct {
	Registry *prometheus.Registry

	Items          *prometheus.CounterVec
	Datasets       *prometheus.CounterVec
	LabelsWritten  *prometheus.CounterVec
	FiguresSkipped prometheus.Counter
	BytesWritten   prometheus.Counter
	Duration       prometheus.Gauge
}

// New registers a fresh set of metrics.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Items processed, by outcome.",
		}, []string{"status"}),
		Datasets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datasets_total",
			Help:      "Datasets processed, by structure type.",
		}, []string{"structure"}),
		LabelsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "labels_written_total",
			Help:      "Label volumes written, by format.",
		}, []string{"format"}),
		FiguresSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "figures_skipped_total",
			Help:      "Figures skipped for missing or unreadable geometry or unknown class.",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Bytes of volumes and labels written.",
		}),
		Duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last export run.",
		}),
	}
	m.Registry.MustRegister(m.Items, m.Datasets, m.LabelsWritten, m.FiguresSkipped, m.BytesWritten, m.Duration)
	return m
}

// ObserveRun records the duration of a run that started at start.
func (m *Metrics) ObserveRun(start time.Time) {
	m.Duration.Set(time.Since(start).Seconds())
}

// WriteTextfile writes the registry to path atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
