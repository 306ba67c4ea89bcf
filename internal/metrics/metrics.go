// Package metrics exposes analyzer activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/planbiir/rttsense/internal/analyze"
)

const namespace = "rttsense"

// StatsSource is anything that can produce an analyzer snapshot
type StatsSource interface {
	Statistics() analyze.Statistics
}

// Recorder is an analyzer sink that counts what flows through it. It owns its
// registry so several recorders can coexist in tests.
type Recorder struct {
	registry *prometheus.Registry

	measurements *prometheus.CounterVec
	windows      *prometheus.CounterVec
	flags        *prometheus.CounterVec
	profiles     prometheus.Counter
	rtt          prometheus.Histogram
}

// New builds a recorder. When src is not nil the session gauges are collected
// from it on every scrape.
func New(src StatsSource) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		measurements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurements_total",
			Help:      "Raw measurements recorded, by band",
		}, []string{"band"}),
		windows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "windows_total",
			Help:      "Averaged rolling windows emitted, by band",
		}, []string{"band"}),
		flags: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_flags_total",
			Help:      "Risk flags raised, by type",
		}, []string{"type"}),
		profiles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_updates_total",
			Help:      "Device profile refreshes",
		}),
		rtt: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rtt_milliseconds",
			Help:      "Acknowledgment round-trip times of resolved probes",
			Buckets:   []float64{100, 250, 500, 750, 1000, 1500, 2000, 3000, 5000, 10000},
		}),
	}
	r.registry.MustRegister(r.measurements, r.windows, r.flags, r.profiles, r.rtt)
	if src != nil {
		r.registry.MustRegister(newSessionCollector(src))
	}
	return r
}

// Registry returns the registry metrics are registered with
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RawMeasurement implements analyze.RawObserver
func (r *Recorder) RawMeasurement(m analyze.Measurement) {
	r.measurements.WithLabelValues(bandLabel(m.Band)).Inc()
	if m.Valid() {
		r.rtt.Observe(m.RTT())
	}
}

// Measurement implements analyze.Sink
func (r *Recorder) Measurement(m analyze.Measurement) {
	r.windows.WithLabelValues(bandLabel(m.Band)).Inc()
}

// Profile implements analyze.Sink
func (r *Recorder) Profile(analyze.DeviceProfile) {
	r.profiles.Inc()
}

// RiskFlag implements analyze.FlagObserver
func (r *Recorder) RiskFlag(f analyze.RiskFlag) {
	r.flags.WithLabelValues(string(f.Type)).Inc()
}

// bandLabel folds the calibration sentinels into one label value
func bandLabel(b analyze.Band) string {
	if b.IsCalibrating() {
		return "CALIBRATING"
	}
	return string(b)
}
