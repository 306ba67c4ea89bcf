package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// sessionCollector reads gauges from an analyzer snapshot at scrape time
type sessionCollector struct {
	src StatsSource

	pending     *prometheus.Desc
	calibrated  *prometheus.Desc
	baseline    *prometheus.Desc
	fastSamples *prometheus.Desc
	windowLen   *prometheus.Desc
	activeFlags *prometheus.Desc
}

func newSessionCollector(src StatsSource) *sessionCollector {
	return &sessionCollector{
		src:         src,
		pending:     prometheus.NewDesc(namespace+"_pending_probes", "Probes awaiting acknowledgment", nil, nil),
		calibrated:  prometheus.NewDesc(namespace+"_calibrated", "1 once the baseline is locked", nil, nil),
		baseline:    prometheus.NewDesc(namespace+"_baseline_milliseconds", "Locked baseline RTT", nil, nil),
		fastSamples: prometheus.NewDesc(namespace+"_fast_samples", "Fast samples collected toward calibration", nil, nil),
		windowLen:   prometheus.NewDesc(namespace+"_window_buffered", "Raw measurements buffered in the rolling window", nil, nil),
		activeFlags: prometheus.NewDesc(namespace+"_session_risk_flags", "Risk flags raised in the current session", nil, nil),
	}
}

func (c *sessionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pending
	ch <- c.calibrated
	ch <- c.baseline
	ch <- c.fastSamples
	ch <- c.windowLen
	ch <- c.activeFlags
}

func (c *sessionCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Statistics()

	calibrated := 0.0
	if s.Calibrated {
		calibrated = 1
	}
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(s.Pending))
	ch <- prometheus.MustNewConstMetric(c.calibrated, prometheus.GaugeValue, calibrated)
	ch <- prometheus.MustNewConstMetric(c.fastSamples, prometheus.GaugeValue, float64(s.FastSamples))
	ch <- prometheus.MustNewConstMetric(c.windowLen, prometheus.GaugeValue, float64(s.WindowLen))
	ch <- prometheus.MustNewConstMetric(c.activeFlags, prometheus.GaugeValue, float64(len(s.RiskFlags)))
	if s.Baseline != nil {
		ch <- prometheus.MustNewConstMetric(c.baseline, prometheus.GaugeValue, *s.Baseline)
	}
}
