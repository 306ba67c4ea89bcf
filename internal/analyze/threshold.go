package analyze

// ThresholdClassifier maps an RTT onto a band relative to the locked baseline
type ThresholdClassifier struct {
	cfg Config
}

// NewThresholdClassifier creates a classifier using the configured multipliers
func NewThresholdClassifier(cfg Config) *ThresholdClassifier {
	return &ThresholdClassifier{cfg: cfg.withDefaults()}
}

// Thresholds derives the three band boundaries from baseline
func (c *ThresholdClassifier) Thresholds(baseline float64) Thresholds {
	return Thresholds{
		Foreground: baseline * c.cfg.ForegroundFactor,
		ScreenOn:   baseline * c.cfg.ScreenOnFactor,
		ScreenOff:  baseline * c.cfg.ScreenOffFactor,
	}
}

// Classify returns the band for rtt. recent holds the latest valid RTTs; only the
// last VarianceWindow of them feed the variance override, which downgrades a
// SCREEN_ON rtt with low recent deviation to SCREEN_OFF.
func (c *ThresholdClassifier) Classify(rtt, baseline float64, recent []float64) Band {
	t := c.Thresholds(baseline)
	switch {
	case rtt < t.Foreground:
		return BandForeground
	case rtt < t.ScreenOn:
		if c.overridden(rtt, baseline, t, recent) {
			return BandScreenOff
		}
		return BandScreenOn
	case rtt < t.ScreenOff:
		return BandScreenOff
	default:
		return BandOffline
	}
}

func (c *ThresholdClassifier) overridden(rtt, baseline float64, t Thresholds, recent []float64) bool {
	window := tail(recent, c.cfg.VarianceWindow)
	if len(window) < 2 {
		return false
	}
	return stdDev(window) < c.cfg.VarianceFactor*baseline && rtt > c.cfg.OverrideFactor*t.Foreground
}
