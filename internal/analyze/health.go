package analyze

import "math"

// NetworkHealthScorer derives a jitter tier from consecutive RTT deltas
type NetworkHealthScorer struct {
	cfg Config
}

// NewNetworkHealthScorer creates a scorer with the configured jitter limits
func NewNetworkHealthScorer(cfg Config) *NetworkHealthScorer {
	return &NetworkHealthScorer{cfg: cfg.withDefaults()}
}

// Score looks at the last HealthWindow valid RTTs and grades the jitter between
// the two most recent ones
func (s *NetworkHealthScorer) Score(valid []float64) Health {
	window := tail(valid, s.cfg.HealthWindow)
	if len(window) < 2 {
		return HealthStable
	}
	jitter := math.Abs(window[len(window)-1] - window[len(window)-2])
	switch {
	case jitter > s.cfg.HighJitterMs:
		return HealthHigh
	case jitter > s.cfg.ModerateJitterMs:
		return HealthModerate
	default:
		return HealthStable
	}
}
