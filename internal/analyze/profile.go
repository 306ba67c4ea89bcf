package analyze

import (
	"fmt"
	"strings"
	"time"
)

// RTTSummary holds the statistics profile rules are evaluated against
type RTTSummary struct {
	Count  int
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
}

// ProfileRule maps a statistical signature to a descriptive label
type ProfileRule struct {
	Label           string
	Confidence      int
	Match           func(s RTTSummary) bool
	Characteristics map[string]string
}

// DefaultProfileRules are evaluated top to bottom, first match wins
var DefaultProfileRules = []ProfileRule{
	{
		Label:      "Apple iPhone Pro/Max",
		Confidence: 88,
		Match: func(s RTTSummary) bool {
			return (s.StdDev < 250 && s.Min >= 300 && s.Min < 800 && s.Mean < 1500) ||
				(s.StdDev < 200 && s.Mean < 1800)
		},
		Characteristics: map[string]string{
			"Processor":     "A17/A18 Pro chip",
			"RTT Stability": "Very High (iOS)",
			"iOS Signature": "Low variance despite high RTT",
		},
	},
	{
		Label:      "Apple iPhone",
		Confidence: 85,
		Match: func(s RTTSummary) bool {
			return (s.StdDev < 300 && s.Min >= 350 && s.Min < 900 && s.Mean < 1700) ||
				(s.StdDev < 250 && s.Mean < 2000)
		},
		Characteristics: map[string]string{
			"RTT Stability": "High (iOS)",
			"iOS Signature": "Consistent timing",
		},
	},
	{
		Label:      "Samsung Galaxy (Flagship)",
		Confidence: 75,
		Match: func(s RTTSummary) bool {
			return s.Min >= 400 && s.Min <= 750 && s.Mean < 1500 && s.StdDev >= 200 && s.StdDev < 350
		},
		Characteristics: map[string]string{
			"Processor":     "Snapdragon/Exynos",
			"RTT Stability": "Moderate-High",
		},
	},
	{
		Label:      "Android (Budget/Mid-range)",
		Confidence: 70,
		Match: func(s RTTSummary) bool {
			return s.Mean > 1600 || s.StdDev > 450
		},
		Characteristics: map[string]string{
			"RTT Stability":    "Low",
			"Power Management": "Aggressive",
		},
	},
	{
		Label:      "Android Device",
		Confidence: 65,
		Match: func(s RTTSummary) bool {
			return (s.Min > 700 || s.Mean > 1300) && s.StdDev > 300
		},
	},
}

// ProfileContext carries analyzer state that is reported alongside the statistics
type ProfileContext struct {
	CalibrationStatus string
	Baseline          *float64
	Centroids         []float64
	Now               time.Time
}

// ProfileAggregator summarizes the measurement history into a DeviceProfile
type ProfileAggregator struct {
	cfg     Config
	rules   []ProfileRule
	current DeviceProfile
}

// NewProfileAggregator creates an aggregator using rules, or DefaultProfileRules when nil
func NewProfileAggregator(cfg Config, rules []ProfileRule) *ProfileAggregator {
	if rules == nil {
		rules = DefaultProfileRules
	}
	return &ProfileAggregator{cfg: cfg.withDefaults(), rules: rules, current: emptyProfile()}
}

func emptyProfile() DeviceProfile {
	return DeviceProfile{
		Label:           ClusterUnknown,
		Characteristics: map[string]string{},
		Transitions:     []Transition{},
	}
}

// Aggregate recomputes the profile from history. With fewer than three valid
// measurements under the sanity ceiling the previous profile is kept.
func (p *ProfileAggregator) Aggregate(history []Measurement, pc ProfileContext) DeviceProfile {
	var valid []Measurement
	for _, m := range history {
		if m.Valid() && !m.IsAveraged && m.RTT() < p.cfg.ProfileCeilingMs {
			valid = append(valid, m)
		}
	}
	if len(valid) < 3 {
		return p.current
	}

	rtts := make([]float64, len(valid))
	bandCounts := make(map[Band]int)
	for i, m := range valid {
		rtts[i] = m.RTT()
		bandCounts[m.Band]++
	}
	s := RTTSummary{
		Count:  len(rtts),
		Mean:   mean(rtts),
		StdDev: stdDev(rtts),
		Min:    minFloat(rtts),
		Max:    maxFloat(rtts),
	}

	profile := DeviceProfile{
		Label:           ClusterUnknown,
		Characteristics: map[string]string{},
		UpdatedAt:       pc.Now,
	}
	for _, rule := range p.rules {
		if rule.Match(s) {
			profile.Label = rule.Label
			profile.Confidence = rule.Confidence
			for k, v := range rule.Characteristics {
				profile.Characteristics[k] = v
			}
			break
		}
	}

	profile.Transitions = detectTransitions(valid)

	ch := profile.Characteristics
	ch["Avg RTT"] = fmt.Sprintf("%.0fms", s.Mean)
	ch["Median RTT"] = fmt.Sprintf("%.0fms", medianFloat(rtts))
	ch["Min RTT"] = fmt.Sprintf("%.0fms", s.Min)
	ch["Max RTT"] = fmt.Sprintf("%.0fms", s.Max)
	ch["RTT Std Dev"] = fmt.Sprintf("%.0fms", s.StdDev)
	ch["Foreground %"] = percentOf(bandCounts[BandForeground], s.Count)
	ch["Screen On %"] = percentOf(bandCounts[BandScreenOn], s.Count)
	ch["Screen Off %"] = percentOf(bandCounts[BandScreenOff], s.Count)
	ch["Transitions"] = fmt.Sprintf("%d", len(profile.Transitions))
	ch["Calibration"] = pc.CalibrationStatus
	if pc.Baseline != nil {
		ch["Baseline"] = fmt.Sprintf("%.0fms", *pc.Baseline)
	}
	if len(pc.Centroids) > 0 {
		parts := make([]string, len(pc.Centroids))
		for i, c := range pc.Centroids {
			parts[i] = fmt.Sprintf("%s=%.0fms", clusterLabels[i], c)
		}
		ch["Clusters"] = strings.Join(parts, " ")
	}

	p.current = profile
	return profile
}

// Current returns the last published profile
func (p *ProfileAggregator) Current() DeviceProfile {
	return p.current
}

// Reset drops the current profile
func (p *ProfileAggregator) Reset() {
	p.current = emptyProfile()
}

// detectTransitions lists band changes between consecutive valid measurements
func detectTransitions(valid []Measurement) []Transition {
	transitions := []Transition{}
	for i := 1; i < len(valid); i++ {
		prev, curr := valid[i-1], valid[i]
		if curr.Band == prev.Band {
			continue
		}
		transitions = append(transitions, Transition{
			Time:      curr.Timestamp,
			From:      prev.Band,
			To:        curr.Band,
			RTTChange: curr.RTT() - prev.RTT(),
		})
	}
	return transitions
}

func percentOf(n, total int) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(n)/float64(total)*100)
}
