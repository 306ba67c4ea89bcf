package merge

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/planbiir/rttsense/internal/analyze"
	"github.com/planbiir/rttsense/internal/session"
)

// ErrNoMeasurements is returned when the primary bundle has no raw measurements
var ErrNoMeasurements = errors.New("primary bundle has no raw measurements")

// Config controls how the merge operation behaves.
type Config struct {
	// GapThreshold defines the minimum silence between two consecutive raw
	// measurements of the primary bundle that is worth filling.
	// If zero, DefaultConfig().GapThreshold is used.
	GapThreshold time.Duration

	// MaxRTTDeviationMs drops secondary samples whose RTT differs from both
	// primary neighbours by more than this. Negative disables the guard, zero
	// means "use the default". Timeouts on either side are never compared.
	MaxRTTDeviationMs float64

	// AllowOtherTargets accepts secondary measurements for a different target
	// than the primary bundle's.
	AllowOtherTargets bool
}

// Stats reports what happened during the merge so callers can surface it to users.
type Stats struct {
	GapsDetected int
	GapsFilled   int
	Inserted     int
	Rejected     int
}

// DefaultConfig returns the recommended configuration for production use.
func DefaultConfig() Config {
	return Config{
		GapThreshold:      2 * time.Minute,
		MaxRTTDeviationMs: 5000,
	}
}

// MergeBundles fills gaps in the primary bundle with raw measurements from the
// secondary bundle. Only measurements inside the primary time window are
// considered, so a longer secondary session never extends the primary one.
func MergeBundles(primary, secondary *session.Bundle, cfg Config) (*session.Bundle, Stats, error) {
	if primary == nil {
		return nil, Stats{}, errors.New("primary bundle is nil")
	}
	if secondary == nil {
		return nil, Stats{}, errors.New("secondary bundle is nil")
	}

	defaults := DefaultConfig()
	if cfg.GapThreshold <= 0 {
		cfg.GapThreshold = defaults.GapThreshold
	}
	if cfg.MaxRTTDeviationMs == 0 {
		cfg.MaxRTTDeviationMs = defaults.MaxRTTDeviationMs
	}

	primaryRaw := primary.Raw()
	if len(primaryRaw) == 0 {
		return nil, Stats{}, ErrNoMeasurements
	}

	merged := *primary
	merged.Measurements = cloneMeasurements(primary.Measurements)

	secondaryRaw := secondary.Raw()
	if len(secondaryRaw) == 0 {
		return &merged, Stats{}, nil
	}

	start, end := timeBounds(primaryRaw)
	target := primary.Config.Target
	if target == "" {
		target = primaryRaw[0].Target
	}
	if cfg.AllowOtherTargets {
		target = ""
	}

	stats := Stats{}
	filtered := filterSecondary(secondaryRaw, target, start, end)
	if len(filtered) == 0 {
		return &merged, stats, nil
	}

	raw := mergeByTimestamps(primaryRaw, filtered, cfg, &stats)

	var averaged []analyze.Measurement
	for _, m := range primary.Measurements {
		if m.IsAveraged {
			averaged = append(averaged, m)
		}
	}
	out := append(raw, averaged...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	merged.Measurements = out
	return &merged, stats, nil
}

func mergeByTimestamps(primary, secondary []analyze.Measurement, cfg Config, stats *Stats) []analyze.Measurement {
	merged := make([]analyze.Measurement, 0, len(primary)+len(secondary))
	secondaryIdx := 0

	for i := 0; i < len(primary); i++ {
		current := primary[i]
		merged = append(merged, current)

		if i == len(primary)-1 {
			continue
		}

		next := primary[i+1]
		if next.Timestamp.Sub(current.Timestamp) <= cfg.GapThreshold {
			continue
		}

		stats.GapsDetected++

		for secondaryIdx < len(secondary) && !secondary[secondaryIdx].Timestamp.After(current.Timestamp) {
			secondaryIdx++
		}

		insertionStart := len(merged)
		idx := secondaryIdx

		for idx < len(secondary) {
			candidate := secondary[idx]
			if !candidate.Timestamp.Before(next.Timestamp) {
				break
			}

			if sameMeasurement(merged[len(merged)-1], candidate) {
				idx++
				continue
			}

			if cfg.MaxRTTDeviationMs > 0 && deviates(current, candidate, next, cfg.MaxRTTDeviationMs) {
				stats.Rejected++
				idx++
				continue
			}

			merged = append(merged, candidate)
			idx++
		}

		inserted := len(merged) - insertionStart
		if inserted > 0 {
			stats.GapsFilled++
			stats.Inserted += inserted
		}
		secondaryIdx = idx
	}

	return merged
}

// deviates reports whether candidate's RTT is far from both neighbours
func deviates(before, candidate, after analyze.Measurement, limit float64) bool {
	if !candidate.Valid() {
		return false
	}
	far := func(m analyze.Measurement) bool {
		return m.Valid() && math.Abs(m.RTT()-candidate.RTT()) > limit
	}
	return far(before) && far(after)
}

func filterSecondary(measurements []analyze.Measurement, target string, start, end time.Time) []analyze.Measurement {
	const tolerance = time.Second
	filtered := make([]analyze.Measurement, 0, len(measurements))
	for _, m := range measurements {
		if m.Timestamp.IsZero() {
			continue
		}
		if target != "" && m.Target != target {
			continue
		}
		if m.Timestamp.Before(start.Add(-tolerance)) || m.Timestamp.After(end.Add(tolerance)) {
			continue
		}
		filtered = append(filtered, m)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.Before(filtered[j].Timestamp)
	})

	return filtered
}

func timeBounds(measurements []analyze.Measurement) (time.Time, time.Time) {
	var start, end time.Time
	for _, m := range measurements {
		if m.Timestamp.IsZero() {
			continue
		}
		if start.IsZero() || m.Timestamp.Before(start) {
			start = m.Timestamp
		}
		if end.IsZero() || m.Timestamp.After(end) {
			end = m.Timestamp
		}
	}
	return start, end
}

func sameMeasurement(a, b analyze.Measurement) bool {
	if !a.Timestamp.Equal(b.Timestamp) || a.Valid() != b.Valid() {
		return false
	}
	const epsilon = 1e-9
	return math.Abs(a.RTT()-b.RTT()) < epsilon
}

func cloneMeasurements(src []analyze.Measurement) []analyze.Measurement {
	out := make([]analyze.Measurement, len(src))
	copy(out, src)
	return out
}
