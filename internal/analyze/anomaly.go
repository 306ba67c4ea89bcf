package analyze

import (
	"fmt"
	"strings"
	"time"
)

// Presence statuses reported by the transport
const (
	PresenceAvailable   = "available"
	PresenceUnavailable = "unavailable"
	PresenceComposing   = "composing"
	PresenceRecording   = "recording"
	PresencePaused      = "paused"
)

// AnomalyDetector correlates presence against RTT-derived bands and runs the
// statistical outlier pass
type AnomalyDetector struct {
	cfg      Config
	presence map[string]PresenceRecord
	flags    []RiskFlag
}

// NewAnomalyDetector creates a detector with an empty presence log
func NewAnomalyDetector(cfg Config) *AnomalyDetector {
	return &AnomalyDetector{
		cfg:      cfg.withDefaults(),
		presence: make(map[string]PresenceRecord),
	}
}

// SetPresence records the latest presence for identity, replacing any previous one
func (d *AnomalyDetector) SetPresence(identity, status string, ts time.Time) {
	d.presence[identity] = PresenceRecord{Status: strings.ToLower(strings.TrimSpace(status)), Timestamp: ts}
}

// Presence returns the latest presence for identity
func (d *AnomalyDetector) Presence(identity string) (PresenceRecord, bool) {
	rec, ok := d.presence[identity]
	return rec, ok
}

// Correlate checks an averaged measurement against the identity's recent
// presence and returns the flags it newly raised
func (d *AnomalyDetector) Correlate(identity string, m Measurement) []RiskFlag {
	rec, ok := d.presence[identity]
	if !ok {
		return nil
	}
	age := m.Timestamp.Sub(rec.Timestamp)
	if age < 0 {
		age = -age
	}
	if age >= d.cfg.PresenceMaxAge {
		return nil
	}

	var raised []RiskFlag
	switch {
	case presenceActive(rec.Status) && (m.Band == BandScreenOff || m.Band == BandOffline):
		if f, ok := d.raise(FlagGhostSession, m.Timestamp,
			fmt.Sprintf("presence %q while RTT indicates %s", rec.Status, m.Band)); ok {
			raised = append(raised, f)
		}
	case rec.Status == PresenceUnavailable && m.Band == BandForeground:
		if f, ok := d.raise(FlagHiddenActive, m.Timestamp,
			fmt.Sprintf("presence %q while RTT indicates %s", rec.Status, m.Band)); ok {
			raised = append(raised, f)
		}
	}
	return raised
}

// raise adds a flag unless one of the same type is already active
func (d *AnomalyDetector) raise(t FlagType, ts time.Time, desc string) (RiskFlag, bool) {
	for _, f := range d.flags {
		if f.Type == t {
			return RiskFlag{}, false
		}
	}
	f := RiskFlag{Type: t, Description: desc, Timestamp: ts}
	d.flags = append(d.flags, f)
	return f, true
}

// Flags returns the active risk flags in the order they were raised
func (d *AnomalyDetector) Flags() []RiskFlag {
	out := make([]RiskFlag, len(d.flags))
	copy(out, d.flags)
	return out
}

// Outliers is the stateless statistical pass over the latest valid RTTs.
// totalValid is the number of valid samples collected in the session.
func (d *AnomalyDetector) Outliers(valid []float64, totalValid int, now time.Time) []RiskFlag {
	window := tail(valid, d.cfg.OutlierWindow)
	if len(window) < 3 {
		return nil
	}
	sd := stdDev(window)
	latest := window[len(window)-1]

	// The latest sample is scored against the samples preceding it
	prior := window[:len(window)-1]
	var found []RiskFlag
	// A steady prior window has no spread, so require a minimum absolute margin
	margin := max(d.cfg.SpikeSigma*stdDev(prior), d.cfg.ConsistentStdDevMs)
	if limit := mean(prior) + margin; latest > limit {
		found = append(found, RiskFlag{
			Type:        FlagSuddenSpike,
			Description: fmt.Sprintf("latest RTT %.0fms exceeds %.0fms (mean + %.0f sigma, at least %.0fms)", latest, limit, d.cfg.SpikeSigma, d.cfg.ConsistentStdDevMs),
			Timestamp:   now,
		})
	}
	if sd < d.cfg.ConsistentStdDevMs && totalValid >= d.cfg.ConsistentMinSamples {
		found = append(found, RiskFlag{
			Type:        FlagTooConsistent,
			Description: fmt.Sprintf("RTT deviation %.1fms over last %d samples suggests synthetic traffic", sd, len(window)),
			Timestamp:   now,
		})
	}
	return found
}

// Reset clears the presence log and all risk flags
func (d *AnomalyDetector) Reset() {
	d.presence = make(map[string]PresenceRecord)
	d.flags = nil
}

func presenceActive(status string) bool {
	switch status {
	case PresenceAvailable, PresenceComposing, PresenceRecording:
		return true
	}
	return false
}
