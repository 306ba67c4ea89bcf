package analyze

import "fmt"

// BaselineCalibrator locks a reference RTT once enough fast samples were seen.
// The locked value is the configured percentile of the fast samples, a robust
// floor rather than the minimum. It never changes until Reset.
type BaselineCalibrator struct {
	cfg      Config
	seen     int
	fast     []float64
	baseline float64
	locked   bool
}

// NewBaselineCalibrator creates an unlocked calibrator
func NewBaselineCalibrator(cfg Config) *BaselineCalibrator {
	return &BaselineCalibrator{cfg: cfg.withDefaults()}
}

// Observe feeds one valid RTT and reports whether this sample locked the baseline.
// Non-positive RTTs are clock artifacts and are not counted.
func (b *BaselineCalibrator) Observe(rtt float64) bool {
	if rtt <= 0 {
		return false
	}
	b.seen++
	if b.locked || b.seen <= b.cfg.WarmupSamples {
		return false
	}
	if rtt >= b.cfg.FastCeilingMs {
		return false
	}
	b.fast = append(b.fast, rtt)
	if len(b.fast) < b.cfg.MinFastSamples {
		return false
	}
	b.baseline = percentile(b.fast, b.cfg.BaselinePercentile)
	b.locked = true
	return true
}

// Baseline returns the locked baseline
func (b *BaselineCalibrator) Baseline() (float64, bool) {
	return b.baseline, b.locked
}

// Locked reports whether the baseline is locked
func (b *BaselineCalibrator) Locked() bool {
	return b.locked
}

// Progress returns collected and required fast samples
func (b *BaselineCalibrator) Progress() (int, int) {
	return len(b.fast), b.cfg.MinFastSamples
}

// Sentinel is the band reported while calibrating
func (b *BaselineCalibrator) Sentinel() Band {
	have, need := b.Progress()
	return calibratingBand(have, need)
}

// Status describes the calibration state for humans
func (b *BaselineCalibrator) Status() string {
	if !b.locked {
		return string(b.Sentinel())
	}
	return fmt.Sprintf("Calibrated (baseline %.0fms)", b.baseline)
}

// Reset forgets all samples and unlocks the baseline
func (b *BaselineCalibrator) Reset() {
	b.seen = 0
	b.fast = nil
	b.baseline = 0
	b.locked = false
}
