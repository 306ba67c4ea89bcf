package analyze

import (
	"slices"
	"time"
)

// Config holds the analyzer tunables
type Config struct {
	// Probe lifecycle
	ProbeTimeout       time.Duration // unresolved probes become OFFLINE after this
	QualifyingReceipts []string      // receipt codes that count as a device-level ack

	// Baseline calibration
	WarmupSamples      int     // initial valid samples ignored by the calibrator (negative disables)
	FastCeilingMs      float64 // ms - samples below this count as fast
	MinFastSamples     int     // fast samples needed to lock the baseline
	BaselinePercentile float64 // percentile of fast samples locked as baseline

	// Threshold multipliers
	ForegroundFactor float64
	ScreenOnFactor   float64
	ScreenOffFactor  float64

	// Variance override
	VarianceWindow int     // recent valid RTTs used for the deviation
	VarianceFactor float64 // deviation must stay below baseline*factor
	OverrideFactor float64 // rtt must exceed foreground threshold*factor

	// Adaptive clustering
	ClusterWindow    int     // most recent valid RTTs used for training
	RetrainEvery     int     // retrain on every Nth valid sample
	MinTrainSamples  int     // valid samples needed before the first training
	MaxIterations    int     // k-means rounds
	ConvergenceDelta float64 // ms - stop once no centroid moves more than this

	// Rolling average
	BatchSize int

	// Network health
	HealthWindow     int
	HighJitterMs     float64
	ModerateJitterMs float64

	// Anomalies
	PresenceMaxAge       time.Duration // presence older than this is not correlated
	OutlierWindow        int
	SpikeSigma           float64
	ConsistentStdDevMs   float64
	ConsistentMinSamples int

	// Prediction
	PredictWindow     int
	PredictMinSamples int

	// Profile
	ProfileEvery     int     // raw measurements between profile refreshes
	ProfileCeilingMs float64 // ms - sanity ceiling for profile statistics
}

// DefaultConfig returns the field-tested configuration
func DefaultConfig() Config {
	return Config{
		ProbeTimeout:         10 * time.Second,
		QualifyingReceipts:   []string{ReceiptDelivery, ReceiptInactive},
		WarmupSamples:        3,
		FastCeilingMs:        1000,
		MinFastSamples:       15,
		BaselinePercentile:   20,
		ForegroundFactor:     1.15,
		ScreenOnFactor:       1.8,
		ScreenOffFactor:      4.0,
		VarianceWindow:       10,
		VarianceFactor:       0.3,
		OverrideFactor:       1.2,
		ClusterWindow:        100,
		RetrainEvery:         3,
		MinTrainSamples:      9,
		MaxIterations:        10,
		ConvergenceDelta:     0.01,
		BatchSize:            3,
		HealthWindow:         5,
		HighJitterMs:         500,
		ModerateJitterMs:     150,
		PresenceMaxAge:       10 * time.Second,
		OutlierWindow:        10,
		SpikeSigma:           3,
		ConsistentStdDevMs:   5,
		ConsistentMinSamples: 30,
		PredictWindow:        20,
		PredictMinSamples:    10,
		ProfileEvery:         5,
		ProfileCeilingMs:     10000,
	}
}

// withDefaults fills zero fields from DefaultConfig
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if len(c.QualifyingReceipts) == 0 {
		c.QualifyingReceipts = d.QualifyingReceipts
	}
	switch {
	case c.WarmupSamples == 0:
		c.WarmupSamples = d.WarmupSamples
	case c.WarmupSamples < 0:
		c.WarmupSamples = 0
	}
	if c.FastCeilingMs <= 0 {
		c.FastCeilingMs = d.FastCeilingMs
	}
	if c.MinFastSamples <= 0 {
		c.MinFastSamples = d.MinFastSamples
	}
	if c.BaselinePercentile <= 0 || c.BaselinePercentile > 100 {
		c.BaselinePercentile = d.BaselinePercentile
	}
	if c.ForegroundFactor <= 0 {
		c.ForegroundFactor = d.ForegroundFactor
	}
	if c.ScreenOnFactor <= 0 {
		c.ScreenOnFactor = d.ScreenOnFactor
	}
	if c.ScreenOffFactor <= 0 {
		c.ScreenOffFactor = d.ScreenOffFactor
	}
	if c.VarianceWindow <= 0 {
		c.VarianceWindow = d.VarianceWindow
	}
	if c.VarianceFactor <= 0 {
		c.VarianceFactor = d.VarianceFactor
	}
	if c.OverrideFactor <= 0 {
		c.OverrideFactor = d.OverrideFactor
	}
	if c.ClusterWindow <= 0 {
		c.ClusterWindow = d.ClusterWindow
	}
	if c.RetrainEvery <= 0 {
		c.RetrainEvery = d.RetrainEvery
	}
	if c.MinTrainSamples < clusterCount {
		c.MinTrainSamples = d.MinTrainSamples
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.ConvergenceDelta <= 0 {
		c.ConvergenceDelta = d.ConvergenceDelta
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.HealthWindow < 2 {
		c.HealthWindow = d.HealthWindow
	}
	if c.HighJitterMs <= 0 {
		c.HighJitterMs = d.HighJitterMs
	}
	if c.ModerateJitterMs <= 0 {
		c.ModerateJitterMs = d.ModerateJitterMs
	}
	if c.PresenceMaxAge <= 0 {
		c.PresenceMaxAge = d.PresenceMaxAge
	}
	if c.OutlierWindow < 2 {
		c.OutlierWindow = d.OutlierWindow
	}
	if c.SpikeSigma <= 0 {
		c.SpikeSigma = d.SpikeSigma
	}
	if c.ConsistentStdDevMs <= 0 {
		c.ConsistentStdDevMs = d.ConsistentStdDevMs
	}
	if c.ConsistentMinSamples <= 0 {
		c.ConsistentMinSamples = d.ConsistentMinSamples
	}
	if c.PredictWindow < 2 {
		c.PredictWindow = d.PredictWindow
	}
	if c.PredictMinSamples <= 0 {
		c.PredictMinSamples = d.PredictMinSamples
	}
	if c.ProfileEvery <= 0 {
		c.ProfileEvery = d.ProfileEvery
	}
	if c.ProfileCeilingMs <= 0 {
		c.ProfileCeilingMs = d.ProfileCeilingMs
	}
	return c
}

// qualifies reports whether a receipt code is a device-level acknowledgment
func (c Config) qualifies(code string) bool {
	return slices.Contains(c.QualifyingReceipts, code)
}
