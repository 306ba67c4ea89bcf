package analyze

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bandRank(b Band) int {
	switch b {
	case BandForeground:
		return 0
	case BandScreenOn:
		return 1
	case BandScreenOff:
		return 2
	default:
		return 3
	}
}

func TestThresholds(t *testing.T) {
	c := NewThresholdClassifier(DefaultConfig())
	th := c.Thresholds(400)

	assert.InDelta(t, 460, th.Foreground, 1e-9)
	assert.InDelta(t, 720, th.ScreenOn, 1e-9)
	assert.InDelta(t, 1600, th.ScreenOff, 1e-9)
}

func TestClassifyBands(t *testing.T) {
	c := NewThresholdClassifier(DefaultConfig())

	tests := []struct {
		rtt  float64
		want Band
	}{
		{50, BandForeground},
		{459, BandForeground},
		{500, BandScreenOn},
		{700, BandScreenOn},
		{1000, BandScreenOff},
		{1599, BandScreenOff},
		{1601, BandOffline},
		{9000, BandOffline},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Classify(tt.rtt, 400, nil), "rtt %.0f", tt.rtt)
	}
}

func TestClassifyMonotonicWithoutOverride(t *testing.T) {
	c := NewThresholdClassifier(DefaultConfig())

	// A single recent sample never triggers the variance override
	prev := -1
	for rtt := 0.0; rtt <= 3000; rtt += 5 {
		rank := bandRank(c.Classify(rtt, 400, []float64{rtt}))
		require.GreaterOrEqual(t, rank, prev, "band decreased at %.0fms", rtt)
		prev = rank
	}
}

func TestVarianceOverrideApplies(t *testing.T) {
	c := NewThresholdClassifier(DefaultConfig())
	steady := []float64{600, 605, 598, 602, 600}

	// SCREEN_ON range, tight recent deviation, above 1.2 x foreground threshold
	assert.Equal(t, BandScreenOff, c.Classify(600, 400, steady))

	// Up to the SCREEN_ON ceiling
	assert.Equal(t, BandScreenOff, c.Classify(710, 400, steady))

	// Below the override floor the same history stays SCREEN_ON
	assert.Equal(t, BandScreenOn, c.Classify(550, 400, steady))
}

func TestClassifyMonotonicWithSteadyHistory(t *testing.T) {
	c := NewThresholdClassifier(DefaultConfig())
	steady := []float64{600, 600, 600, 600}

	// The override only widens SCREEN_OFF downwards to 1.2 x foreground, so a
	// fixed history still yields non-decreasing bands
	prev := -1
	for rtt := 0.0; rtt <= 3000; rtt += 5 {
		rank := bandRank(c.Classify(rtt, 400, steady))
		require.GreaterOrEqual(t, rank, prev, "band decreased at %.0fms", rtt)
		prev = rank
	}
	assert.Equal(t, BandScreenOn, c.Classify(550, 400, steady))
	assert.Equal(t, BandScreenOff, c.Classify(555, 400, steady))
}

func TestVarianceOverrideSkipped(t *testing.T) {
	c := NewThresholdClassifier(DefaultConfig())

	t.Run("rtt below override floor", func(t *testing.T) {
		steady := []float64{500, 505, 498, 502}
		// 1.2 x 460 = 552
		assert.Equal(t, BandScreenOn, c.Classify(540, 400, steady))
	})

	t.Run("recent deviation too high", func(t *testing.T) {
		noisy := []float64{100, 1500, 200, 1400, 600}
		assert.Equal(t, BandScreenOn, c.Classify(600, 400, noisy))
	})

	t.Run("not enough history", func(t *testing.T) {
		assert.Equal(t, BandScreenOn, c.Classify(600, 400, []float64{600}))
	})

	t.Run("only the last window counts", func(t *testing.T) {
		recent := []float64{100, 2000, 100, 2000}
		for range 10 {
			recent = append(recent, 600)
		}
		assert.Equal(t, BandScreenOff, c.Classify(600, 400, recent))
	})
}

func TestBaselineLocksOnFifteenthFastSample(t *testing.T) {
	b := NewBaselineCalibrator(DefaultConfig())

	// Warmup samples are ignored even when fast
	for range 3 {
		assert.False(t, b.Observe(100))
	}
	// Slow samples never count
	assert.False(t, b.Observe(1200))

	for i := range 14 {
		assert.False(t, b.Observe(400+float64(i)*10))
	}
	have, need := b.Progress()
	assert.Equal(t, 14, have)
	assert.Equal(t, 15, need)
	assert.True(t, b.Sentinel().IsCalibrating())
	assert.Equal(t, "Calibrating (14/15 fast samples)", string(b.Sentinel()))

	assert.True(t, b.Observe(540))
	baseline, ok := b.Baseline()
	require.True(t, ok)
	// 20th percentile of 400..540 step 10
	assert.InDelta(t, 428, baseline, 1e-6)
	assert.Equal(t, "Calibrated (baseline 428ms)", b.Status())

	// Locked: later samples are ignored
	assert.False(t, b.Observe(50))
	after, _ := b.Baseline()
	assert.Equal(t, baseline, after)
}

func TestBaselineIgnoresNonPositive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WarmupSamples = -1
	cfg.MinFastSamples = 3
	b := NewBaselineCalibrator(cfg)

	for _, rtt := range []float64{-2000, 0, -1, 0} {
		assert.False(t, b.Observe(rtt))
	}
	have, _ := b.Progress()
	assert.Zero(t, have)

	b.Observe(300)
	b.Observe(310)
	assert.True(t, b.Observe(320))
	baseline, ok := b.Baseline()
	require.True(t, ok)
	assert.Greater(t, baseline, 0.0)
}

func TestBaselineWarmupDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WarmupSamples = -1
	cfg.MinFastSamples = 2
	b := NewBaselineCalibrator(cfg)

	assert.False(t, b.Observe(300))
	assert.True(t, b.Observe(300))
	assert.True(t, b.Locked())

	b.Reset()
	assert.False(t, b.Locked())
	have, _ := b.Progress()
	assert.Zero(t, have)
}

func TestKMeansTrain(t *testing.T) {
	a := NewAdaptiveClassifier(DefaultConfig())
	assert.Equal(t, ClusterUnknown, a.Classify(100))
	assert.Nil(t, a.Centroids())

	data := []float64{900, 100, 510, 110, 920, 500, 120, 910, 520}
	require.True(t, a.Train(data))

	centroids := a.Centroids()
	require.Len(t, centroids, 3)
	assert.InDelta(t, 110, centroids[0], 1e-9)
	assert.InDelta(t, 510, centroids[1], 1e-9)
	assert.InDelta(t, 910, centroids[2], 1e-9)

	for i := 1; i < len(centroids); i++ {
		assert.Less(t, centroids[i-1], centroids[i])
	}
	for i, c := range centroids {
		assert.Equal(t, clusterLabels[i], a.Classify(c))
	}
	assert.Equal(t, ClusterFast, a.Classify(0))
	assert.Equal(t, ClusterSlow, a.Classify(5000))
}

func TestKMeansTooFewPoints(t *testing.T) {
	a := NewAdaptiveClassifier(DefaultConfig())
	assert.False(t, a.Train([]float64{1, 2}))
	assert.False(t, a.Trained())
}

func TestKMeansTieGoesToLowerIndex(t *testing.T) {
	assert.Equal(t, 0, nearest([]float64{0, 10}, 5))
	assert.Equal(t, 1, nearest([]float64{0, 10, 20}, 15))
}

func TestKMeansRetrainSchedule(t *testing.T) {
	a := NewAdaptiveClassifier(DefaultConfig())

	var valid []float64
	for i := range 8 {
		valid = append(valid, float64(100+i*100))
		assert.False(t, a.Observe(valid), "sample %d", i+1)
	}
	valid = append(valid, 900)
	assert.True(t, a.Observe(valid))
	valid = append(valid, 1000)
	assert.False(t, a.Observe(valid))
	valid = append(valid, 1100, 1200)
	assert.True(t, a.Observe(valid))
	assert.Equal(t, 2, a.Trainings())

	a.Reset()
	assert.False(t, a.Trained())
}
