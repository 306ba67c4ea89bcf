package replay

import (
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planbiir/rttsense/internal/analyze"
	"github.com/planbiir/rttsense/internal/session"
)

var start = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

// record drives a live analyzer and returns the bundle it would export
func record(t *testing.T, rtts []float64) *session.Bundle {
	t.Helper()
	logger, _ := test.NewNullLogger()
	clock := analyze.NewManualClock(start)
	a := analyze.New(analyze.DefaultConfig(), analyze.WithClock(clock), analyze.WithLogger(logrus.NewEntry(logger)))

	for i, rtt := range rtts {
		id := fmt.Sprintf("p%d", i)
		a.RegisterProbe(id, analyze.Probe{Target: "peer"})
		if rtt < 0 {
			clock.Advance(10 * time.Second)
		} else {
			clock.Set(clock.Now().Add(time.Duration(rtt) * time.Millisecond))
			_, ok := a.Resolve(id, "3", "")
			require.True(t, ok)
		}
		clock.Set(clock.Now().Add(5 * time.Second))
	}

	b := session.New(session.RunConfig{Target: "peer", IntervalSec: 5}, start)
	b.StoppedAt = clock.Now()
	b.Measurements = append(a.Measurements(), a.Windows()...)
	return b
}

func sessionRTTs() []float64 {
	rtts := []float64{900, 900, 900}
	for i := range 15 {
		rtts = append(rtts, float64(400+i*10))
	}
	// Mixed activity with a couple of timeouts
	rtts = append(rtts, 450, 800, 1200, -1, 600, 610, 605, 2500, -1, 430, 440, 900, 1500, 470)
	return rtts
}

func TestReplayReproducesSession(t *testing.T) {
	b := record(t, sessionRTTs())
	logger, hook := test.NewNullLogger()

	res, err := Run(b, analyze.DefaultConfig(), logrus.NewEntry(logger))
	require.NoError(t, err)

	raw := b.Raw()
	require.Len(t, res.Replayed, len(raw))
	for i := range raw {
		assert.Equal(t, raw[i].Valid(), res.Replayed[i].Valid(), "measurement %d", i)
		assert.InDelta(t, raw[i].RTT(), res.Replayed[i].RTT(), 1e-3, "measurement %d", i)
		assert.True(t, raw[i].Timestamp.Equal(res.Replayed[i].Timestamp), "measurement %d", i)
	}

	assert.Positive(t, res.Recorded.Compared)
	assert.Zero(t, res.Recorded.Diverged)
	assert.Zero(t, res.Recorded.Rate)
	assert.Equal(t, len(raw)/3, len(res.Windows))
	assert.True(t, res.Statistics.Calibrated)
	assert.Equal(t, 2, res.Statistics.Timeouts)
	assert.Equal(t, b.ID, res.BundleID)

	// The classifiers are compared once k-means is trained, and need not agree
	assert.Positive(t, res.Classifiers.Compared)
	assert.GreaterOrEqual(t, res.Classifiers.Rate, 0.0)
	assert.LessOrEqual(t, res.Classifiers.Rate, 1.0)
	assert.Equal(t, "replay finished", hook.LastEntry().Message)
}

func TestReplayDetectsDivergence(t *testing.T) {
	b := record(t, sessionRTTs())

	// Relabel every recorded discrete band after calibration
	changed := 0
	for i, m := range b.Measurements {
		if !m.IsAveraged && m.Band == analyze.BandForeground {
			b.Measurements[i].Band = analyze.BandOffline
			changed++
		}
	}
	require.Positive(t, changed)

	res, err := Run(b, analyze.DefaultConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, changed, res.Recorded.Diverged)
	assert.InDelta(t, float64(changed)/float64(res.Recorded.Compared), res.Recorded.Rate, 1e-9)
}

func TestReplayEmptyBundle(t *testing.T) {
	_, err := Run(session.New(session.RunConfig{}, start), analyze.DefaultConfig(), nil)
	assert.ErrorIs(t, err, ErrEmptyBundle)

	_, err = Run(nil, analyze.DefaultConfig(), nil)
	assert.Error(t, err)
}
