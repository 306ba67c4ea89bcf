package analyze

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu       sync.Mutex
	raw      []Measurement
	windows  []Measurement
	profiles []DeviceProfile
	flags    []RiskFlag
}

func (s *recordingSink) Measurement(m Measurement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows = append(s.windows, m)
}

func (s *recordingSink) Profile(p DeviceProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles = append(s.profiles, p)
}

func (s *recordingSink) RawMeasurement(m Measurement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = append(s.raw, m)
}

func (s *recordingSink) RiskFlag(f RiskFlag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags = append(s.flags, f)
}

type harness struct {
	a     *Analyzer
	clock *ManualClock
	hook  *test.Hook
	n     int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	clock := NewManualClock(t0)
	a := New(DefaultConfig(), WithClock(clock), WithLogger(logrus.NewEntry(logger)))
	return &harness{a: a, clock: clock, hook: hook}
}

// resolve sends one probe and acknowledges it rttMs later
func (h *harness) resolve(t *testing.T, rttMs float64) Measurement {
	t.Helper()
	h.n++
	id := fmt.Sprintf("probe-%d", h.n)
	h.a.RegisterProbe(id, Probe{Target: "peer"})
	h.clock.Set(h.clock.Now().Add(time.Duration(rttMs * float64(time.Millisecond))))
	m, ok := h.a.Resolve(id, "3", "")
	require.True(t, ok)
	return m
}

// timeout sends one probe and lets it expire
func (h *harness) timeout(t *testing.T) {
	t.Helper()
	h.n++
	h.a.RegisterProbe(fmt.Sprintf("probe-%d", h.n), Probe{Target: "peer"})
	h.clock.Advance(h.a.Config().ProbeTimeout)
}

// calibrate runs the warmup and the fast samples needed to lock a baseline
func (h *harness) calibrate(t *testing.T) {
	t.Helper()
	for range 3 {
		h.resolve(t, 900)
	}
	for i := range 15 {
		h.resolve(t, 400+float64(i)*10)
	}
}

func TestHistoryLength(t *testing.T) {
	h := newHarness(t)

	for i := range 10 {
		if i%3 == 0 {
			h.timeout(t)
		} else {
			h.resolve(t, 500)
		}
		assert.Len(t, h.a.Measurements(), i+1)
	}

	stats := h.a.Statistics()
	assert.Equal(t, 10, stats.Total)
	assert.Equal(t, 4, stats.Timeouts)
	assert.Equal(t, 6, stats.Valid)
	assert.Equal(t, 3, stats.Averaged)
	assert.Equal(t, 1, stats.WindowLen)
	assert.Len(t, h.a.Windows(), 3)

	h.a.Clear()
	assert.Empty(t, h.a.Measurements())
	assert.Empty(t, h.a.Windows())
}

func TestResolveMeasurement(t *testing.T) {
	h := newHarness(t)

	h.a.RegisterProbe("p1", Probe{Target: "peer", DeviceModel: "iPhone"})
	h.clock.Set(t0.Add(750 * time.Millisecond))
	m, ok := h.a.Resolve("p1", "3", "origin-1")
	require.True(t, ok)

	assert.InDelta(t, 750, m.RTT(), 1e-9)
	assert.Equal(t, "peer", m.Target)
	assert.Equal(t, "iPhone", m.DeviceModel)
	assert.Equal(t, "origin-1", m.OriginIdentity)
	assert.Equal(t, ReceiptDelivery, m.ReceiptCode)
	assert.True(t, m.Band.IsCalibrating())
	assert.Equal(t, ClusterUnknown, m.ClusterLabel)
	assert.Equal(t, HealthStable, m.NetworkHealth)
	assert.False(t, m.IsAveraged)
	assert.Equal(t, t0.Add(750*time.Millisecond), m.Timestamp)
}

func TestResolveIgnoredAndUnknown(t *testing.T) {
	h := newHarness(t)

	_, ok := h.a.Resolve("missing", "3", "")
	assert.False(t, ok)

	h.a.RegisterProbe("p1", Probe{Target: "peer"})
	_, ok = h.a.Resolve("p1", "2", "")
	assert.False(t, ok)
	_, ok = h.a.Resolve("p1", ReceiptRead, "")
	assert.False(t, ok)
	assert.Equal(t, 1, h.a.Statistics().Pending)
	assert.Empty(t, h.a.Measurements())

	_, ok = h.a.Resolve("p1", "inactive", "")
	assert.True(t, ok)
	assert.Zero(t, h.a.Statistics().Pending)

	// A second ack for the same probe is unknown
	_, ok = h.a.Resolve("p1", "3", "")
	assert.False(t, ok)
	assert.Len(t, h.a.Measurements(), 1)
}

func TestProbeTimeout(t *testing.T) {
	h := newHarness(t)

	h.a.RegisterProbe("p1", Probe{Target: "peer"})
	h.clock.Advance(9 * time.Second)
	assert.Empty(t, h.a.Measurements())

	h.clock.Advance(time.Second)
	ms := h.a.Measurements()
	require.Len(t, ms, 1)
	assert.False(t, ms[0].Valid())
	assert.Equal(t, BandOffline, ms[0].Band)
	assert.Equal(t, ReceiptTimeout, ms[0].ReceiptCode)
	assert.Equal(t, t0.Add(10*time.Second), ms[0].Timestamp)

	// A late ack after the timeout is unknown
	_, ok := h.a.Resolve("p1", "3", "")
	assert.False(t, ok)
}

func TestReRegisterReplacesProbe(t *testing.T) {
	h := newHarness(t)

	h.a.RegisterProbe("p1", Probe{Target: "first"})
	h.clock.Set(t0.Add(5 * time.Second))
	h.a.RegisterProbe("p1", Probe{Target: "second"})

	// The first registration's deadline passes without a timeout
	h.clock.Advance(6 * time.Second)
	assert.Empty(t, h.a.Measurements())
	assert.Equal(t, 1, h.a.Statistics().Pending)

	h.clock.Advance(4 * time.Second)
	ms := h.a.Measurements()
	require.Len(t, ms, 1)
	assert.Equal(t, "second", ms[0].Target)
}

func TestExplicitStartTime(t *testing.T) {
	h := newHarness(t)

	h.a.RegisterProbe("p1", Probe{Target: "peer", StartTime: t0.Add(-2 * time.Second)})
	m, ok := h.a.Resolve("p1", "3", "")
	require.True(t, ok)
	assert.InDelta(t, 2000, m.RTT(), 1e-9)
}

func TestFutureStartTimeClampsRTT(t *testing.T) {
	h := newHarness(t)

	// The sender's clock runs two seconds ahead
	for i := range 18 {
		id := fmt.Sprintf("skewed-%d", i)
		h.a.RegisterProbe(id, Probe{Target: "peer", StartTime: h.clock.Now().Add(2 * time.Second)})
		m, ok := h.a.Resolve(id, "3", "")
		require.True(t, ok)
		assert.Zero(t, m.RTT())
		assert.True(t, m.Valid())
	}

	stats := h.a.Statistics()
	assert.False(t, stats.Calibrated)
	assert.Zero(t, stats.FastSamples)

	var warned int
	for _, e := range h.hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == "negative RTT, clamping to 0" {
			warned++
		}
	}
	assert.Equal(t, 18, warned)

	h.calibrate(t)
	stats = h.a.Statistics()
	require.True(t, stats.Calibrated)
	assert.InDelta(t, 428, *stats.Baseline, 1e-6)
	assert.Equal(t, BandForeground, h.resolve(t, 300).Band)
}

func TestCalibrationThroughAnalyzer(t *testing.T) {
	h := newHarness(t)

	for range 3 {
		h.resolve(t, 900)
	}
	for i := range 14 {
		m := h.resolve(t, 400+float64(i)*10)
		assert.True(t, m.Band.IsCalibrating(), "sample %d", i+1)
	}
	stats := h.a.Statistics()
	assert.False(t, stats.Calibrated)
	assert.Equal(t, "Calibrating (14/15 fast samples)", stats.CalibrationStatus)
	assert.Nil(t, stats.Thresholds)

	m := h.resolve(t, 540)
	assert.False(t, m.Band.IsCalibrating())

	stats = h.a.Statistics()
	require.True(t, stats.Calibrated)
	require.NotNil(t, stats.Baseline)
	baseline := *stats.Baseline
	assert.InDelta(t, 428, baseline, 1e-6)
	require.NotNil(t, stats.Thresholds)
	assert.InDelta(t, 428*1.15, stats.Thresholds.Foreground, 1e-6)

	// An RTT below the locked baseline does not re-derive it
	m = h.resolve(t, 50)
	assert.Equal(t, BandForeground, m.Band)
	stats = h.a.Statistics()
	assert.Equal(t, baseline, *stats.Baseline)

	assert.Equal(t, BandOffline, h.resolve(t, 5000).Band)

	var locked int
	for _, e := range h.hook.AllEntries() {
		if e.Message == "baseline locked" {
			locked++
		}
	}
	assert.Equal(t, 1, locked)
}

func TestClearResetsSession(t *testing.T) {
	h := newHarness(t)
	sink := &recordingSink{}
	h.a.AddSink(sink)

	h.calibrate(t)
	h.a.Presence("peer", PresenceAvailable, time.Time{})
	h.a.RegisterProbe("pending", Probe{Target: "peer"})
	h.resolve(t, 800)
	h.resolve(t, 800)
	h.resolve(t, 2000)
	require.NotEmpty(t, h.a.Statistics().RiskFlags)
	require.NotNil(t, h.a.Statistics().Centroids)

	h.a.Clear()

	stats := h.a.Statistics()
	assert.Zero(t, stats.Total)
	assert.Zero(t, stats.Pending)
	assert.Zero(t, stats.WindowLen)
	assert.False(t, stats.Calibrated)
	assert.Nil(t, stats.Baseline)
	assert.Nil(t, stats.Centroids)
	assert.Empty(t, stats.RiskFlags)
	assert.Equal(t, ClusterUnknown, h.a.Profile().Label)
	assert.Zero(t, h.clock.Pending())

	// Calibration starts again from scratch
	h.calibrate(t)
	stats = h.a.Statistics()
	assert.True(t, stats.Calibrated)
	assert.InDelta(t, 428, *stats.Baseline, 1e-6)
	assert.Len(t, h.a.Measurements(), 18)
}

func TestSinkDispatch(t *testing.T) {
	h := newHarness(t)
	sink := &recordingSink{}
	h.a.AddSink(sink)

	for range 2 {
		h.resolve(t, 500)
	}
	assert.Len(t, sink.raw, 2)
	assert.Empty(t, sink.windows)

	h.resolve(t, 800)
	require.Len(t, sink.windows, 1)
	assert.True(t, sink.windows[0].IsAveraged)
	assert.InDelta(t, 600, sink.windows[0].RTT(), 1e-9)
	assert.Equal(t, []float64{500, 500, 800}, sink.windows[0].WindowSamples)
	assert.Empty(t, sink.profiles)

	h.resolve(t, 500)
	h.resolve(t, 500)
	require.Len(t, sink.profiles, 1)
	assert.NotEqual(t, ClusterUnknown, sink.profiles[0].Label)
	assert.Equal(t, sink.profiles[0].Label, h.a.Profile().Label)
}

func TestGhostSessionThroughAnalyzer(t *testing.T) {
	h := newHarness(t)
	sink := &recordingSink{}
	h.a.AddSink(sink)

	for i := range 3 {
		h.a.RegisterProbe(fmt.Sprintf("p%d", i), Probe{Target: "peer"})
	}
	h.a.Presence("peer", "available", t0.Add(5*time.Second))
	h.clock.Advance(10 * time.Second)

	require.Len(t, sink.windows, 1)
	assert.Equal(t, BandOffline, sink.windows[0].Band)
	require.Len(t, sink.flags, 1)
	assert.Equal(t, FlagGhostSession, sink.flags[0].Type)

	// Same condition again does not duplicate
	for i := range 3 {
		h.a.RegisterProbe(fmt.Sprintf("q%d", i), Probe{Target: "peer"})
	}
	h.a.Presence("peer", "available", h.clock.Now().Add(5*time.Second))
	h.clock.Advance(10 * time.Second)
	assert.Len(t, sink.windows, 2)
	assert.Len(t, sink.flags, 1)
	assert.Len(t, h.a.Statistics().RiskFlags, 1)
}

func TestPresenceKeyedByOrigin(t *testing.T) {
	h := newHarness(t)
	sink := &recordingSink{}
	h.a.AddSink(sink)

	h.a.Presence("origin-1", PresenceAvailable, t0.Add(5*time.Second))
	for i := range 3 {
		h.a.RegisterProbe(fmt.Sprintf("p%d", i), Probe{Target: "peer", OriginIdentity: "origin-1"})
	}
	h.clock.Advance(10 * time.Second)
	require.Len(t, sink.flags, 1)
	assert.Equal(t, FlagGhostSession, sink.flags[0].Type)
}

func TestStatisticsSnapshot(t *testing.T) {
	h := newHarness(t)
	h.calibrate(t)

	stats := h.a.Statistics()
	assert.Equal(t, 18, stats.Total)
	require.NotNil(t, stats.MinRTT)
	require.NotNil(t, stats.MaxRTT)
	require.NotNil(t, stats.AvgRTT)
	assert.Equal(t, 400.0, *stats.MinRTT)
	assert.Equal(t, 900.0, *stats.MaxRTT)
	assert.Equal(t, 15, stats.FastSamples)
	// Warmup and progress sentinels share one key
	assert.Equal(t, 17, stats.BandCounts[BandCalibrating])
	assert.Equal(t, 1, countCalibrating(stats.BandCounts))
	// 540ms against a 428ms baseline
	assert.Equal(t, 1, stats.BandCounts[BandScreenOn])
	assert.Len(t, stats.BandCounts, 2)
	require.Len(t, stats.Centroids, 3)
	// Only one band so far, nothing to predict from
	assert.Nil(t, stats.Prediction)

	for range 10 {
		h.resolve(t, 450)
	}
	pred := h.a.Statistics().Prediction
	require.NotNil(t, pred)
	assert.Equal(t, BandForeground, pred.Band)
	assert.Equal(t, 1.0, pred.Confidence)

	h.resolve(t, 6000)
	var spike bool
	for _, f := range h.a.Statistics().Anomalies {
		spike = spike || f.Type == FlagSuddenSpike
	}
	assert.True(t, spike)
}

// countCalibrating returns the number of calibration keys in counts
func countCalibrating(counts map[Band]int) int {
	n := 0
	for b := range counts {
		if b.IsCalibrating() {
			n++
		}
	}
	return n
}

func TestConcurrentResolve(t *testing.T) {
	a := New(DefaultConfig(), WithLogger(logrus.NewEntry(logrus.New())))

	var wg sync.WaitGroup
	for i := range 50 {
		id := fmt.Sprintf("p%d", i)
		a.RegisterProbe(id, Probe{Target: "peer"})
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Resolve(id, "3", "")
			_ = a.Statistics()
		}()
	}
	wg.Wait()
	assert.Len(t, a.Measurements(), 50)
	a.Clear()
}

func TestConcurrentDispatchKeepsRecordOrder(t *testing.T) {
	a := New(DefaultConfig(), WithLogger(logrus.NewEntry(logrus.New())))
	sink := &recordingSink{}
	a.AddSink(sink)

	var wg sync.WaitGroup
	for i := range 200 {
		id := fmt.Sprintf("p%d", i)
		a.RegisterProbe(id, Probe{Target: fmt.Sprintf("peer-%d", i)})
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Resolve(id, "3", "")
		}()
	}
	wg.Wait()

	history := a.Measurements()
	require.Len(t, sink.raw, len(history))
	for i := range history {
		assert.Equal(t, history[i].Target, sink.raw[i].Target, "raw %d", i)
	}
	windows := a.Windows()
	require.Len(t, sink.windows, len(windows))
	for i := range windows {
		assert.Equal(t, windows[i].Target, sink.windows[i].Target, "window %d", i)
	}
}
