// Package analyze infers an endpoint's activity band from acknowledgment RTTs.
//
// An Analyzer owns one monitoring session: pending probes, the measurement
// history, the locked baseline, the clustering model, the rolling window, the
// presence log and the risk flags. Every mutation is serialized by a single
// mutex, so one resolution or timeout is fully applied before the next.
package analyze

import (
	"maps"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Sink receives what the analyzer publishes. Calls happen after the analyzer
// lock is released, one event at a time in the order measurements were
// recorded. A sink may query the analyzer but must not register or resolve.
type Sink interface {
	// Measurement is called once per full rolling window
	Measurement(m Measurement)
	// Profile is called every ProfileEvery raw measurements
	Profile(p DeviceProfile)
}

// RawObserver is implemented by sinks that also want every raw measurement
type RawObserver interface {
	RawMeasurement(m Measurement)
}

// FlagObserver is implemented by sinks that want newly raised risk flags
type FlagObserver interface {
	RiskFlag(f RiskFlag)
}

// Option customizes an Analyzer
type Option func(*Analyzer)

// WithClock replaces the wall clock
func WithClock(c Clock) Option {
	return func(a *Analyzer) { a.clock = c }
}

// WithLogger sets the log entry used by the analyzer
func WithLogger(log *logrus.Entry) Option {
	return func(a *Analyzer) { a.log = log }
}

// WithProfileRules replaces DefaultProfileRules
func WithProfileRules(rules []ProfileRule) Option {
	return func(a *Analyzer) { a.rules = rules }
}

// Analyzer is the single owner of a session's state
type Analyzer struct {
	mu    sync.Mutex
	cfg   Config
	clock Clock
	log   *logrus.Entry
	rules []ProfileRule

	registry  *ProbeRegistry
	baseline  *BaselineCalibrator
	threshold *ThresholdClassifier
	clusters  *AdaptiveClassifier
	averager  *RollingAverager
	health    *NetworkHealthScorer
	anomalies *AnomalyDetector
	predictor *StatePredictor
	profiles  *ProfileAggregator

	// Emissions are numbered under mu and handed to sinks strictly in that order
	emitMu   sync.Mutex
	emitCond *sync.Cond
	emitNext uint64
	emitTurn uint64

	history []Measurement // raw measurements, append-only until Clear
	windows []Measurement // averaged measurements
	valid   []float64     // RTTs of valid raw measurements in history order

	sinks []Sink
}

// New creates an analyzer with an empty session
func New(cfg Config, opts ...Option) *Analyzer {
	cfg = cfg.withDefaults()
	a := &Analyzer{
		cfg:   cfg,
		clock: RealClock(),
		log:   logrus.WithField("component", "analyze"),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.emitCond = sync.NewCond(&a.emitMu)

	a.registry = NewProbeRegistry(cfg, a.clock, a.handleTimeout)
	a.baseline = NewBaselineCalibrator(cfg)
	a.threshold = NewThresholdClassifier(cfg)
	a.clusters = NewAdaptiveClassifier(cfg)
	a.averager = NewRollingAverager(cfg.BatchSize)
	a.health = NewNetworkHealthScorer(cfg)
	a.anomalies = NewAnomalyDetector(cfg)
	a.predictor = NewStatePredictor(cfg)
	a.profiles = NewProfileAggregator(cfg, a.rules)
	return a
}

// Config returns the effective configuration
func (a *Analyzer) Config() Config {
	return a.cfg
}

// AddSink registers a sink for published measurements and profiles
func (a *Analyzer) AddSink(s Sink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sinks = append(a.sinks, s)
}

// RegisterProbe starts tracking a probe. A zero StartTime is set to now.
func (a *Analyzer) RegisterProbe(id string, p Probe) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p.ID = id
	if p.StartTime.IsZero() {
		p.StartTime = a.clock.Now()
	}
	if a.registry.Pending(id) {
		a.log.WithField("probe", id).Warn("probe id already pending, replacing")
	}
	a.registry.Register(p)
	a.log.WithFields(logrus.Fields{"probe": id, "target": p.Target}).Debug("probe registered")
}

// Resolve applies an acknowledgment. Unknown ids and non-device receipt codes
// are ignored. On success the raw measurement is returned.
func (a *Analyzer) Resolve(id, receiptCode, originIdentity string) (Measurement, bool) {
	a.mu.Lock()
	code := NormalizeReceipt(receiptCode)
	now := a.clock.Now()
	probe, rtt, outcome := a.registry.Resolve(id, code, now)
	switch outcome {
	case ResolveUnknown:
		a.mu.Unlock()
		return Measurement{}, false
	case ResolveIgnored:
		a.log.WithFields(logrus.Fields{"probe": id, "receipt": code}).Debug("ignoring non-device receipt")
		a.mu.Unlock()
		return Measurement{}, false
	}

	if rtt < 0 {
		// Start time came from a clock running ahead of ours
		a.log.WithFields(logrus.Fields{"probe": id, "rtt_ms": rtt}).Warn("negative RTT, clamping to 0")
		rtt = 0
	}
	if originIdentity != "" {
		probe.OriginIdentity = originIdentity
	}
	m := Measurement{
		Timestamp:      now,
		Target:         probe.Target,
		DeviceModel:    probe.DeviceModel,
		OriginIdentity: probe.OriginIdentity,
		RTTms:          floatPtr(rtt),
		ReceiptCode:    code,
	}
	out := a.record(m)
	a.mu.Unlock()

	a.dispatch(out)
	return out.raw, true
}

// handleTimeout is the registry timer callback
func (a *Analyzer) handleTimeout(id string, seq uint64) {
	a.mu.Lock()
	probe, ok := a.registry.Expire(id, seq)
	if !ok {
		a.mu.Unlock()
		return
	}
	a.log.WithFields(logrus.Fields{"probe": id, "target": probe.Target}).Debug("probe timed out")
	m := Measurement{
		Timestamp:      a.clock.Now(),
		Target:         probe.Target,
		DeviceModel:    probe.DeviceModel,
		OriginIdentity: probe.OriginIdentity,
		ReceiptCode:    ReceiptTimeout,
	}
	out := a.record(m)
	a.mu.Unlock()

	a.dispatch(out)
}

// emission collects what one recorded measurement publishes
type emission struct {
	ticket  uint64
	sinks   []Sink
	raw     Measurement
	window  *Measurement
	profile *DeviceProfile
	flags   []RiskFlag
}

// record classifies m, appends it to history and runs the rolling window,
// presence correlation and profile refresh. Caller holds a.mu.
func (a *Analyzer) record(m Measurement) emission {
	if m.Valid() {
		rtt := m.RTT()
		a.valid = append(a.valid, rtt)
		if a.baseline.Observe(rtt) {
			b, _ := a.baseline.Baseline()
			a.log.WithField("baseline_ms", b).Info("baseline locked")
		}
		if a.clusters.Observe(a.valid) {
			a.log.WithField("centroids", a.clusters.Centroids()).Info("clusters retrained")
		}
		m.Band = a.classify(rtt)
		m.ClusterLabel = a.clusters.Classify(rtt)
	} else {
		m.Band = BandOffline
		m.ClusterLabel = ClusterUnknown
	}
	m.NetworkHealth = a.health.Score(a.valid)

	a.history = append(a.history, m)
	out := emission{ticket: a.emitNext, sinks: a.sinks, raw: m}
	a.emitNext++

	if avg, ok := a.averager.Add(m); ok {
		a.windows = append(a.windows, avg)
		out.window = &avg
		identity := avg.OriginIdentity
		if identity == "" {
			identity = avg.Target
		}
		for _, f := range a.anomalies.Correlate(identity, avg) {
			a.log.WithFields(logrus.Fields{"flag": f.Type, "target": avg.Target}).Warn(f.Description)
			out.flags = append(out.flags, f)
		}
	}

	if len(a.history)%a.cfg.ProfileEvery == 0 {
		p := cloneProfile(a.profiles.Aggregate(a.history, a.profileContext()))
		out.profile = &p
	}
	return out
}

// classify returns the threshold band or the calibration sentinel. Caller holds a.mu.
func (a *Analyzer) classify(rtt float64) Band {
	b, ok := a.baseline.Baseline()
	if !ok {
		return a.baseline.Sentinel()
	}
	return a.threshold.Classify(rtt, b, a.valid)
}

func (a *Analyzer) profileContext() ProfileContext {
	pc := ProfileContext{
		CalibrationStatus: a.baseline.Status(),
		Centroids:         a.clusters.Centroids(),
		Now:               a.clock.Now(),
	}
	if b, ok := a.baseline.Baseline(); ok {
		pc.Baseline = floatPtr(b)
	}
	return pc
}

// dispatch waits for the emission's turn so sinks observe events in the order
// they were recorded. Sinks may read from the analyzer but must not record.
func (a *Analyzer) dispatch(out emission) {
	a.emitMu.Lock()
	for a.emitTurn != out.ticket {
		a.emitCond.Wait()
	}
	a.emitMu.Unlock()
	defer func() {
		a.emitMu.Lock()
		a.emitTurn++
		a.emitCond.Broadcast()
		a.emitMu.Unlock()
	}()

	for _, s := range out.sinks {
		if ro, ok := s.(RawObserver); ok {
			ro.RawMeasurement(out.raw)
		}
		if out.window != nil {
			s.Measurement(*out.window)
		}
		if fo, ok := s.(FlagObserver); ok {
			for _, f := range out.flags {
				fo.RiskFlag(f)
			}
		}
		if out.profile != nil {
			s.Profile(*out.profile)
		}
	}
}

// Presence records the latest presence status for identity
func (a *Analyzer) Presence(identity, status string, ts time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ts.IsZero() {
		ts = a.clock.Now()
	}
	a.anomalies.SetPresence(identity, status, ts)
}

// Measurements returns a copy of the raw measurement history
func (a *Analyzer) Measurements() []Measurement {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Measurement, len(a.history))
	copy(out, a.history)
	return out
}

// Windows returns a copy of the averaged measurements emitted so far
func (a *Analyzer) Windows() []Measurement {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Measurement, len(a.windows))
	copy(out, a.windows)
	return out
}

// Profile returns the last published profile
func (a *Analyzer) Profile() DeviceProfile {
	a.mu.Lock()
	defer a.mu.Unlock()
	return cloneProfile(a.profiles.Current())
}

// RefreshProfile recomputes the profile on demand
func (a *Analyzer) RefreshProfile() DeviceProfile {
	a.mu.Lock()
	defer a.mu.Unlock()
	return cloneProfile(a.profiles.Aggregate(a.history, a.profileContext()))
}

// Statistics returns an on-demand snapshot, including a fresh statistical
// anomaly pass and next-band prediction
func (a *Analyzer) Statistics() Statistics {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	s := Statistics{
		Total:      len(a.history),
		Valid:      len(a.valid),
		Timeouts:   len(a.history) - len(a.valid),
		Averaged:   len(a.windows),
		Pending:    a.registry.Len(),
		WindowLen:  a.averager.Len(),
		BandCounts: make(map[Band]int),
		RiskFlags:  a.anomalies.Flags(),
		Anomalies:  a.anomalies.Outliers(a.valid, len(a.valid), now),
		Centroids:  a.clusters.Centroids(),
	}
	if len(a.valid) > 0 {
		s.AvgRTT = floatPtr(mean(a.valid))
		s.MinRTT = floatPtr(minFloat(a.valid))
		s.MaxRTT = floatPtr(maxFloat(a.valid))
	}

	bands := make([]Band, len(a.history))
	for i, m := range a.history {
		if m.Band.IsCalibrating() {
			s.BandCounts[BandCalibrating]++
		} else {
			s.BandCounts[m.Band]++
		}
		bands[i] = m.Band
	}
	s.Prediction = a.predictor.Predict(bands)

	s.FastSamples, _ = a.baseline.Progress()
	s.CalibrationStatus = a.baseline.Status()
	if b, ok := a.baseline.Baseline(); ok {
		s.Calibrated = true
		s.Baseline = floatPtr(b)
		t := a.threshold.Thresholds(b)
		s.Thresholds = &t
	}
	return s
}

// Clear resets every piece of session state and stops pending timers
func (a *Analyzer) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.registry.Clear()
	a.baseline.Reset()
	a.clusters.Reset()
	a.averager.Reset()
	a.anomalies.Reset()
	a.profiles.Reset()
	a.history = nil
	a.windows = nil
	a.valid = nil
	a.log.Info("session cleared")
}

func cloneProfile(p DeviceProfile) DeviceProfile {
	p.Characteristics = maps.Clone(p.Characteristics)
	if p.Characteristics == nil {
		p.Characteristics = map[string]string{}
	}
	transitions := make([]Transition, len(p.Transitions))
	copy(transitions, p.Transitions)
	p.Transitions = transitions
	return p
}
