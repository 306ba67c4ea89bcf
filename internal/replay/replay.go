// Package replay re-runs a recorded session bundle through a fresh analyzer.
package replay

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/planbiir/rttsense/internal/analyze"
	"github.com/planbiir/rttsense/internal/session"
)

// ErrEmptyBundle is returned for bundles without raw measurements
var ErrEmptyBundle = errors.New("bundle has no raw measurements")

// expectedCluster is the k-means label that agrees with a threshold band
var expectedCluster = map[analyze.Band]string{
	analyze.BandForeground: analyze.ClusterFast,
	analyze.BandScreenOn:   analyze.ClusterMedium,
	analyze.BandScreenOff:  analyze.ClusterSlow,
	analyze.BandOffline:    analyze.ClusterSlow,
}

// Divergence counts disagreements between two classifications
type Divergence struct {
	Compared int     `json:"compared"`
	Diverged int     `json:"diverged"`
	Rate     float64 `json:"rate"`
}

func (d *Divergence) observe(agree bool) {
	d.Compared++
	if !agree {
		d.Diverged++
	}
	d.Rate = float64(d.Diverged) / float64(d.Compared)
}

// Result is the outcome of a replay
type Result struct {
	BundleID   string                `json:"bundle_id"`
	Replayed   []analyze.Measurement `json:"replayed"`
	Windows    []analyze.Measurement `json:"windows"`
	Statistics analyze.Statistics    `json:"statistics"`
	Profile    analyze.DeviceProfile `json:"profile"`

	// Recorded band vs replayed band, discrete bands only
	Recorded Divergence `json:"recorded_vs_replayed"`
	// Replayed threshold band vs k-means label, once the model is trained
	Classifiers Divergence `json:"threshold_vs_cluster"`
}

// Run replays the raw measurements of b in timestamp order. Each valid
// measurement is registered rtt before its timestamp and resolved at it; each
// timeout is registered and left to expire.
func Run(b *session.Bundle, cfg analyze.Config, log *logrus.Entry) (*Result, error) {
	if b == nil {
		return nil, errors.New("bundle is nil")
	}
	raw := b.Raw()
	if len(raw) == 0 {
		return nil, ErrEmptyBundle
	}
	if log == nil {
		log = logrus.WithField("component", "replay")
	}

	clock := analyze.NewManualClock(raw[0].Timestamp)
	a := analyze.New(cfg, analyze.WithClock(clock), analyze.WithLogger(log))
	timeout := a.Config().ProbeTimeout

	res := &Result{BundleID: b.ID}
	for i, m := range raw {
		id := fmt.Sprintf("replay-%d", i)
		probe := analyze.Probe{Target: m.Target, DeviceModel: m.DeviceModel, OriginIdentity: m.OriginIdentity}

		if !m.Valid() {
			clock.Set(m.Timestamp.Add(-timeout))
			a.RegisterProbe(id, probe)
			clock.Advance(timeout)
			continue
		}

		probe.StartTime = m.Timestamp.Add(-time.Duration(m.RTT() * float64(time.Millisecond)))
		clock.Set(m.Timestamp)
		a.RegisterProbe(id, probe)
		replayed, ok := a.Resolve(id, analyze.ReceiptDelivery, m.OriginIdentity)
		if !ok {
			return nil, fmt.Errorf("replay of measurement %d was not accepted", i)
		}

		if m.Band.Discrete() && replayed.Band.Discrete() {
			res.Recorded.observe(m.Band == replayed.Band)
		}
		if want, ok := expectedCluster[replayed.Band]; ok && replayed.ClusterLabel != analyze.ClusterUnknown {
			res.Classifiers.observe(want == replayed.ClusterLabel)
		}
	}

	res.Replayed = a.Measurements()
	res.Windows = a.Windows()
	res.Statistics = a.Statistics()
	res.Profile = a.RefreshProfile()

	log.WithFields(logrus.Fields{
		"bundle":              b.ID,
		"measurements":        len(res.Replayed),
		"recorded_divergence": res.Recorded.Rate,
		"cluster_divergence":  res.Classifiers.Rate,
	}).Info("replay finished")
	return res, nil
}
