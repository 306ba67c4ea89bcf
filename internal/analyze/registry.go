package analyze

import (
	"time"
)

// ResolveOutcome tells what happened to a receipt delivered to the registry
type ResolveOutcome int

const (
	ResolveUnknown  ResolveOutcome = iota // no pending probe with that id
	ResolveIgnored                        // non-qualifying receipt, probe stays pending
	ResolveAccepted                       // probe resolved and removed
)

func (o ResolveOutcome) String() string {
	switch o {
	case ResolveIgnored:
		return "ignored"
	case ResolveAccepted:
		return "accepted"
	default:
		return "unknown"
	}
}

type pendingProbe struct {
	probe Probe
	timer Timer
	seq   uint64
}

// ProbeRegistry tracks outstanding probes and arms their timeouts. It is not
// safe for concurrent use; the Analyzer serializes every call.
type ProbeRegistry struct {
	cfg       Config
	clock     Clock
	onTimeout func(id string, seq uint64)
	pending   map[string]*pendingProbe
	seq       uint64
}

// NewProbeRegistry creates a registry whose timers call onTimeout with the
// probe id and the registration sequence number
func NewProbeRegistry(cfg Config, clock Clock, onTimeout func(id string, seq uint64)) *ProbeRegistry {
	return &ProbeRegistry{
		cfg:       cfg.withDefaults(),
		clock:     clock,
		onTimeout: onTimeout,
		pending:   make(map[string]*pendingProbe),
	}
}

// Register stores the probe and arms its timeout. A pending probe with the same
// id is replaced (last write wins) and its timer stopped.
func (r *ProbeRegistry) Register(p Probe) {
	if old, ok := r.pending[p.ID]; ok {
		old.timer.Stop()
	}
	r.seq++
	seq := r.seq
	id := p.ID
	entry := &pendingProbe{probe: p, seq: seq}
	entry.timer = r.clock.AfterFunc(r.cfg.ProbeTimeout, func() {
		if r.onTimeout != nil {
			r.onTimeout(id, seq)
		}
	})
	r.pending[p.ID] = entry
}

// Resolve removes the probe when code is a device-level acknowledgment and
// returns the RTT in milliseconds measured against now
func (r *ProbeRegistry) Resolve(id, code string, now time.Time) (Probe, float64, ResolveOutcome) {
	entry, ok := r.pending[id]
	if !ok {
		return Probe{}, 0, ResolveUnknown
	}
	if !r.cfg.qualifies(code) {
		return entry.probe, 0, ResolveIgnored
	}
	entry.timer.Stop()
	delete(r.pending, id)
	rtt := float64(now.Sub(entry.probe.StartTime)) / float64(time.Millisecond)
	return entry.probe, rtt, ResolveAccepted
}

// Expire removes the probe if it is still the registration identified by seq
func (r *ProbeRegistry) Expire(id string, seq uint64) (Probe, bool) {
	entry, ok := r.pending[id]
	if !ok || entry.seq != seq {
		return Probe{}, false
	}
	entry.timer.Stop()
	delete(r.pending, id)
	return entry.probe, true
}

// Pending reports whether id is still awaiting acknowledgment
func (r *ProbeRegistry) Pending(id string) bool {
	_, ok := r.pending[id]
	return ok
}

// Len returns the number of pending probes
func (r *ProbeRegistry) Len() int {
	return len(r.pending)
}

// Clear stops every timer and forgets all pending probes
func (r *ProbeRegistry) Clear() {
	for id, entry := range r.pending {
		entry.timer.Stop()
		delete(r.pending, id)
	}
}
