package session

import (
	"time"

	"github.com/planbiir/rttsense/internal/analyze"
)

// FormatVersion is written into every bundle
const FormatVersion = "1"

// Format selects the on-disk encoding of a bundle
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// RunConfig describes how a monitoring run was driven
type RunConfig struct {
	Target      string `json:"target" yaml:"target"`
	IntervalSec int    `json:"interval_sec" yaml:"interval_sec"`
	DurationMin int    `json:"duration_min" yaml:"duration_min"`
	DeviceModel string `json:"device_model,omitempty" yaml:"device_model,omitempty"`
}

// Interval returns the probe cadence
func (c RunConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}

// Duration returns the run length, zero for unbounded runs
func (c RunConfig) Duration() time.Duration {
	return time.Duration(c.DurationMin) * time.Minute
}

// Bundle is the exported record of one monitoring session
type Bundle struct {
	Version   string    `json:"version" yaml:"version"`
	ID        string    `json:"id" yaml:"id"`
	Config    RunConfig `json:"config" yaml:"config"`
	StartedAt time.Time `json:"started_at" yaml:"started_at"`
	StoppedAt time.Time `json:"stopped_at" yaml:"stopped_at"`

	// Raw and averaged measurements in the order they were recorded
	Measurements []analyze.Measurement `json:"measurements" yaml:"measurements"`
}
