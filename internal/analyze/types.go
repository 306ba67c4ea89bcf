package analyze

import (
	"fmt"
	"strings"
	"time"
)

// Band is the activity state attributed to the monitored endpoint
type Band string

const (
	BandForeground Band = "APP_FOREGROUND"
	BandScreenOn   Band = "SCREEN_ON"
	BandScreenOff  Band = "SCREEN_OFF"
	BandOffline    Band = "OFFLINE"
)

const calibratingPrefix = "Calibrating"

// BandCalibrating groups every calibration sentinel in aggregate counts
const BandCalibrating Band = calibratingPrefix

// calibratingBand is the sentinel returned while the baseline is not locked yet
func calibratingBand(have, need int) Band {
	return Band(fmt.Sprintf("%s (%d/%d fast samples)", calibratingPrefix, have, need))
}

// IsCalibrating reports whether b is the calibration sentinel rather than a real band
func (b Band) IsCalibrating() bool {
	return strings.HasPrefix(string(b), calibratingPrefix)
}

// Discrete reports whether b is one of the four activity bands
func (b Band) Discrete() bool {
	switch b {
	case BandForeground, BandScreenOn, BandScreenOff, BandOffline:
		return true
	}
	return false
}

// Health is the jitter tier of the network path
type Health string

const (
	HealthStable   Health = "STABLE"
	HealthModerate Health = "MODERATE_JITTER"
	HealthHigh     Health = "HIGH_JITTER"
)

// Cluster labels assigned by the adaptive classifier
const (
	ClusterFast    = "Fast"
	ClusterMedium  = "Medium"
	ClusterSlow    = "Slow"
	ClusterUnknown = "Unknown"
)

// Receipt codes as delivered by the transport sidecar
const (
	ReceiptServerAck = "SERVER_ACK"
	ReceiptDelivery  = "DELIVERY_ACK"
	ReceiptRead      = "READ"
	ReceiptPlayed    = "PLAYED"
	ReceiptInactive  = "INACTIVE"
	ReceiptTimeout   = "TIMEOUT"
)

// NormalizeReceipt maps numeric protocol statuses and raw receipt node types onto receipt codes
func NormalizeReceipt(code string) string {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "2", "server_ack", "server-ack":
		return ReceiptServerAck
	case "3", "delivery_ack", "delivery-ack", "delivered":
		return ReceiptDelivery
	case "4", "read":
		return ReceiptRead
	case "5", "played":
		return ReceiptPlayed
	case "inactive":
		return ReceiptInactive
	}
	return strings.ToUpper(strings.TrimSpace(code))
}

// FlagType identifies a kind of risk flag or statistical anomaly
type FlagType string

const (
	FlagGhostSession  FlagType = "GHOST_SESSION"
	FlagHiddenActive  FlagType = "HIDDEN_ACTIVE"
	FlagSuddenSpike   FlagType = "SUDDEN_SPIKE"
	FlagTooConsistent FlagType = "TOO_CONSISTENT"
)

// Probe is an outstanding outbound trigger awaiting acknowledgment
type Probe struct {
	ID             string    `json:"id" yaml:"id"`
	StartTime      time.Time `json:"start_time" yaml:"start_time"`
	Target         string    `json:"target" yaml:"target"`
	DeviceModel    string    `json:"device_model,omitempty" yaml:"device_model,omitempty"`
	OriginIdentity string    `json:"origin,omitempty" yaml:"origin,omitempty"`
}

// Measurement is one raw or averaged RTT observation
type Measurement struct {
	Timestamp      time.Time `json:"timestamp" yaml:"timestamp"`
	Target         string    `json:"target" yaml:"target"`
	DeviceModel    string    `json:"device_model,omitempty" yaml:"device_model,omitempty"`
	OriginIdentity string    `json:"origin,omitempty" yaml:"origin,omitempty"`
	RTTms          *float64  `json:"rtt_ms" yaml:"rtt_ms"`
	Band           Band      `json:"status" yaml:"status"`
	ReceiptCode    string    `json:"receipt_type,omitempty" yaml:"receipt_type,omitempty"`
	NetworkHealth  Health    `json:"network_health" yaml:"network_health"`
	ClusterLabel   string    `json:"cluster" yaml:"cluster"`
	IsAveraged     bool      `json:"averaged" yaml:"averaged"`

	// Averaged measurements only
	RawRTT        *float64  `json:"raw_rtt_ms,omitempty" yaml:"raw_rtt_ms,omitempty"`
	WindowSamples []float64 `json:"window_samples,omitempty" yaml:"window_samples,omitempty"`
}

// Valid reports whether the measurement carries an RTT
func (m Measurement) Valid() bool {
	return m.RTTms != nil
}

// RTT returns the RTT in milliseconds, or 0 for timeouts
func (m Measurement) RTT() float64 {
	if m.RTTms == nil {
		return 0
	}
	return *m.RTTms
}

// PresenceRecord is the latest presence signal reported for an identity
type PresenceRecord struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// RiskFlag is a detected inconsistency or anomaly
type RiskFlag struct {
	Type        FlagType  `json:"type"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// Thresholds are the band boundaries derived from a locked baseline
type Thresholds struct {
	Foreground float64 `json:"foreground_ms"`
	ScreenOn   float64 `json:"screen_on_ms"`
	ScreenOff  float64 `json:"screen_off_ms"`
}

// Prediction is the most likely next band
type Prediction struct {
	Band       Band    `json:"band"`
	Confidence float64 `json:"confidence"`
	Observed   int     `json:"observed_transitions"`
}

// Transition is a detected band change between consecutive valid measurements
type Transition struct {
	Time      time.Time `json:"time"`
	From      Band      `json:"from"`
	To        Band      `json:"to"`
	RTTChange float64   `json:"rtt_change_ms"`
}

// DeviceProfile is the human-facing summary recomputed every few measurements
type DeviceProfile struct {
	Label           string            `json:"label"`
	Confidence      int               `json:"confidence"`
	Characteristics map[string]string `json:"characteristics"`
	Transitions     []Transition      `json:"transitions"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Statistics is the on-demand snapshot of the analyzer
type Statistics struct {
	Total     int `json:"total"`
	Valid     int `json:"valid"`
	Timeouts  int `json:"timeouts"`
	Averaged  int `json:"averaged"`
	Pending   int `json:"pending"`
	WindowLen int `json:"window_len"`

	AvgRTT     *float64     `json:"avg_rtt_ms"`
	MinRTT     *float64     `json:"min_rtt_ms"`
	MaxRTT     *float64     `json:"max_rtt_ms"`
	BandCounts map[Band]int `json:"status_counts"`

	Baseline          *float64    `json:"baseline_ms"`
	Thresholds        *Thresholds `json:"thresholds"`
	Calibrated        bool        `json:"calibrated"`
	CalibrationStatus string      `json:"calibration_status"`
	FastSamples       int         `json:"fast_samples"`

	RiskFlags  []RiskFlag  `json:"risk_flags"`
	Anomalies  []RiskFlag  `json:"anomalies"`
	Prediction *Prediction `json:"prediction"`
	Centroids  []float64   `json:"centroids"`
}
