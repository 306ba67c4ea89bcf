package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planbiir/rttsense/internal/analyze"
	"github.com/planbiir/rttsense/internal/replay"
	"github.com/planbiir/rttsense/internal/session"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(viper.New())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeBundle(t *testing.T) string {
	t.Helper()
	start := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	b := session.New(session.RunConfig{Target: "peer", IntervalSec: 15, DeviceModel: "Pixel 8"}, start)
	for i, v := range []float64{420, 450, 0, 900, 430, 440} {
		m := analyze.Measurement{
			Timestamp: start.Add(time.Duration(i+1) * 15 * time.Second),
			Target:    "peer",
			Band:      analyze.BandOffline,
		}
		if v > 0 {
			rtt := v
			m.RTTms = &rtt
		}
		b.Measurements = append(b.Measurements, m)
	}
	b.StoppedAt = start.Add(2 * time.Minute)

	path := filepath.Join(t.TempDir(), "session.yaml")
	require.NoError(t, b.Write(path))
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "rttsense "+version)
}

func TestReplayCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeBundle(t)

	out, err := run(t, "replay", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Replay of session")
	assert.Contains(t, out, "Target: peer (Pixel 8)")
	assert.Contains(t, out, "Replayed: 6 measurements, 2 windows")
	assert.Contains(t, out, "Calibrating")

	out, err = run(t, "replay", "--json", path)
	require.NoError(t, err)
	var res replay.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Len(t, res.Replayed, 6)
	assert.Equal(t, 1, res.Statistics.Timeouts)
}

func TestReplayCommandErrors(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := run(t, "replay")
	assert.Error(t, err)

	_, err = run(t, "replay", filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "parse bundle")

	_, err = run(t, "--log-format", "xml", "replay", writeBundle(t))
	assert.ErrorContains(t, err, "log.format")
}
