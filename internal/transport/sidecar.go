package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/planbiir/rttsense/internal/analyze"
)

// ErrNotConnected is returned when the sidecar has no messaging session
var ErrNotConnected = errors.New("sidecar not connected")

// Transport sends one probe to a target and returns it ready for registration
type Transport interface {
	SendProbe(ctx context.Context, target string) (analyze.Probe, error)
}

// SidecarClient sends probes through the HTTP sidecar that holds the
// messaging session
type SidecarClient struct {
	baseURL string
	client  *http.Client
	log     *logrus.Entry
}

// NewSidecarClient creates a client for the sidecar at baseURL
func NewSidecarClient(baseURL string, client *http.Client, log *logrus.Entry) *SidecarClient {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logrus.WithField("component", "transport")
	}
	return &SidecarClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		log:     log,
	}
}

type probeRequest struct {
	Target string `json:"target"`
}

type probeResponse struct {
	MessageID string `json:"messageId"`
	StartTime int64  `json:"startTime"` // unix milliseconds
	Target    string `json:"target"`
	Error     string `json:"error,omitempty"`
}

// NormalizeTarget strips the international prefix from a phone-number target
func NormalizeTarget(target string) string {
	target = strings.TrimSpace(target)
	target = strings.TrimPrefix(target, "+")
	return strings.TrimPrefix(target, "00")
}

// SendProbe asks the sidecar to send a probe and returns its id and send time
func (c *SidecarClient) SendProbe(ctx context.Context, target string) (analyze.Probe, error) {
	body, err := json.Marshal(probeRequest{Target: NormalizeTarget(target)})
	if err != nil {
		return analyze.Probe{}, fmt.Errorf("failed to encode probe request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send-probe", bytes.NewReader(body))
	if err != nil {
		return analyze.Probe{}, fmt.Errorf("failed to build probe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return analyze.Probe{}, fmt.Errorf("failed to send probe: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return analyze.Probe{}, fmt.Errorf("failed to read probe response: %w", err)
	}

	var pr probeResponse
	if len(data) > 0 {
		if err := json.Unmarshal(data, &pr); err != nil {
			return analyze.Probe{}, fmt.Errorf("failed to decode probe response: %w", err)
		}
	}

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return analyze.Probe{}, ErrNotConnected
	case resp.StatusCode != http.StatusOK:
		return analyze.Probe{}, fmt.Errorf("sidecar returned %d: %s", resp.StatusCode, pr.Error)
	case pr.MessageID == "":
		return analyze.Probe{}, errors.New("sidecar response has no message id")
	}

	p := analyze.Probe{
		ID:     pr.MessageID,
		Target: pr.Target,
	}
	if pr.StartTime > 0 {
		p.StartTime = time.UnixMilli(pr.StartTime)
	}
	if p.Target == "" {
		p.Target = NormalizeTarget(target)
	}

	c.log.WithFields(logrus.Fields{"probe": p.ID, "target": p.Target}).Debug("probe sent")
	return p, nil
}
