// Package monitor drives a probing session against one target.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/planbiir/rttsense/internal/analyze"
	"github.com/planbiir/rttsense/internal/session"
	"github.com/planbiir/rttsense/internal/transport"
)

var (
	ErrAlreadyRunning = errors.New("monitoring already in progress")
	ErrNotRunning     = errors.New("monitoring is not running")
	ErrInvalidConfig  = errors.New("invalid run config")
)

// Options configures a Controller
type Options struct {
	ExportDir string
	Format    session.Format
	Logger    *logrus.Entry

	// OnLog receives operator-facing messages such as cadence warnings
	OnLog func(msg string)
}

// Status is a snapshot of the controller
type Status struct {
	Running    bool              `json:"running"`
	SessionID  string            `json:"session_id,omitempty"`
	Config     session.RunConfig `json:"config"`
	StartedAt  time.Time         `json:"started_at,omitempty"`
	ProbesSent int               `json:"probes_sent"`
	SendErrors int               `json:"send_errors"`
	LastExport string            `json:"last_export,omitempty"`
}

// Controller sends probes at a fixed cadence and registers them with the analyzer
type Controller struct {
	transport transport.Transport
	analyzer  *analyze.Analyzer
	opts      Options
	log       *logrus.Entry

	// replaceable in tests
	every func(d time.Duration) (<-chan time.Time, func())
	after func(d time.Duration) (<-chan time.Time, func())
	now   func() time.Time

	mu         sync.Mutex
	running    bool
	bundle     *session.Bundle
	cancel     context.CancelFunc
	done       chan struct{}
	sent       int
	failed     int
	lastExport string
}

// New creates an idle controller
func New(t transport.Transport, a *analyze.Analyzer, opts Options) *Controller {
	if opts.Format == "" {
		opts.Format = session.FormatJSON
	}
	log := opts.Logger
	if log == nil {
		log = logrus.WithField("component", "monitor")
	}
	return &Controller{
		transport: t,
		analyzer:  a,
		opts:      opts,
		log:       log,
		every: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
		after: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTimer(d)
			return t.C, func() { t.Stop() }
		},
		now: time.Now,
	}
}

// Start begins a session. The session lives until Stop, until its duration
// elapses or until ctx is cancelled, so ctx must outlive the caller's request.
func (c *Controller) Start(ctx context.Context, cfg session.RunConfig) error {
	if cfg.Target == "" {
		return fmt.Errorf("%w: target required", ErrInvalidConfig)
	}
	if cfg.IntervalSec <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	}
	if cfg.DurationMin < 0 {
		return fmt.Errorf("%w: duration must not be negative", ErrInvalidConfig)
	}
	if cfg.DeviceModel == "" {
		cfg.DeviceModel = "Unknown"
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.running = true
	c.bundle = session.New(cfg, c.now())
	c.cancel = cancel
	c.done = done
	c.sent, c.failed = 0, 0
	c.mu.Unlock()

	switch {
	case cfg.IntervalSec < 5:
		c.warn(fmt.Sprintf("%ds interval is very aggressive and likely to be detected, recommended 15-30s", cfg.IntervalSec))
	case cfg.IntervalSec < 10:
		c.warn(fmt.Sprintf("caution: %ds interval may trigger detection, recommended 15-30s", cfg.IntervalSec))
	}
	c.notify(fmt.Sprintf("monitoring target %s every %ds", cfg.Target, cfg.IntervalSec))
	c.log.WithFields(logrus.Fields{
		"target":   cfg.Target,
		"interval": cfg.Interval(),
		"duration": cfg.Duration(),
	}).Info("monitoring started")

	go c.run(runCtx, cfg, done)
	return nil
}

func (c *Controller) run(ctx context.Context, cfg session.RunConfig, done chan struct{}) {
	defer close(done)

	c.sendProbe(ctx, cfg)

	tick, stopTick := c.every(cfg.Interval())
	defer stopTick()

	var deadline <-chan time.Time
	if d := cfg.Duration(); d > 0 {
		var stopDeadline func()
		deadline, stopDeadline = c.after(d)
		defer stopDeadline()
	}

	for {
		select {
		case <-ctx.Done():
			c.finish(done, "monitoring cancelled")
			return
		case <-deadline:
			c.finish(done, "monitoring completed")
			return
		case <-tick:
			c.sendProbe(ctx, cfg)
		}
	}
}

// finish exports the session unless Stop already took it over
func (c *Controller) finish(done chan struct{}, msg string) {
	c.mu.Lock()
	owned := c.running && c.done == done
	if owned {
		c.running = false
		c.cancel()
	}
	c.mu.Unlock()
	if !owned {
		return
	}

	c.notify(msg)
	if _, err := c.export(); err != nil {
		c.log.WithError(err).Error("failed to export session")
	}
}

func (c *Controller) sendProbe(ctx context.Context, cfg session.RunConfig) {
	p, err := c.transport.SendProbe(ctx, cfg.Target)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.mu.Lock()
		c.failed++
		c.mu.Unlock()
		c.log.WithError(err).Warn("error sending probe")
		c.notify(fmt.Sprintf("error sending probe: %v", err))
		return
	}

	if p.DeviceModel == "" {
		p.DeviceModel = cfg.DeviceModel
	}
	if p.Target == "" {
		p.Target = cfg.Target
	}
	c.analyzer.RegisterProbe(p.ID, p)

	c.mu.Lock()
	c.sent++
	c.mu.Unlock()
	c.log.WithField("probe", p.ID).Debug("probe registered")
}

// Stop ends the running session and exports it. It returns the bundle path.
func (c *Controller) Stop() (string, error) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return "", ErrNotRunning
	}
	c.running = false
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done

	c.notify("monitoring stopped")
	return c.export()
}

// Wait blocks until the current session's loop has exited
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Status returns the controller state
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{
		Running:    c.running,
		ProbesSent: c.sent,
		SendErrors: c.failed,
		LastExport: c.lastExport,
	}
	if c.bundle != nil {
		s.SessionID = c.bundle.ID
		s.Config = c.bundle.Config
		s.StartedAt = c.bundle.StartedAt
	}
	return s
}

func (c *Controller) export() (string, error) {
	c.mu.Lock()
	b := *c.bundle
	c.mu.Unlock()

	b.StoppedAt = c.now()
	ms := append(c.analyzer.Measurements(), c.analyzer.Windows()...)
	sort.SliceStable(ms, func(i, j int) bool {
		return ms[i].Timestamp.Before(ms[j].Timestamp)
	})
	b.Measurements = ms

	path, err := b.Export(c.opts.ExportDir, c.opts.Format)
	if err != nil {
		return "", fmt.Errorf("export session: %w", err)
	}

	c.mu.Lock()
	c.lastExport = path
	c.mu.Unlock()
	c.log.WithFields(logrus.Fields{"file": path, "measurements": len(ms)}).Info("session exported")
	return path, nil
}

func (c *Controller) warn(msg string) {
	c.log.Warn(msg)
	c.notify("WARNING: " + msg)
}

func (c *Controller) notify(msg string) {
	if c.opts.OnLog != nil {
		c.opts.OnLog(msg)
	}
}
