package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/planbiir/rttsense/internal/analyze"
	"github.com/planbiir/rttsense/internal/monitor"
	"github.com/planbiir/rttsense/internal/session"
)

type probeRequest struct {
	ID          string     `json:"id"`
	Target      string     `json:"target"`
	StartTime   *time.Time `json:"start_time,omitempty"`
	DeviceModel string     `json:"device_model,omitempty"`
	Origin      string     `json:"origin,omitempty"`
}

type receiptRequest struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	From   string `json:"from,omitempty"`
}

type presenceRequest struct {
	Identity  string     `json:"identity"`
	Status    string     `json:"status"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	var req probeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("id required"))
		return
	}

	p := analyze.Probe{
		Target:         req.Target,
		DeviceModel:    req.DeviceModel,
		OriginIdentity: req.Origin,
	}
	if req.StartTime != nil {
		p.StartTime = *req.StartTime
	}
	s.analyzer.RegisterProbe(req.ID, p)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"id": req.ID})
}

func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("id required"))
		return
	}

	m, ok := s.analyzer.Resolve(req.ID, req.Status, req.From)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	var req presenceRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Identity == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("identity required"))
		return
	}

	var ts time.Time
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}
	s.analyzer.Presence(req.Identity, req.Status, ts)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.analyzer.Statistics())
}

// handleProfile returns the last published profile, or a fresh one with ?refresh=true
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	if refresh {
		s.writeJSON(w, http.StatusOK, s.analyzer.RefreshProfile())
		return
	}
	s.writeJSON(w, http.StatusOK, s.analyzer.Profile())
}

// handleMeasurements returns the raw history, or the averaged windows with ?averaged=true
func (s *Server) handleMeasurements(w http.ResponseWriter, r *http.Request) {
	averaged, _ := strconv.ParseBool(r.URL.Query().Get("averaged"))
	if averaged {
		s.writeJSON(w, http.StatusOK, s.analyzer.Windows())
		return
	}
	s.writeJSON(w, http.StatusOK, s.analyzer.Measurements())
}

func (s *Server) handleClear(w http.ResponseWriter, _ *http.Request) {
	s.analyzer.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMonitorStart(w http.ResponseWriter, r *http.Request) {
	if !s.monitorConfigured(w) {
		return
	}
	var cfg session.RunConfig
	if !s.decode(w, r, &cfg) {
		return
	}

	err := s.monitor.Start(s.baseCtx, cfg)
	switch {
	case errors.Is(err, monitor.ErrAlreadyRunning):
		s.writeError(w, http.StatusConflict, err)
	case errors.Is(err, monitor.ErrInvalidConfig):
		s.writeError(w, http.StatusBadRequest, err)
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err)
	default:
		s.writeJSON(w, http.StatusAccepted, s.monitor.Status())
	}
}

func (s *Server) handleMonitorStop(w http.ResponseWriter, _ *http.Request) {
	if !s.monitorConfigured(w) {
		return
	}
	path, err := s.monitor.Stop()
	switch {
	case errors.Is(err, monitor.ErrNotRunning):
		s.writeError(w, http.StatusConflict, err)
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err)
	default:
		s.writeJSON(w, http.StatusOK, map[string]string{"file": path})
	}
}

func (s *Server) handleMonitorStatus(w http.ResponseWriter, _ *http.Request) {
	if !s.monitorConfigured(w) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.monitor.Status())
}

func (s *Server) monitorConfigured(w http.ResponseWriter) bool {
	if s.monitor == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("monitoring is not configured"))
		return false
	}
	return true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Warn("failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).Error("request failed")
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}
