// Package server exposes the analyzer and the monitoring controller over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/planbiir/rttsense/internal/analyze"
	"github.com/planbiir/rttsense/internal/feed"
	"github.com/planbiir/rttsense/internal/monitor"
)

// Options wires the optional collaborators of a Server
type Options struct {
	Monitor *monitor.Controller
	Hub     *feed.Hub
	Metrics http.Handler
	Logger  *logrus.Entry

	// BaseContext is the parent of monitoring sessions started over HTTP.
	// Request contexts end with the response, so they cannot be used.
	BaseContext context.Context
}

// Server holds the HTTP handlers
type Server struct {
	analyzer *analyze.Analyzer
	monitor  *monitor.Controller
	hub      *feed.Hub
	metrics  http.Handler
	log      *logrus.Entry
	baseCtx  context.Context
}

// New creates a server around a
func New(a *analyze.Analyzer, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logrus.WithField("component", "server")
	}
	baseCtx := opts.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Server{
		analyzer: a,
		monitor:  opts.Monitor,
		hub:      opts.Hub,
		metrics:  opts.Metrics,
		log:      log,
		baseCtx:  baseCtx,
	}
}

// Router builds the chi router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	if s.hub != nil {
		r.Get("/ws", s.hub.ServeWS)
	}
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/probes", s.handleProbe)
		r.Post("/receipts", s.handleReceipt)
		r.Post("/presence", s.handlePresence)
		r.Get("/stats", s.handleStats)
		r.Get("/profile", s.handleProfile)
		r.Get("/measurements", s.handleMeasurements)
		r.Post("/clear", s.handleClear)

		r.Route("/monitor", func(r chi.Router) {
			r.Get("/", s.handleMonitorStatus)
			r.Post("/start", s.handleMonitorStart)
			r.Post("/stop", s.handleMonitorStop)
		})
	})
	return r
}

// requestLogger logs each request through logrus
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("request")
	})
}

// ListenAndServe serves handler on addr until ctx is cancelled, then shuts
// down gracefully
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, log *logrus.Entry) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	}
}
