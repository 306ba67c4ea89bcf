package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/planbiir/rttsense/internal/analyze"
	"github.com/planbiir/rttsense/internal/config"
	"github.com/planbiir/rttsense/internal/feed"
	"github.com/planbiir/rttsense/internal/metrics"
	"github.com/planbiir/rttsense/internal/monitor"
	"github.com/planbiir/rttsense/internal/server"
	"github.com/planbiir/rttsense/internal/session"
	"github.com/planbiir/rttsense/internal/transport"
)

func serveCmd(v *viper.Viper, load func() (*config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, websocket feed and monitoring controller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().String("addr", ":8080", "HTTP listen address")
	cmd.Flags().String("sidecar", "http://127.0.0.1:3000", "transport sidecar base URL")
	cmd.Flags().String("export-dir", ".", "directory for exported session bundles")
	cmd.Flags().String("export-format", "json", "bundle format (json, yaml)")
	v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	v.BindPFlag("sidecar.url", cmd.Flags().Lookup("sidecar"))
	v.BindPFlag("export.dir", cmd.Flags().Lookup("export-dir"))
	v.BindPFlag("export.format", cmd.Flags().Lookup("export-format"))
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logrus.WithField("app", "rttsense")

	a := analyze.New(cfg.AnalyzeConfig(), analyze.WithLogger(log.WithField("component", "analyze")))

	hub := feed.NewHub(log.WithField("component", "feed"))
	go hub.Run(ctx)
	rec := metrics.New(a)
	a.AddSink(hub)
	a.AddSink(rec)

	client, err := transport.BuildHTTP2Client(cfg.TLS(), cfg.Sidecar.Timeout)
	if err != nil {
		return fmt.Errorf("sidecar client: %w", err)
	}
	sidecar := transport.NewSidecarClient(cfg.Sidecar.URL, client, log.WithField("component", "sidecar"))

	mon := monitor.New(sidecar, a, monitor.Options{
		ExportDir: cfg.Export.Dir,
		Format:    session.Format(cfg.Export.Format),
		Logger:    log.WithField("component", "monitor"),
		OnLog:     hub.Log,
	})

	srv := server.New(a, server.Options{
		Monitor:     mon,
		Hub:         hub,
		Metrics:     rec.Handler(),
		Logger:      log.WithField("component", "server"),
		BaseContext: ctx,
	})

	err = server.ListenAndServe(ctx, cfg.Server.Addr, srv.Router(), log)

	shutdownMonitor(mon, log)
	return err
}

// shutdownMonitor stops a running session and blocks until its bundle is
// written. A session already ended by the cancelled context exports from its
// own loop, so Wait covers that case too.
func shutdownMonitor(mon *monitor.Controller, log *logrus.Entry) {
	path, err := mon.Stop()
	switch {
	case err == nil:
		log.WithField("file", path).Info("session exported on shutdown")
	case !errors.Is(err, monitor.ErrNotRunning):
		log.WithError(err).Error("failed to export session on shutdown")
	}
	mon.Wait()
}
