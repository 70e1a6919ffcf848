package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/azuse/jellyfin-exporter/internal/config"
	"github.com/azuse/jellyfin-exporter/internal/logging"
	"github.com/azuse/jellyfin-exporter/internal/server"
)

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	logger := a.logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("exporter", "Starting jellyfin-exporter",
		logging.F("version", version),
		logging.F("jellyfin_url", a.cfg.Jellyfin.URL),
		logging.F("addr", a.cfg.Exporter.Addr()),
		logging.F("circuit_breaker", a.cfg.Jellyfin.CircuitBreaker.Enabled))

	pingCtx, cancelPing := context.WithTimeout(ctx, a.cfg.Jellyfin.Timeout)
	if info, err := a.client.Ping(pingCtx); err != nil {
		logger.Warn("exporter", "Jellyfin is not reachable yet, scrapes will fail until it is",
			logging.F("error", err.Error()))
	} else {
		logger.Info("exporter", "Connected to Jellyfin",
			logging.F("server_name", info.ServerName),
			logging.F("server_version", info.Version))
	}
	cancelPing()

	if a.loader.ConfigFile() != "" {
		a.loader.Watch(func(cfg *config.Config, err error) {
			if err != nil {
				logger.Warn("config", "Ignoring unreadable config change", logging.F("error", err.Error()))
				return
			}
			level := logging.ParseLevel(cfg.Logging.Level)
			if level != logger.GetLevel() {
				logger.SetLevel(level)
				logger.Info("config", "Log level changed", logging.F("level", level.String()))
			}
		})
	}

	srv := server.NewServer(server.Config{
		Addr:          a.cfg.Exporter.Addr(),
		Registry:      a.registry,
		Logger:        logger,
		ScrapeTimeout: a.cfg.Exporter.ScrapeTimeout,
	})
	if err := srv.Listen(); err != nil {
		return err
	}

	sup := suture.New("jellyfin-exporter", suture.Spec{
		EventHook:        (&sutureslog.Handler{Logger: logger.Slog("supervisor")}).MustHook(),
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   5 * time.Second,
		Timeout:          15 * time.Second,
	})
	sup.Add(srv)

	err = sup.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("exporter", "Supervisor stopped", err)
		return err
	}

	logger.Info("exporter", "Stopped")
	return nil
}
