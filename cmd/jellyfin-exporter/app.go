package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/azuse/jellyfin-exporter/internal/collector"
	"github.com/azuse/jellyfin-exporter/internal/config"
	"github.com/azuse/jellyfin-exporter/internal/jellyfin"
	"github.com/azuse/jellyfin-exporter/internal/logging"
)

// app is everything built from configuration, shared by serve and check.
type app struct {
	cfg      *config.Config
	loader   *config.Loader
	logger   *logging.Logger
	client   *jellyfin.Client
	registry *prometheus.Registry
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, loader, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("unable to load config: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create logger: %w", err)
	}

	client := jellyfin.NewClient(jellyfin.Config{
		URL:     cfg.Jellyfin.URL,
		APIKey:  cfg.Jellyfin.APIKey,
		Timeout: cfg.Jellyfin.Timeout,
		Logger:  logger,
	})

	var fetcher jellyfin.Fetcher = client
	if cb := cfg.Jellyfin.CircuitBreaker; cb.Enabled {
		fetcher = jellyfin.NewBreakerClient(client, jellyfin.BreakerConfig{
			FailureThreshold: uint32(cb.FailureThreshold),
			Cooldown:         cb.Cooldown,
			Logger:           logger,
		})
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collector.New(fetcher, cfg.Jellyfin.URL,
		collector.WithTimeout(cfg.Exporter.ScrapeTimeout),
		collector.WithLogger(logger),
	))
	if cfg.Exporter.RuntimeMetrics {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return &app{
		cfg:      cfg,
		loader:   loader,
		logger:   logger,
		client:   client,
		registry: registry,
	}, nil
}
