package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360studio/propscout/cache"
	"github.com/c360studio/propscout/config"
	"github.com/c360studio/propscout/enrich"
	"github.com/c360studio/propscout/geosearch"
	"github.com/c360studio/propscout/metrics"
	"github.com/c360studio/propscout/propertyscout"
	"github.com/c360studio/propscout/provider"
	"github.com/c360studio/propscout/soql"
)

// App wires configuration to the cache layer, the provider clients and the
// engine.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	layer   *cache.Layer
	creds   *propertyscout.Credentials
	engine  *enrich.Engine
	metrics *metrics.Collectors

	natsConn *nats.Conn
}

// NewApp opens the configured cache backend and builds the engine.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(prometheus.NewRegistry()),
	}

	backend, err := a.openBackend(ctx)
	if err != nil {
		return nil, err
	}
	a.layer = cache.NewLayer(backend,
		cache.WithTTL(cfg.Cache.TTL),
		cache.WithQuota(cfg.Quota),
		cache.WithObserver(a.metrics),
		cache.WithLogger(logger),
	)
	a.creds = propertyscout.NewCredentials(a.layer, cfg.PropertyScout.APIKey)

	retry := provider.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Providers.MaxAttempts
	common := []provider.ClientOption{
		provider.WithRequestTimeout(cfg.Providers.RequestTimeout),
		provider.WithObserver(a.metrics),
		provider.WithLogger(logger),
		provider.WithUserAgent("propscout/" + Version),
	}

	rows := soql.NewClient(cfg.Providers.SocrataURL, append(common, provider.WithRetryConfig(retry))...)
	geo := geosearch.NewClient(cfg.Providers.GeoSearchURL, rows, common...)
	ps := propertyscout.NewClient(cfg.Providers.PropertyScoutURL, a.creds, append(common, provider.WithRetryConfig(retry))...)

	opts := []enrich.Option{
		enrich.WithLogger(logger),
		enrich.WithReportObserver(a.metrics),
		enrich.WithReportDeadline(cfg.Assembler.Deadline),
	}
	if cfg.Assembler.SkipFloodZone {
		opts = append(opts, enrich.WithoutFloodZone())
	}
	a.engine = enrich.NewEngine(geo, rows, ps, a.creds, a.layer, opts...)
	return a, nil
}

func (a *App) openBackend(ctx context.Context) (cache.Backend, error) {
	cfg := a.cfg.Cache
	switch cfg.Backend {
	case config.BackendMemory:
		return cache.NewMemoryBackend(int(cfg.MaxBytes)), nil

	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
		return cache.OpenSQLite(cache.SQLiteConfig{
			Path:              cfg.Path,
			MaxPages:          cfg.MaxPages,
			CompressThreshold: cfg.CompressThreshold,
			Logger:            a.logger,
		})

	case config.BackendNATS:
		a.logger.Info("Connecting to NATS", "url", a.cfg.NATS.URL)
		conn, err := nats.Connect(a.cfg.NATS.URL, nats.Name("propscout"))
		if err != nil {
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("create JetStream context: %w", err)
		}
		backend, err := cache.NewNATSBackend(ctx, js, cache.NATSConfig{
			Bucket:   cfg.Bucket,
			MaxBytes: cfg.MaxBytes,
		})
		if err != nil {
			conn.Close()
			return nil, err
		}
		a.natsConn = conn
		return backend, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}

// Apply updates the settings that may change while running.
func (a *App) Apply(cfg *config.Config) {
	a.layer.SetQuota(cfg.Quota)
	a.creds.SetFallback(cfg.PropertyScout.APIKey)
	a.logger.Info("Configuration reloaded",
		"monthly_limit", cfg.Quota.MonthlyLimit,
		"endpoint_limits", len(cfg.Quota.Limits))
}

// Close releases the backend and any NATS connection.
func (a *App) Close() {
	if err := a.layer.Close(); err != nil {
		a.logger.Warn("Failed to close cache", "error", err)
	}
	if a.natsConn != nil {
		if err := a.natsConn.Drain(); err != nil {
			a.natsConn.Close()
		}
	}
}
