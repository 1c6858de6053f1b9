package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"trade_sim/internal/domain"
	"trade_sim/internal/engine"
	"trade_sim/internal/estimator"
	"trade_sim/internal/infra"
	"trade_sim/internal/infra/okx"
	"trade_sim/internal/infra/storage"
	"trade_sim/internal/service"
)

// DefaultConfigPath is used when no --config flag is given.
const DefaultConfigPath = "configs/config.yaml"

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config    *infra.Config
	Storage   *storage.Storage
	Metrics   *infra.Metrics
	Registry  *prometheus.Registry
	Simulator *engine.Simulator
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{Metrics: infra.GlobalMetrics}
}

// Initialize loads the config at path and wires logger, storage, metrics and simulator.
// A missing config file falls back to the built-in defaults.
func (b *Bootstrap) Initialize(path string) error {
	if path == "" {
		path = DefaultConfigPath
	}

	// 1. Load Config
	cfg, err := infra.LoadConfig(path)
	switch {
	case errors.Is(err, domain.ErrConfigNotFound):
		slog.Warn("Config file not found, using defaults", slog.String("path", path))
		cfg = infra.DefaultConfig()
	case err != nil:
		return err
	}
	return b.InitializeWith(cfg)
}

// InitializeWith wires every component from an already loaded config.
func (b *Bootstrap) InitializeWith(cfg *infra.Config) error {
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg.Logging)
	slog.SetDefault(logger)
	slog.Info("🚀 Bootstrapping trade_sim...", slog.String("version", cfg.App.Version))

	// 3. Initialize Storage (DB)
	if cfg.Storage.Enabled {
		store, err := storage.NewStorage(cfg.Storage.Path)
		if err != nil {
			return err
		}
		b.Storage = store
		slog.Info("✅ Database initialized")
	}

	// 4. Prometheus registry
	b.Registry = prometheus.NewRegistry()
	if err := b.Registry.Register(infra.NewMetricsCollector(b.Metrics)); err != nil {
		return fmt.Errorf("register metrics collector: %w", err)
	}

	// 5. Simulator
	b.Simulator = engine.NewSimulator(SimulatorConfig(cfg), b.FeedFactory(), b.Metrics)
	slog.Info("✅ Simulator ready", slog.String("ws_url", cfg.Exchange.WSURL))
	return nil
}

// FeedFactory returns a factory creating one OKX ingestor per run.
func (b *Bootstrap) FeedFactory() engine.FeedFactory {
	exchange := b.Config.Exchange
	metrics := b.Metrics
	return func(params domain.SimulationParams) (domain.OrderbookFeed, error) {
		return okx.NewIngestor(IngestorConfig(exchange, params.Asset), service.NewBookStore(), metrics), nil
	}
}

// Recorder returns a recorder bound to the configured storage, or nil when storage is off.
func (b *Bootstrap) Recorder() *Recorder {
	if b.Storage == nil {
		return nil
	}
	return NewRecorder(b.Storage)
}

// Close releases the storage handle.
func (b *Bootstrap) Close() error {
	if b.Storage == nil {
		return nil
	}
	return b.Storage.Close()
}

// IngestorConfig maps the exchange section onto an ingestor config for instID.
func IngestorConfig(c infra.ExchangeConfig, instID string) okx.Config {
	return okx.Config{
		URL:              c.WSURL,
		Channel:          c.Channel,
		InstID:           instID,
		Depth:            c.Depth,
		MaxRetries:       c.MaxRetries,
		RetryDelay:       c.RetryDelay,
		QueueSize:        c.QueueSize,
		HandshakeTimeout: c.HandshakeTimeout,
		PingInterval:     c.PingInterval,
		ReadTimeout:      c.ReadTimeout,
	}
}

// SimulatorConfig maps the simulation and fee sections onto an engine config.
func SimulatorConfig(cfg *infra.Config) engine.Config {
	s := cfg.Simulation
	return engine.Config{
		TickInterval:  s.TickInterval,
		IdleRetry:     s.IdleRetry,
		ErrorBackoff:  s.ErrorBackoff,
		StatsInterval: s.StatsInterval,
		LatencyWindow: s.LatencyWindow,
		Seed:          s.Seed,
		Estimator: estimator.Config{
			HistorySize:   s.HistorySize,
			MinFitSamples: s.MinFitSamples,
			RidgeLambda:   s.RidgeLambda,
		},
		Fees: cfg.Fees.Schedule(),
	}
}
