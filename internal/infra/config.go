package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"trade_sim/internal/domain"
	"trade_sim/internal/estimator"
)

// Environment overrides.
const (
	EnvWSURL    = "TRADESIM_WS_URL"
	EnvInstID   = "TRADESIM_INST_ID"
	EnvLogLevel = "TRADESIM_LOG_LEVEL"
)

// Config holds every application setting.
// Values missing from the YAML file keep the `default` tags.
type Config struct {
	App struct {
		Name    string `yaml:"name" default:"trade_sim"`
		Version string `yaml:"version" default:"dev"`
	} `yaml:"app"`

	Exchange ExchangeConfig `yaml:"exchange"`

	Simulation SimulationConfig `yaml:"simulation"`

	Fees FeesConfig `yaml:"fees"`

	// Params are the default producer params, overridable from the CLI.
	Params domain.SimulationParams `yaml:"params"`

	Logging LoggingConfig `yaml:"logging"`

	Storage struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"data/trade_sim.db"`
	} `yaml:"storage"`

	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Addr    string `yaml:"addr" default:"localhost:9090"`
	} `yaml:"metrics"`
}

// ExchangeConfig is the websocket feed section.
type ExchangeConfig struct {
	WSURL            string        `yaml:"ws_url" default:"wss://ws.okx.com:8443/ws/v5/public"`
	Channel          string        `yaml:"channel" default:"books" validate:"required"`
	Depth            int           `yaml:"depth" default:"25" validate:"gte=0"`
	MaxRetries       int           `yaml:"max_retries" default:"3" validate:"gt=0"`
	RetryDelay       time.Duration `yaml:"retry_delay" default:"1s" validate:"gt=0"`
	QueueSize        int           `yaml:"queue_size" default:"256" validate:"gt=0"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" default:"10s" validate:"gt=0"`
	PingInterval     time.Duration `yaml:"ping_interval" default:"25s" validate:"gte=0"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"35s" validate:"gte=0"`
}

// SimulationConfig is the tick loop and estimator section.
type SimulationConfig struct {
	TickInterval  time.Duration `yaml:"tick_interval" default:"100ms" validate:"gt=0"`
	IdleRetry     time.Duration `yaml:"idle_retry" default:"100ms" validate:"gt=0"`
	ErrorBackoff  time.Duration `yaml:"error_backoff" default:"1s" validate:"gt=0"`
	StatsInterval time.Duration `yaml:"stats_interval" default:"10s" validate:"gt=0"`
	LatencyWindow int           `yaml:"latency_window" default:"1000" validate:"gt=0"`
	HistorySize   int           `yaml:"history_size" default:"1000" validate:"gt=0"`
	MinFitSamples int           `yaml:"min_fit_samples" default:"10" validate:"gt=0"`
	RidgeLambda   float64       `yaml:"ridge_lambda" default:"0.0001" validate:"gte=0"`
	Seed          uint64        `yaml:"seed"`
}

// FeesConfig maps fee tier names to maker/taker rates.
type FeesConfig struct {
	Tiers map[domain.FeeTier]estimator.FeeRates `yaml:"tiers"`
}

// SetDefaults fills in the standard tiers; called by defaults.Set.
func (f *FeesConfig) SetDefaults() {
	if len(f.Tiers) == 0 {
		f.Tiers = estimator.DefaultFeeSchedule()
	}
}

// Schedule returns the tiers as an estimator.FeeSchedule.
func (f FeesConfig) Schedule() estimator.FeeSchedule {
	s := make(estimator.FeeSchedule, len(f.Tiers))
	for tier, rates := range f.Tiers {
		s[tier] = rates
	}
	return s
}

// LoggingConfig is the slog + lumberjack section.
type LoggingConfig struct {
	Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Dir        string `yaml:"dir" default:"logs"`
	File       string `yaml:"file" default:"app.log"`
	MaxSizeMB  int    `yaml:"max_size_mb" default:"10"`
	MaxBackups int    `yaml:"max_backups" default:"3"`
	MaxAgeDays int    `yaml:"max_age_days" default:"28"`
	Compress   bool   `yaml:"compress" default:"true"`
	Stdout     bool   `yaml:"stdout" default:"true"`
}

var configValidate = validator.New()

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over the defaults, applies environment overrides and validates.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	// Defaults first so explicit zero values in the file (enabled: false) survive.
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// 환경 변수 오버라이드
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// DefaultConfig returns a configuration built only from defaults.
func DefaultConfig() *Config {
	var cfg Config
	_ = defaults.Set(&cfg)
	return &cfg
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Exchange.WSURL == "" || (!strings.HasPrefix(c.Exchange.WSURL, "ws://") && !strings.HasPrefix(c.Exchange.WSURL, "wss://")) {
		return &domain.ConfigError{Field: "exchange.ws_url", Err: fmt.Errorf("invalid WS URL: %q", c.Exchange.WSURL)}
	}

	if err := configValidate.Struct(c.Exchange); err != nil {
		return &domain.ConfigError{Field: "exchange", Err: err}
	}
	if err := configValidate.Struct(c.Simulation); err != nil {
		return &domain.ConfigError{Field: "simulation", Err: err}
	}
	if err := configValidate.Struct(c.Logging); err != nil {
		return &domain.ConfigError{Field: "logging", Err: err}
	}

	for _, tier := range []domain.FeeTier{domain.FeeTierLow, domain.FeeTierMid, domain.FeeTierHigh} {
		rates, ok := c.Fees.Tiers[tier]
		if !ok {
			return &domain.ConfigError{Field: "fees.tiers." + string(tier), Err: errors.New("missing tier")}
		}
		if err := configValidate.Struct(rates); err != nil {
			return &domain.ConfigError{Field: "fees.tiers." + string(tier), Err: err}
		}
	}
	return nil
}

// overrideWithEnv replaces values with environment variables when they are set.
func overrideWithEnv(cfg *Config) {
	if url := os.Getenv(EnvWSURL); url != "" {
		cfg.Exchange.WSURL = url
	}
	if inst := os.Getenv(EnvInstID); inst != "" {
		cfg.Params.Asset = inst
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		cfg.Logging.Level = strings.ToLower(level)
	}
}
