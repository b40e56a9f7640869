package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full pipeline configuration.
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Gate      GateConfig      `yaml:"gate"`
	Prover    ProverConfig    `yaml:"prover"`
	Allocator AllocatorConfig `yaml:"allocator"`
	Feed      FeedConfig      `yaml:"feed"`
	Storage   StorageConfig   `yaml:"storage"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// EngineConfig controls the coordination and rebalance loops.
type EngineConfig struct {
	CycleSeconds     int `yaml:"cycle_seconds"`
	RebalanceMinutes int `yaml:"rebalance_minutes"`
}

// GateConfig holds the pre-trade admission caps.
type GateConfig struct {
	QuoteStaleSec    float64 `yaml:"quote_stale_sec"`
	BrokerStaleSec   float64 `yaml:"broker_stale_sec"`
	MaxPortfolioHeat float64 `yaml:"max_portfolio_heat"`
	MaxStrategyHeat  float64 `yaml:"max_strategy_heat"`
}

// ProverConfig controls post-trade verification tolerances.
type ProverConfig struct {
	MaxGreeksDriftPct float64  `yaml:"max_greeks_drift_pct"` // headroom drift tolerance, fraction
	LeveragedETFs     []string `yaml:"leveraged_etfs"`       // symbols granted the slippage bonus
}

// AllocatorConfig holds pool-cap parameters and staging TTL defaults.
type AllocatorConfig struct {
	BaseCap        float64 `yaml:"base_cap"`
	SharpeBonus    float64 `yaml:"sharpe_bonus"`
	PenaltyCap     float64 `yaml:"penalty_cap"`
	MinCap         float64 `yaml:"min_cap"`
	MaxCap         float64 `yaml:"max_cap"`
	DefaultTTLDays int     `yaml:"default_ttl_days"`
}

// FeedConfig contains the market-data boundary base URL.
type FeedConfig struct {
	BaseURL string `yaml:"base_url"`
}

// StorageConfig controls where audit and allocation state is persisted.
type StorageConfig struct {
	AuditDSN string `yaml:"audit_dsn"` // SQLite file path, or ":memory:"
	AllocDSN string `yaml:"alloc_dsn"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // listen address for /metrics
}

// LogConfig controls log format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML config file plus a .env file if one exists.
// Environment variables override the YAML values for selected keys.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// CycleInterval returns the coordination cycle period.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.Engine.CycleSeconds) * time.Second
}

// RebalanceInterval returns the allocator rebalance period.
func (c *Config) RebalanceInterval() time.Duration {
	return time.Duration(c.Engine.RebalanceMinutes) * time.Minute
}

// applyEnvOverrides replaces values with environment variables when present.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("AUDIT_DSN"); v != "" {
		cfg.Storage.AuditDSN = v
	}
	if v := os.Getenv("ALLOC_DSN"); v != "" {
		cfg.Storage.AllocDSN = v
	}
}

// setDefaults is the single place where fallback values live. Callers get a
// fully populated config and never re-derive defaults at use sites.
func setDefaults(cfg *Config) {
	if cfg.Engine.CycleSeconds <= 0 {
		cfg.Engine.CycleSeconds = 30
	}
	if cfg.Engine.RebalanceMinutes <= 0 {
		cfg.Engine.RebalanceMinutes = 60
	}
	if cfg.Gate.QuoteStaleSec <= 0 {
		cfg.Gate.QuoteStaleSec = 10
	}
	if cfg.Gate.BrokerStaleSec <= 0 {
		cfg.Gate.BrokerStaleSec = 30
	}
	if cfg.Gate.MaxPortfolioHeat <= 0 {
		cfg.Gate.MaxPortfolioHeat = 0.06
	}
	if cfg.Gate.MaxStrategyHeat <= 0 {
		cfg.Gate.MaxStrategyHeat = 0.02
	}
	if cfg.Prover.MaxGreeksDriftPct <= 0 {
		cfg.Prover.MaxGreeksDriftPct = 0.02
	}
	if len(cfg.Prover.LeveragedETFs) == 0 {
		cfg.Prover.LeveragedETFs = []string{"TQQQ", "SQQQ", "SOXL", "SOXS", "UPRO", "SPXU"}
	}
	if cfg.Allocator.BaseCap <= 0 {
		cfg.Allocator.BaseCap = 0.05
	}
	if cfg.Allocator.SharpeBonus <= 0 {
		cfg.Allocator.SharpeBonus = 0.02
	}
	if cfg.Allocator.PenaltyCap <= 0 {
		cfg.Allocator.PenaltyCap = 0.03
	}
	if cfg.Allocator.MinCap <= 0 {
		cfg.Allocator.MinCap = 0.01
	}
	if cfg.Allocator.MaxCap <= 0 {
		cfg.Allocator.MaxCap = 0.10
	}
	if cfg.Allocator.DefaultTTLDays <= 0 {
		cfg.Allocator.DefaultTTLDays = 7
	}
	if cfg.Feed.BaseURL == "" {
		cfg.Feed.BaseURL = "http://localhost:8090"
	}
	if cfg.Storage.AuditDSN == "" {
		cfg.Storage.AuditDSN = "tradegate_audit.db"
	}
	if cfg.Storage.AllocDSN == "" {
		cfg.Storage.AllocDSN = "tradegate_alloc.db"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9109"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
