package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/copytrader/account"
	"github.com/rustyeddy/copytrader/replicator"
)

// Config is the complete copy-trading configuration. It is loaded once at
// startup and validated before anything connects.
type Config struct {
	Leader    AccountConfig   `json:"leader" yaml:"leader"`
	Followers []AccountConfig `json:"followers" yaml:"followers"`
	Engine    EngineConfig    `json:"engine" yaml:"engine"`
	Sync      SyncConfig      `json:"sync" yaml:"sync"`
	Journal   JournalConfig   `json:"journal" yaml:"journal"`
	Log       LogConfig       `json:"log" yaml:"log"`
}

// AccountConfig describes one account, leader or follower. Credential
// fields apply to real venues; paper_equity seeds the simulated one.
type AccountConfig struct {
	UserID    string `json:"user_id" yaml:"user_id"`
	Exchange  string `json:"exchange" yaml:"exchange"`
	APIKey    string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	APISecret string `json:"api_secret,omitempty" yaml:"api_secret,omitempty"`
	Testnet   bool   `json:"testnet,omitempty" yaml:"testnet,omitempty"`

	Enabled        bool    `json:"enabled" yaml:"enabled"`
	RiskMultiplier float64 `json:"risk_multiplier,omitempty" yaml:"risk_multiplier,omitempty"`
	MinPosition    float64 `json:"min_position,omitempty" yaml:"min_position,omitempty"`
	MaxPosition    float64 `json:"max_position,omitempty" yaml:"max_position,omitempty"`

	PaperEquity float64 `json:"paper_equity,omitempty" yaml:"paper_equity,omitempty"`
}

// Account converts to the registry's account type. A follower without an
// explicit risk_multiplier trades at 1.0.
func (a AccountConfig) Account() account.Account {
	multiplier := a.RiskMultiplier
	if multiplier == 0 {
		multiplier = 1.0
	}
	return account.Account{
		UserID:         a.UserID,
		Exchange:       a.Exchange,
		APIKey:         a.APIKey,
		APISecret:      a.APISecret,
		Testnet:        a.Testnet,
		Enabled:        a.Enabled,
		RiskMultiplier: decimal.NewFromFloat(multiplier),
		MinPosition:    decimal.NewFromFloat(a.MinPosition),
		MaxPosition:    decimal.NewFromFloat(a.MaxPosition),
		PaperEquity:    decimal.NewFromFloat(a.PaperEquity),
	}
}

// EngineConfig tunes the replication engine. Timeouts are duration strings
// such as "10s" or "500ms"; empty fields fall back to engine defaults.
type EngineConfig struct {
	MaxConcurrent int         `json:"max_concurrent,omitempty" yaml:"max_concurrent,omitempty"`
	FetchTimeout  string      `json:"fetch_timeout,omitempty" yaml:"fetch_timeout,omitempty"`
	SubmitTimeout string      `json:"submit_timeout,omitempty" yaml:"submit_timeout,omitempty"`
	Retry         RetryConfig `json:"retry" yaml:"retry"`
}

// RetryConfig bounds per-follower submission retries.
type RetryConfig struct {
	BaseDelay   string `json:"base_delay,omitempty" yaml:"base_delay,omitempty"`
	MaxDelay    string `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
}

// SyncConfig tunes the background reconciler.
type SyncConfig struct {
	Enabled        bool    `json:"enabled" yaml:"enabled"`
	Interval       string  `json:"interval,omitempty" yaml:"interval,omitempty"`
	MaxPriceDrift  float64 `json:"max_price_drift,omitempty" yaml:"max_price_drift,omitempty"`
	MaxPositionAge string  `json:"max_position_age,omitempty" yaml:"max_position_age,omitempty"`
}

// JournalConfig selects where replication reports are persisted.
type JournalConfig struct {
	Type        string `json:"type" yaml:"type"` // "sqlite", "csv" or "none"
	DBPath      string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	ReportsFile string `json:"reports_file,omitempty" yaml:"reports_file,omitempty"`
	ResultsFile string `json:"results_file,omitempty" yaml:"results_file,omitempty"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`   // debug, info, warn, error
	Format string `json:"format,omitempty" yaml:"format,omitempty"` // console or json
}

// LoadFromFile loads configuration from a file (JSON or YAML based on
// content) and validates it.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if (len(path) > 5 && path[len(path)-5:] == ".yaml") || (len(path) > 4 && path[len(path)-4:] == ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks the whole configuration so bad settings fail at startup,
// not on the first replicated trade.
func (c *Config) Validate() error {
	if err := c.Leader.Account().Validate(); err != nil {
		return fmt.Errorf("leader: %w", err)
	}
	if len(c.Followers) == 0 {
		return fmt.Errorf("at least one follower is required")
	}
	for _, f := range c.Followers {
		if err := f.Account().ValidateFollower(); err != nil {
			return err
		}
	}

	// The binance SDK selects testnet per process, so accounts cannot mix.
	testnet, mainnet := false, false
	for _, a := range append([]AccountConfig{c.Leader}, c.Followers...) {
		if a.Exchange == account.ExchangeBinance {
			if a.Testnet {
				testnet = true
			} else {
				mainnet = true
			}
		}
	}
	if testnet && mainnet {
		return fmt.Errorf("binance accounts must be all testnet or all mainnet")
	}

	if c.Engine.MaxConcurrent < 0 {
		return fmt.Errorf("engine.max_concurrent must not be negative")
	}
	if c.Engine.Retry.MaxAttempts < 0 {
		return fmt.Errorf("engine.retry.max_attempts must not be negative")
	}
	for field, value := range map[string]string{
		"engine.fetch_timeout":    c.Engine.FetchTimeout,
		"engine.submit_timeout":   c.Engine.SubmitTimeout,
		"engine.retry.base_delay": c.Engine.Retry.BaseDelay,
		"engine.retry.max_delay":  c.Engine.Retry.MaxDelay,
		"sync.interval":           c.Sync.Interval,
		"sync.max_position_age":   c.Sync.MaxPositionAge,
	} {
		if _, err := parseDuration(field, value); err != nil {
			return err
		}
	}

	if c.Sync.MaxPriceDrift < 0 || c.Sync.MaxPriceDrift >= 1 {
		return fmt.Errorf("sync.max_price_drift must be in [0, 1)")
	}

	switch c.Journal.Type {
	case "", "none":
	case "csv":
		if c.Journal.ReportsFile == "" || c.Journal.ResultsFile == "" {
			return fmt.Errorf("journal reports_file and results_file required for CSV type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	default:
		return fmt.Errorf("journal.type must be 'sqlite', 'csv' or 'none'")
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("log.format must be 'console' or 'json'")
	}

	return nil
}

// Registry builds the validated account registry.
func (c *Config) Registry() (*account.Registry, error) {
	followers := make([]account.Account, 0, len(c.Followers))
	for _, f := range c.Followers {
		followers = append(followers, f.Account())
	}
	return account.NewRegistry(c.Leader.Account(), followers)
}

// EngineConfig converts to the engine's typed configuration. Unset fields
// stay zero and pick up engine defaults.
func (c *Config) EngineConfig() (replicator.Config, error) {
	fetch, err := parseDuration("engine.fetch_timeout", c.Engine.FetchTimeout)
	if err != nil {
		return replicator.Config{}, err
	}
	submit, err := parseDuration("engine.submit_timeout", c.Engine.SubmitTimeout)
	if err != nil {
		return replicator.Config{}, err
	}
	base, err := parseDuration("engine.retry.base_delay", c.Engine.Retry.BaseDelay)
	if err != nil {
		return replicator.Config{}, err
	}
	max, err := parseDuration("engine.retry.max_delay", c.Engine.Retry.MaxDelay)
	if err != nil {
		return replicator.Config{}, err
	}

	return replicator.Config{
		MaxConcurrent: c.Engine.MaxConcurrent,
		FetchTimeout:  fetch,
		SubmitTimeout: submit,
		Retry: replicator.RetryPolicy{
			BaseDelay:   base,
			MaxDelay:    max,
			MaxAttempts: c.Engine.Retry.MaxAttempts,
		},
	}, nil
}

// SyncConfig converts to the reconciler's typed configuration.
func (c *Config) SyncConfig() (replicator.ReconcileConfig, error) {
	interval, err := parseDuration("sync.interval", c.Sync.Interval)
	if err != nil {
		return replicator.ReconcileConfig{}, err
	}
	age, err := parseDuration("sync.max_position_age", c.Sync.MaxPositionAge)
	if err != nil {
		return replicator.ReconcileConfig{}, err
	}

	cfg := replicator.ReconcileConfig{
		Interval:       interval,
		MaxPositionAge: age,
	}
	if c.Sync.MaxPriceDrift > 0 {
		cfg.MaxPriceDrift = decimal.NewFromFloat(c.Sync.MaxPriceDrift)
	}
	return cfg, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}

// Default returns a configuration with sensible defaults: a paper leader and
// one paper follower, suitable as a starting template.
func Default() *Config {
	return &Config{
		Leader: AccountConfig{
			UserID:      "leader",
			Exchange:    account.ExchangePaper,
			PaperEquity: 10000,
		},
		Followers: []AccountConfig{
			{
				UserID:         "follower-1",
				Exchange:       account.ExchangePaper,
				Enabled:        true,
				RiskMultiplier: 1.0,
				PaperEquity:    5000,
			},
		},
		Engine: EngineConfig{
			MaxConcurrent: 4,
			FetchTimeout:  "10s",
			SubmitTimeout: "15s",
			Retry: RetryConfig{
				BaseDelay:   "1s",
				MaxDelay:    "30s",
				MaxAttempts: 5,
			},
		},
		Sync: SyncConfig{
			Enabled:        true,
			Interval:       "20s",
			MaxPriceDrift:  0.0075,
			MaxPositionAge: "30m",
		},
		Journal: JournalConfig{
			Type:   "sqlite",
			DBPath: "./copytrader.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
