package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. SIGNALTRADER_SERVER_ADDR.
const EnvPrefix = "SIGNALTRADER_"

// Config represents the complete application configuration
type Config struct {
	Account AccountConfig `yaml:"account" envPrefix:"ACCOUNT_"`
	Trading TradingConfig `yaml:"trading" envPrefix:"TRADING_"`
	Store   StoreConfig   `yaml:"store" envPrefix:"STORE_"`
	Journal JournalConfig `yaml:"journal" envPrefix:"JOURNAL_"`
	Signals SignalsConfig `yaml:"signals" envPrefix:"SIGNALS_"`
	Server  ServerConfig  `yaml:"server" envPrefix:"SERVER_"`
	Log     LogConfig     `yaml:"log" envPrefix:"LOG_"`
}

// AccountConfig contains the play-money account parameters
type AccountConfig struct {
	Currency       string  `yaml:"currency" env:"CURRENCY"`
	InitialBalance float64 `yaml:"initial_balance" env:"INITIAL_BALANCE"`
}

// TradingConfig tunes the trade lifecycle and price simulation
type TradingConfig struct {
	DefaultCapital    float64       `yaml:"default_capital" env:"DEFAULT_CAPITAL"`
	Timeframe         string        `yaml:"timeframe" env:"TIMEFRAME"`
	TakeProfitAmount  float64       `yaml:"take_profit_amount" env:"TAKE_PROFIT_AMOUNT"`
	StopLossAmount    float64       `yaml:"stop_loss_amount" env:"STOP_LOSS_AMOUNT"`
	WinRate           float64       `yaml:"win_rate" env:"WIN_RATE"`
	MinHold           time.Duration `yaml:"min_hold" env:"MIN_HOLD"`
	MaxHold           time.Duration `yaml:"max_hold" env:"MAX_HOLD"`
	TickInterval      time.Duration `yaml:"tick_interval" env:"TICK_INTERVAL"`
	Drift             float64       `yaml:"drift" env:"DRIFT"`
	Volatility        float64       `yaml:"volatility" env:"VOLATILITY"`
	NextSignalDelay   time.Duration `yaml:"next_signal_delay" env:"NEXT_SIGNAL_DELAY"`
	RestoreCloseDelay time.Duration `yaml:"restore_close_delay" env:"RESTORE_CLOSE_DELAY"`
}

// StoreConfig selects the key-value store that persists manager state
type StoreConfig struct {
	Type string `yaml:"type" env:"TYPE"` // "memory", "file", "sqlite" or "postgres"
	Path string `yaml:"path,omitempty" env:"PATH"`
	DSN  string `yaml:"dsn,omitempty" env:"DSN"`
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	DBPath  string `yaml:"db_path,omitempty" env:"DB_PATH"`
}

// SignalsConfig selects and schedules the signal generator
type SignalsConfig struct {
	Source    string   `yaml:"source" env:"SOURCE"` // "mock" or "binance"
	Schedule  string   `yaml:"schedule" env:"SCHEDULE"`
	Pairs     []string `yaml:"pairs,omitempty" env:"PAIRS" envSeparator:","`
	AutoTrade bool     `yaml:"auto_trade" env:"AUTO_TRADE"`
}

// ServerConfig contains HTTP listener parameters
type ServerConfig struct {
	Addr        string `yaml:"addr" env:"ADDR"`
	Environment string `yaml:"environment" env:"ENVIRONMENT"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level       string `yaml:"level" env:"LEVEL"`
	Encoding    string `yaml:"encoding" env:"ENCODING"` // "json" or "console"
	Development bool   `yaml:"development" env:"DEVELOPMENT"`
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (if path is non-empty), then a .env file and SIGNALTRADER_* variables.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		cfg, err = LoadFromFile(path)
		if err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := ApplyEnv(cfg, nil); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays SIGNALTRADER_* variables onto cfg. When environ is nil
// the process environment is used.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML (or JSON) file on top of the
// defaults, so a file only needs the keys it changes.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile writes the configuration as YAML
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Account.Currency == "" {
		return fmt.Errorf("account.currency is required")
	}
	if c.Account.InitialBalance <= 0 {
		return fmt.Errorf("account.initial_balance must be positive")
	}

	t := c.Trading
	if t.DefaultCapital <= 0 {
		return fmt.Errorf("trading.default_capital must be positive")
	}
	if t.TakeProfitAmount <= 0 {
		return fmt.Errorf("trading.take_profit_amount must be positive")
	}
	if t.StopLossAmount <= 0 {
		return fmt.Errorf("trading.stop_loss_amount must be positive")
	}
	if t.WinRate < 0 || t.WinRate > 1 {
		return fmt.Errorf("trading.win_rate must be between 0 and 1")
	}
	if t.MinHold <= 0 || t.MaxHold < t.MinHold {
		return fmt.Errorf("trading.min_hold must be positive and not exceed trading.max_hold")
	}
	if t.TickInterval <= 0 {
		return fmt.Errorf("trading.tick_interval must be positive")
	}
	if t.Volatility < 0 || t.Drift < 0 {
		return fmt.Errorf("trading.drift and trading.volatility must not be negative")
	}
	if t.NextSignalDelay < 0 || t.RestoreCloseDelay < 0 {
		return fmt.Errorf("trading delays must not be negative")
	}

	switch c.Store.Type {
	case "memory":
	case "file", "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path required for %s store", c.Store.Type)
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn required for postgres store")
		}
	default:
		return fmt.Errorf("store.type must be 'memory', 'file', 'sqlite' or 'postgres'")
	}

	if c.Journal.Enabled && c.Journal.DBPath == "" {
		return fmt.Errorf("journal.db_path required when journal is enabled")
	}

	switch c.Signals.Source {
	case "mock", "binance":
	default:
		return fmt.Errorf("signals.source must be 'mock' or 'binance'")
	}
	if strings.TrimSpace(c.Signals.Schedule) == "" {
		return fmt.Errorf("signals.schedule is required")
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	switch c.Log.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("log.encoding must be 'json' or 'console'")
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			Currency:       "IDR",
			InitialBalance: 200000,
		},
		Trading: TradingConfig{
			DefaultCapital:    200000,
			Timeframe:         "15m",
			TakeProfitAmount:  5000,
			StopLossAmount:    3000,
			WinRate:           0.65,
			MinHold:           2 * time.Minute,
			MaxHold:           10 * time.Minute,
			TickInterval:      5 * time.Second,
			Drift:             0.0002,
			Volatility:        0.002,
			NextSignalDelay:   3 * time.Second,
			RestoreCloseDelay: time.Second,
		},
		Store: StoreConfig{
			Type: "file",
			Path: "./signaltrader-state.json",
		},
		Journal: JournalConfig{
			Enabled: true,
			DBPath:  "./signaltrader.sqlite",
		},
		Signals: SignalsConfig{
			Source:   "mock",
			Schedule: "@every 5m",
			Pairs:    []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "ADAUSDT"},
		},
		Server: ServerConfig{
			Addr:        ":8080",
			Environment: "development",
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "console",
		},
	}
}
