// Package config defines the top-level configuration for the trading bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by AITRADER_* environment variables.
type Config struct {
	Alpaca     AlpacaConfig     `toml:"alpaca"`
	Data       DataConfig       `toml:"data"`
	OpenRouter OpenRouterConfig `toml:"openrouter"`
	Telegram   TelegramConfig   `toml:"telegram"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Strategy   StrategyConfig   `toml:"strategy"`
	Pipeline   PipelineConfig   `toml:"pipeline"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// AlpacaConfig holds brokerage API endpoints and credentials.
type AlpacaConfig struct {
	ApiKey    string `toml:"api_key"`
	SecretKey string `toml:"secret_key"`
	BaseURL   string `toml:"base_url"`
	StreamURL string `toml:"stream_url"`
}

// DataConfig holds market data source parameters.
type DataConfig struct {
	BaseURL  string `toml:"base_url"`
	Interval string `toml:"interval"` // bar interval, e.g. "5m"
	Span     string `toml:"span"`     // lookback range, e.g. "1d"
}

// OpenRouterConfig holds AI completion API parameters.
type OpenRouterConfig struct {
	ApiKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	BaseURL     string  `toml:"base_url"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float64 `toml:"temperature"`
}

// TelegramConfig holds notification bot credentials.
type TelegramConfig struct {
	BotToken string   `toml:"bot_token"`
	ChatID   string   `toml:"chat_id"`
	Events   []string `toml:"events"` // event types to forward; empty = all
}

// PostgresConfig holds database connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the rate limiter.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible cold storage parameters for event archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// StrategyConfig seeds the initial strategy version and bounds evolution.
type StrategyConfig struct {
	Symbols             []string `toml:"symbols"`
	ConfidenceThreshold int      `toml:"confidence_threshold"`
	RiskPerTrade        float64  `toml:"risk_per_trade"`
	PromptTemplate      string   `toml:"prompt_template"`
	DefaultStopPct      float64  `toml:"default_stop_pct"`

	// Evolution bounds.
	MinSampleTrades  int     `toml:"min_sample_trades"`
	WinRateFloor     float64 `toml:"win_rate_floor"`
	AvgLossCap       float64 `toml:"avg_loss_cap"`
	ConfidenceStep   int     `toml:"confidence_step"`
	RiskStep         float64 `toml:"risk_step"`
	MaxConfidence    int     `toml:"max_confidence"`
	MinRiskPerTrade  float64 `toml:"min_risk_per_trade"`
	WindowDays       int     `toml:"window_days"`
}

// PipelineConfig holds cycle cadence, retry, and budget parameters.
type PipelineConfig struct {
	CycleInterval    duration `toml:"cycle_interval"`
	BatchSize        int      `toml:"batch_size"`
	CallTimeout      duration `toml:"call_timeout"`
	SubmitRetries    int      `toml:"submit_retries"`
	RetryBaseWait    duration `toml:"retry_base_wait"`
	RetryMaxWait     duration `toml:"retry_max_wait"`
	FillPollInterval duration `toml:"fill_poll_interval"`
	PartialWatch     duration `toml:"partial_watch"`
	FailureTrip      int      `toml:"failure_trip"`

	// Per-service call budgets, requests per window.
	BudgetWindow duration `toml:"budget_window"`
	BrokerBudget int      `toml:"broker_budget"`
	DataBudget   int      `toml:"data_budget"`
	AIBudget     int      `toml:"ai_budget"`
	NotifyBudget int      `toml:"notify_budget"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration used before the TOML file and
// environment overrides are applied.
func Defaults() Config {
	return Config{
		Mode:     "trade",
		LogLevel: "info",
		Alpaca: AlpacaConfig{
			BaseURL:   "https://paper-api.alpaca.markets",
			StreamURL: "wss://paper-api.alpaca.markets/stream",
		},
		Data: DataConfig{
			BaseURL:  "https://query1.finance.yahoo.com",
			Interval: "5m",
			Span:     "1d",
		},
		OpenRouter: OpenRouterConfig{
			BaseURL:     "https://openrouter.ai/api/v1",
			MaxTokens:   1024,
			Temperature: 0.3,
		},
		Postgres: PostgresConfig{
			Port:         5432,
			SSLMode:      "disable",
			PoolMaxConns: 8,
			PoolMinConns: 2,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 8,
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Strategy: StrategyConfig{
			Symbols:             []string{"AAPL", "GOOGL", "MSFT", "TSLA", "NVDA", "SPY", "QQQ", "DIA"},
			ConfidenceThreshold: 70,
			RiskPerTrade:        0.02,
			PromptTemplate:      "aggressive_day_trader",
			DefaultStopPct:      0.02,
			MinSampleTrades:     10,
			WinRateFloor:        0.40,
			AvgLossCap:          500,
			ConfidenceStep:      5,
			RiskStep:            0.005,
			MaxConfidence:       95,
			MinRiskPerTrade:     0.005,
			WindowDays:          14,
		},
		Pipeline: PipelineConfig{
			CycleInterval:    duration{2 * time.Hour},
			BatchSize:        10,
			CallTimeout:      duration{30 * time.Second},
			SubmitRetries:    3,
			RetryBaseWait:    duration{time.Second},
			RetryMaxWait:     duration{30 * time.Second},
			FillPollInterval: duration{15 * time.Second},
			PartialWatch:     duration{5 * time.Minute},
			FailureTrip:      3,
			BudgetWindow:     duration{time.Minute},
			BrokerBudget:     60,
			DataBudget:       30,
			AIBudget:         2,
			NotifyBudget:     20,
		},
	}
}

// Validate checks the configuration for fatal errors. A non-nil return means
// the pipeline must not start.
func (c *Config) Validate() error {
	var problems []string

	switch c.Mode {
	case "trade", "monitor":
	default:
		problems = append(problems, fmt.Sprintf("unsupported mode %q", c.Mode))
	}

	if c.Mode == "trade" {
		if c.Alpaca.ApiKey == "" || c.Alpaca.SecretKey == "" {
			problems = append(problems, "alpaca credentials missing")
		}
		if c.OpenRouter.ApiKey == "" {
			problems = append(problems, "openrouter api key missing")
		}
		if c.OpenRouter.Model == "" {
			problems = append(problems, "openrouter model missing")
		}
		if c.Postgres.DSN == "" && c.Postgres.Host == "" {
			problems = append(problems, "postgres connection missing")
		}
	}

	if len(c.Strategy.Symbols) == 0 {
		problems = append(problems, "no trading symbols configured")
	}
	if c.Strategy.ConfidenceThreshold < 0 || c.Strategy.ConfidenceThreshold > 100 {
		problems = append(problems, "confidence_threshold must be 0-100")
	}
	if c.Strategy.RiskPerTrade <= 0 || c.Strategy.RiskPerTrade > 0.2 {
		problems = append(problems, "risk_per_trade must be in (0, 0.2]")
	}
	if c.Strategy.DefaultStopPct <= 0 {
		problems = append(problems, "default_stop_pct must be positive")
	}
	if c.Pipeline.CycleInterval.Duration < time.Minute {
		problems = append(problems, "cycle_interval must be at least 1m")
	}
	if c.Pipeline.SubmitRetries < 1 {
		problems = append(problems, "submit_retries must be at least 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}
