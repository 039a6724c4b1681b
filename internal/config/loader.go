package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies AITRADER_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known AITRADER_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This lets
// operators inject secrets at deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "AITRADER_MODE")
	setStr(&cfg.LogLevel, "AITRADER_LOG_LEVEL")

	// ── Alpaca ──
	setStr(&cfg.Alpaca.ApiKey, "AITRADER_ALPACA_API_KEY")
	setStr(&cfg.Alpaca.SecretKey, "AITRADER_ALPACA_SECRET_KEY")
	setStr(&cfg.Alpaca.BaseURL, "AITRADER_ALPACA_BASE_URL")
	setStr(&cfg.Alpaca.StreamURL, "AITRADER_ALPACA_STREAM_URL")

	// ── Market data ──
	setStr(&cfg.Data.BaseURL, "AITRADER_DATA_BASE_URL")
	setStr(&cfg.Data.Interval, "AITRADER_DATA_INTERVAL")
	setStr(&cfg.Data.Span, "AITRADER_DATA_SPAN")

	// ── OpenRouter ──
	setStr(&cfg.OpenRouter.ApiKey, "AITRADER_OPENROUTER_API_KEY")
	setStr(&cfg.OpenRouter.Model, "AITRADER_OPENROUTER_MODEL")
	setStr(&cfg.OpenRouter.BaseURL, "AITRADER_OPENROUTER_BASE_URL")
	setInt(&cfg.OpenRouter.MaxTokens, "AITRADER_OPENROUTER_MAX_TOKENS")
	setFloat64(&cfg.OpenRouter.Temperature, "AITRADER_OPENROUTER_TEMPERATURE")

	// ── Telegram ──
	setStr(&cfg.Telegram.BotToken, "AITRADER_TELEGRAM_BOT_TOKEN")
	setStr(&cfg.Telegram.ChatID, "AITRADER_TELEGRAM_CHAT_ID")
	setStringSlice(&cfg.Telegram.Events, "AITRADER_TELEGRAM_EVENTS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "AITRADER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "AITRADER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "AITRADER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "AITRADER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "AITRADER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "AITRADER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "AITRADER_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "AITRADER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "AITRADER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "AITRADER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "AITRADER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "AITRADER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "AITRADER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "AITRADER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "AITRADER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "AITRADER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "AITRADER_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "AITRADER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "AITRADER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "AITRADER_S3_REGION")
	setStr(&cfg.S3.Bucket, "AITRADER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "AITRADER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "AITRADER_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "AITRADER_S3_FORCE_PATH_STYLE")

	// ── Strategy ──
	setStringSlice(&cfg.Strategy.Symbols, "AITRADER_STRATEGY_SYMBOLS")
	setInt(&cfg.Strategy.ConfidenceThreshold, "AITRADER_STRATEGY_CONFIDENCE_THRESHOLD")
	setFloat64(&cfg.Strategy.RiskPerTrade, "AITRADER_STRATEGY_RISK_PER_TRADE")
	setStr(&cfg.Strategy.PromptTemplate, "AITRADER_STRATEGY_PROMPT_TEMPLATE")
	setFloat64(&cfg.Strategy.DefaultStopPct, "AITRADER_STRATEGY_DEFAULT_STOP_PCT")
	setInt(&cfg.Strategy.MinSampleTrades, "AITRADER_STRATEGY_MIN_SAMPLE_TRADES")
	setInt(&cfg.Strategy.WindowDays, "AITRADER_STRATEGY_WINDOW_DAYS")

	// ── Pipeline ──
	setDuration(&cfg.Pipeline.CycleInterval, "AITRADER_PIPELINE_CYCLE_INTERVAL")
	setInt(&cfg.Pipeline.BatchSize, "AITRADER_PIPELINE_BATCH_SIZE")
	setDuration(&cfg.Pipeline.CallTimeout, "AITRADER_PIPELINE_CALL_TIMEOUT")
	setInt(&cfg.Pipeline.SubmitRetries, "AITRADER_PIPELINE_SUBMIT_RETRIES")
	setDuration(&cfg.Pipeline.PartialWatch, "AITRADER_PIPELINE_PARTIAL_WATCH")
	setInt(&cfg.Pipeline.FailureTrip, "AITRADER_PIPELINE_FAILURE_TRIP")
	setDuration(&cfg.Pipeline.BudgetWindow, "AITRADER_PIPELINE_BUDGET_WINDOW")
	setInt(&cfg.Pipeline.BrokerBudget, "AITRADER_PIPELINE_BROKER_BUDGET")
	setInt(&cfg.Pipeline.DataBudget, "AITRADER_PIPELINE_DATA_BUDGET")
	setInt(&cfg.Pipeline.AIBudget, "AITRADER_PIPELINE_AI_BUDGET")
	setInt(&cfg.Pipeline.NotifyBudget, "AITRADER_PIPELINE_NOTIFY_BUDGET")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				cleaned = append(cleaned, s)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
