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
// built-in defaults, applies HEDGECRAFT_* environment variable overrides, and
// returns the final Config. An empty path skips the file and uses defaults
// plus environment only, which is enough for demo mode. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
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

// applyEnvOverrides reads well-known HEDGECRAFT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "HEDGECRAFT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "HEDGECRAFT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "HEDGECRAFT_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "HEDGECRAFT_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "HEDGECRAFT_CHAIN_ID")
	setStr(&cfg.Chain.PositionManager, "HEDGECRAFT_CHAIN_POSITION_MANAGER")
	setStr(&cfg.Chain.LendingPool, "HEDGECRAFT_CHAIN_LENDING_POOL")
	setStr(&cfg.Chain.SwapRouter, "HEDGECRAFT_CHAIN_SWAP_ROUTER")
	setInt(&cfg.Chain.Confirmations, "HEDGECRAFT_CHAIN_CONFIRMATIONS")
	setDuration(&cfg.Chain.ReceiptTimeout, "HEDGECRAFT_CHAIN_RECEIPT_TIMEOUT")
	setFloat64(&cfg.Chain.RateLimitRPS, "HEDGECRAFT_CHAIN_RATE_LIMIT_RPS")
	setDuration(&cfg.Chain.GasCacheTTL, "HEDGECRAFT_CHAIN_GAS_CACHE_TTL")

	// ── Engine ──
	setInt(&cfg.Engine.YieldPercent, "HEDGECRAFT_ENGINE_YIELD_PERCENT")
	setFloat64(&cfg.Engine.DefaultLeverage, "HEDGECRAFT_ENGINE_DEFAULT_LEVERAGE")
	setFloat64(&cfg.Engine.MinDeposit, "HEDGECRAFT_ENGINE_MIN_DEPOSIT")
	setDuration(&cfg.Engine.LockTTL, "HEDGECRAFT_ENGINE_LOCK_TTL")

	// ── Hedge ──
	setFloat64(&cfg.Hedge.MinLeverage, "HEDGECRAFT_HEDGE_MIN_LEVERAGE")
	setFloat64(&cfg.Hedge.MaxLeverage, "HEDGECRAFT_HEDGE_MAX_LEVERAGE")
	setDuration(&cfg.Hedge.SwapDeadline, "HEDGECRAFT_HEDGE_SWAP_DEADLINE")
	setInt(&cfg.Hedge.SlippageBps, "HEDGECRAFT_HEDGE_SLIPPAGE_BPS")
	setInt(&cfg.Hedge.BorrowFractionBps, "HEDGECRAFT_HEDGE_BORROW_FRACTION_BPS")

	// ── Venue ──
	setStr(&cfg.Venue.Kind, "HEDGECRAFT_VENUE_KIND")
	setFloat64(&cfg.Venue.Sim.InitialPrice, "HEDGECRAFT_VENUE_SIM_INITIAL_PRICE")
	setInt(&cfg.Venue.Sim.SwapFeeBps, "HEDGECRAFT_VENUE_SIM_SWAP_FEE_BPS")
	setInt(&cfg.Venue.Sim.LoanFeeBps, "HEDGECRAFT_VENUE_SIM_LOAN_FEE_BPS")

	// ── Storage ──
	setStr(&cfg.Storage.Backend, "HEDGECRAFT_STORAGE_BACKEND")
	setStr(&cfg.Storage.SQLitePath, "HEDGECRAFT_STORAGE_SQLITE_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "HEDGECRAFT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "HEDGECRAFT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "HEDGECRAFT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "HEDGECRAFT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "HEDGECRAFT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "HEDGECRAFT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "HEDGECRAFT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "HEDGECRAFT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "HEDGECRAFT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "HEDGECRAFT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "HEDGECRAFT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "HEDGECRAFT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "HEDGECRAFT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "HEDGECRAFT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "HEDGECRAFT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "HEDGECRAFT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "HEDGECRAFT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "HEDGECRAFT_S3_REGION")
	setStr(&cfg.S3.Bucket, "HEDGECRAFT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "HEDGECRAFT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "HEDGECRAFT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "HEDGECRAFT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "HEDGECRAFT_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "HEDGECRAFT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "HEDGECRAFT_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "HEDGECRAFT_ARCHIVE_INTERVAL")
	setStr(&cfg.Archive.Schedule, "HEDGECRAFT_ARCHIVE_SCHEDULE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "HEDGECRAFT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "HEDGECRAFT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "HEDGECRAFT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "HEDGECRAFT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Operator, "HEDGECRAFT_OPERATOR")
	setStr(&cfg.Mode, "HEDGECRAFT_MODE")
	setStr(&cfg.LogLevel, "HEDGECRAFT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
