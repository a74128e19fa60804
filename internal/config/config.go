// Package config defines the top-level configuration for hedgecraft and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by HEDGECRAFT_* environment variables.
type Config struct {
	// Operator is the hex address the system acts as at every venue.
	Operator string         `toml:"operator"`
	Wallet   WalletConfig   `toml:"wallet"`
	Chain    ChainConfig    `toml:"chain"`
	Engine   EngineConfig   `toml:"engine"`
	Hedge    HedgeConfig    `toml:"hedge"`
	Venue    VenueConfig    `toml:"venue"`
	Storage  StorageConfig  `toml:"storage"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the signing key material for the EVM venue adapters.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig holds RPC endpoint and contract parameters for the EVM venues.
type ChainConfig struct {
	RPCURL          string   `toml:"rpc_url"`
	ChainID         int64    `toml:"chain_id"`
	PositionManager string   `toml:"position_manager"`
	LendingPool     string   `toml:"lending_pool"`
	SwapRouter      string   `toml:"swap_router"`
	Confirmations   int      `toml:"confirmations"`
	ReceiptTimeout  duration `toml:"receipt_timeout"`
	RateLimitRPS    float64  `toml:"rate_limit_rps"`
	GasCacheTTL     duration `toml:"gas_cache_ttl"`
}

// EngineConfig holds the position orchestrator's parameters.
type EngineConfig struct {
	// YieldPercent of each deposited amount goes to the yield leg.
	YieldPercent int `toml:"yield_percent"`
	// DefaultLeverage is the leverage applied to every hedge leg, e.g. 1.25.
	DefaultLeverage float64 `toml:"default_leverage"`
	// MinDeposit bounds amount0+amount1 in whole tokens; 0 disables.
	MinDeposit float64  `toml:"min_deposit"`
	LockTTL    duration `toml:"lock_ttl"`
}

// HedgeConfig holds the hedge lifecycle parameters.
type HedgeConfig struct {
	MinLeverage       float64  `toml:"min_leverage"`
	MaxLeverage       float64  `toml:"max_leverage"`
	SwapDeadline      duration `toml:"swap_deadline"`
	SlippageBps       int      `toml:"slippage_bps"`
	BorrowFractionBps int      `toml:"borrow_fraction_bps"`
}

// VenueConfig selects and tunes the venue implementations.
type VenueConfig struct {
	// Kind is "sim" or "evm".
	Kind string         `toml:"kind"`
	Sim  SimVenueConfig `toml:"sim"`
}

// SimVenueConfig tunes the in-memory venues used by tests and the demo mode.
type SimVenueConfig struct {
	// InitialPrice is the starting quote-per-base pool and spot price.
	InitialPrice         float64 `toml:"initial_price"`
	SwapFeeBps           int     `toml:"swap_fee_bps"`
	LoanFeeBps           int     `toml:"loan_fee_bps"`
	LTV                  float64 `toml:"ltv"`
	LiquidationThreshold float64 `toml:"liquidation_threshold"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is "postgres", "sqlite" or "memory".
	Backend    string `toml:"backend"`
	SQLitePath string `toml:"sqlite_path"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds closed-position archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
	// Schedule is an optional 5-field cron expression. When set, archive
	// mode runs on the schedule instead of exiting after one pass.
	Schedule string `toml:"schedule"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Operator: "0x0000000000000000000000000000000000000001",
		Chain: ChainConfig{
			ChainID:        8453,
			Confirmations:  1,
			ReceiptTimeout: duration{2 * time.Minute},
			RateLimitRPS:   10,
			GasCacheTTL:    duration{15 * time.Second},
		},
		Engine: EngineConfig{
			YieldPercent:    79,
			DefaultLeverage: 1.25,
			MinDeposit:      0,
			LockTTL:         duration{30 * time.Second},
		},
		Hedge: HedgeConfig{
			MinLeverage:       1.0,
			MaxLeverage:       3.0,
			SwapDeadline:      duration{2 * time.Minute},
			SlippageBps:       50,
			BorrowFractionBps: 5000,
		},
		Venue: VenueConfig{
			Kind: "sim",
			Sim: SimVenueConfig{
				InitialPrice:         1.0,
				SwapFeeBps:           0,
				LoanFeeBps:           9,
				LTV:                  0.75,
				LiquidationThreshold: 0.80,
			},
		},
		Storage: StorageConfig{
			Backend:    "sqlite",
			SQLitePath: "hedgecraft.db",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "hedgecraft-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"position.opened", "position.closed", "position.partially_closed", "hedge.opened", "hedge.closed"},
		},
		Mode:     "demo",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"demo":      true,
	"engine":    true,
	"watch":     true,
	"positions": true,
	"archive":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validBackends enumerates the accepted values for StorageConfig.Backend.
var validBackends = map[string]bool{
	"postgres": true,
	"sqlite":   true,
	"memory":   true,
}

// isHexAddress reports whether s looks like a 0x-prefixed 20-byte address.
func isHexAddress(s string) bool {
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, r := range s[2:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: demo, engine, watch, positions, archive)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Operator — every mode that touches a venue acts as this account.
	if c.Mode == "demo" || c.Mode == "engine" {
		if c.Operator == "" {
			errs = append(errs, "operator must be set for mode "+c.Mode)
		}
	}
	if c.Operator != "" && !isHexAddress(c.Operator) {
		errs = append(errs, fmt.Sprintf("operator %q is not a hex address", c.Operator))
	}

	// Engine
	if c.Engine.YieldPercent <= 0 || c.Engine.YieldPercent >= 100 {
		errs = append(errs, fmt.Sprintf("engine: yield_percent must be between 1 and 99, got %d", c.Engine.YieldPercent))
	}
	if c.Engine.MinDeposit < 0 {
		errs = append(errs, "engine: min_deposit must not be negative")
	}
	if c.Engine.LockTTL.Duration <= 0 {
		errs = append(errs, "engine: lock_ttl must be positive")
	}

	// Hedge — the leverage band is a hard safety bound.
	if c.Hedge.MinLeverage < 1.0 {
		errs = append(errs, fmt.Sprintf("hedge: min_leverage must be >= 1.0, got %g", c.Hedge.MinLeverage))
	}
	if c.Hedge.MaxLeverage > 3.0 {
		errs = append(errs, fmt.Sprintf("hedge: max_leverage must be <= 3.0, got %g", c.Hedge.MaxLeverage))
	}
	if c.Hedge.MinLeverage > c.Hedge.MaxLeverage {
		errs = append(errs, "hedge: min_leverage must not exceed max_leverage")
	}
	if c.Engine.DefaultLeverage < c.Hedge.MinLeverage || c.Engine.DefaultLeverage > c.Hedge.MaxLeverage {
		errs = append(errs, fmt.Sprintf("engine: default_leverage %g outside hedge leverage band [%g, %g]",
			c.Engine.DefaultLeverage, c.Hedge.MinLeverage, c.Hedge.MaxLeverage))
	}
	if c.Hedge.SwapDeadline.Duration <= 0 {
		errs = append(errs, "hedge: swap_deadline must be positive")
	}
	if c.Hedge.SlippageBps < 0 || c.Hedge.SlippageBps > 10_000 {
		errs = append(errs, fmt.Sprintf("hedge: slippage_bps must be 0-10000, got %d", c.Hedge.SlippageBps))
	}
	if c.Hedge.BorrowFractionBps <= 0 || c.Hedge.BorrowFractionBps >= 10_000 {
		errs = append(errs, fmt.Sprintf("hedge: borrow_fraction_bps must be 1-9999, got %d", c.Hedge.BorrowFractionBps))
	}

	// Venue
	switch c.Venue.Kind {
	case "sim":
		if c.Venue.Sim.InitialPrice <= 0 {
			errs = append(errs, "venue: sim.initial_price must be > 0")
		}
		if c.Venue.Sim.LTV <= 0 || c.Venue.Sim.LTV > 1 {
			errs = append(errs, fmt.Sprintf("venue: sim.ltv must be in (0, 1], got %g", c.Venue.Sim.LTV))
		}
		if c.Venue.Sim.LiquidationThreshold <= 0 || c.Venue.Sim.LiquidationThreshold > 1 {
			errs = append(errs, fmt.Sprintf("venue: sim.liquidation_threshold must be in (0, 1], got %g", c.Venue.Sim.LiquidationThreshold))
		}
		if c.Venue.Sim.LTV > c.Venue.Sim.LiquidationThreshold {
			errs = append(errs, "venue: sim.ltv must not exceed sim.liquidation_threshold")
		}
		if c.Venue.Sim.SwapFeeBps < 0 || c.Venue.Sim.SwapFeeBps > 10_000 {
			errs = append(errs, "venue: sim.swap_fee_bps must be 0-10000")
		}
		if c.Venue.Sim.LoanFeeBps < 0 || c.Venue.Sim.LoanFeeBps > 10_000 {
			errs = append(errs, "venue: sim.loan_fee_bps must be 0-10000")
		}
	case "evm":
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url is required for the evm venue")
		}
		if c.Chain.ChainID <= 0 {
			errs = append(errs, "chain: chain_id must be positive")
		}
		for name, addr := range map[string]string{
			"position_manager": c.Chain.PositionManager,
			"lending_pool":     c.Chain.LendingPool,
			"swap_router":      c.Chain.SwapRouter,
		} {
			if !isHexAddress(addr) {
				errs = append(errs, fmt.Sprintf("chain: %s %q is not a hex address", name, addr))
			}
		}
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for the evm venue")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	default:
		errs = append(errs, fmt.Sprintf("venue: unknown kind %q (valid: sim, evm)", c.Venue.Kind))
	}

	// Storage
	if !validBackends[c.Storage.Backend] {
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: postgres, sqlite, memory)", c.Storage.Backend))
	}
	if c.Storage.Backend == "sqlite" && c.Storage.SQLitePath == "" {
		errs = append(errs, "storage: sqlite_path must not be empty for the sqlite backend")
	}
	if c.Storage.Backend == "postgres" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis — the engine serializes per-position work through it, and watch
	// mode tails its streams.
	if c.Mode == "engine" || c.Mode == "watch" {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty for mode "+c.Mode)
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3 — needed whenever archival can run.
	if c.Mode == "archive" || c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archival is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archival is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
