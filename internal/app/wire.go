package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/amsorrytola/HedgeCraft/internal/blob/s3"
	"github.com/amsorrytola/HedgeCraft/internal/cache/redis"
	"github.com/amsorrytola/HedgeCraft/internal/config"
	"github.com/amsorrytola/HedgeCraft/internal/crypto"
	"github.com/amsorrytola/HedgeCraft/internal/domain"
	"github.com/amsorrytola/HedgeCraft/internal/engine"
	"github.com/amsorrytola/HedgeCraft/internal/hedge"
	"github.com/amsorrytola/HedgeCraft/internal/liquidity"
	"github.com/amsorrytola/HedgeCraft/internal/notify"
	"github.com/amsorrytola/HedgeCraft/internal/store/memory"
	"github.com/amsorrytola/HedgeCraft/internal/store/postgres"
	"github.com/amsorrytola/HedgeCraft/internal/store/sqlite"
	"github.com/amsorrytola/HedgeCraft/internal/venue/evm"
	"github.com/amsorrytola/HedgeCraft/internal/venue/sim"
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function. Fields a mode does not need stay nil.
type Dependencies struct {
	// Stores
	Positions domain.PositionStore
	Hedges    domain.HedgePositionStore
	Audit     domain.AuditStore

	// Coordination
	Locks domain.LockManager
	Bus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Venues
	Yields  domain.LiquidityVenue
	Lending domain.LendingVenue
	Swaps   domain.SwapVenue

	// Sim handles, set only for the sim venue kind. Demo mode uses them to
	// seed balances, prices and fee accrual.
	SimLedger *sim.Ledger
	SimYields *sim.LiquidityVenue
	SimSwaps  *sim.SwapVenue

	// Lifecycle
	Hedger *hedge.Manager
	Engine *engine.Engine

	// Notifications
	Notifier *notify.Notifier
}

// needsStore returns true for modes that read or write position records.
func needsStore(mode string) bool {
	return mode != "watch"
}

// needsRedis returns true for modes that coordinate through Redis. Demo runs
// on in-process equivalents so it needs no external services.
func needsRedis(mode string) bool {
	switch mode {
	case "engine", "watch":
		return true
	default:
		return false
	}
}

// needsS3 returns true when this run can archive to object storage.
func needsS3(mode string, cfg *config.Config) bool {
	return mode == "archive" || (mode == "engine" && cfg.Archive.Enabled)
}

// needsVenues returns true for modes that execute the position lifecycle.
func needsVenues(mode string) bool {
	return mode == "demo" || mode == "engine"
}

// loanSinkRegistrar is the venue hook that closes the loan-callback loop
// once the hedge manager exists. Both venue kinds implement it.
type loanSinkRegistrar interface {
	RegisterSink(domain.LoanSink)
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}
	mode := strings.ToLower(cfg.Mode)

	// Demo is self-contained: in-memory store plus sim venues, regardless of
	// what the config would wire for a live run.
	backend := cfg.Storage.Backend
	venueKind := cfg.Venue.Kind
	if mode == "demo" {
		backend = "memory"
		venueKind = "sim"
	}

	// --- Stores ---
	if needsStore(mode) {
		switch backend {
		case "postgres":
			pgClient, err := postgres.New(ctx, postgres.ClientConfig{
				DSN:      cfg.Postgres.DSN,
				Host:     cfg.Postgres.Host,
				Port:     cfg.Postgres.Port,
				Database: cfg.Postgres.Database,
				User:     cfg.Postgres.User,
				Password: cfg.Postgres.Password,
				SSLMode:  cfg.Postgres.SSLMode,
				MaxConns: cfg.Postgres.PoolMaxConns,
				MinConns: cfg.Postgres.PoolMinConns,
			})
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres: %w", err)
			}
			closers = append(closers, pgClient.Close)

			if cfg.Postgres.RunMigrations {
				if err := pgClient.RunMigrations(ctx); err != nil {
					cleanup()
					return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
				}
			}

			pool := pgClient.Pool()
			deps.Positions = postgres.NewPositionStore(pool)
			deps.Hedges = postgres.NewHedgeStore(pool)
			deps.Audit = postgres.NewAuditStore(pool)

		case "sqlite":
			store, err := sqlite.Open(cfg.Storage.SQLitePath)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: sqlite: %w", err)
			}
			closers = append(closers, func() { _ = store.Close() })

			db := store.DB()
			deps.Positions = sqlite.NewPositionStore(db)
			deps.Hedges = sqlite.NewHedgeStore(db)
			deps.Audit = sqlite.NewAuditStore(db)

		case "memory":
			deps.Positions = memory.NewPositionStore()
			deps.Hedges = memory.NewHedgeStore()
			deps.Audit = memory.NewAuditStore()

		default:
			cleanup()
			return nil, nil, fmt.Errorf("wire: unknown storage backend %q", backend)
		}
	}

	// --- Locks and signal bus ---
	if needsRedis(mode) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Locks = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)
	} else {
		deps.Locks = memory.NewLockManager()
		deps.Bus = memory.NewSignalBus()
	}

	// --- S3 blob storage ---
	if needsS3(mode, cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		if deps.Positions != nil && deps.Hedges != nil {
			deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.Positions, deps.Hedges, deps.Audit)
		}
	}

	// --- Venues, hedge manager, engine ---
	if needsVenues(mode) {
		switch venueKind {
		case "sim":
			buildSimVenues(cfg, deps)
		case "evm":
			closeClient, err := buildEVMVenues(ctx, cfg, deps, logger)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: evm venues: %w", err)
			}
			closers = append(closers, closeClient)
		default:
			cleanup()
			return nil, nil, fmt.Errorf("wire: unknown venue kind %q", venueKind)
		}

		operator := common.HexToAddress(cfg.Operator)
		hedger := hedge.NewManager(
			deps.Lending, deps.Swaps, deps.Hedges,
			hedge.FixedFractionPolicy{Bps: int64(cfg.Hedge.BorrowFractionBps)},
			deps.Bus, deps.Audit,
			hedge.Config{
				Operator:     operator,
				MinLeverage:  liquidity.WadFromFloat(cfg.Hedge.MinLeverage),
				MaxLeverage:  liquidity.WadFromFloat(cfg.Hedge.MaxLeverage),
				SwapDeadline: cfg.Hedge.SwapDeadline.Duration,
				SlippageBps:  int64(cfg.Hedge.SlippageBps),
			},
			logger,
		)
		deps.Hedger = hedger
		if registrar, ok := deps.Lending.(loanSinkRegistrar); ok {
			registrar.RegisterSink(hedger)
		}

		engineCfg := engine.Config{
			YieldPercent:    int64(cfg.Engine.YieldPercent),
			DefaultLeverage: liquidity.WadFromFloat(cfg.Engine.DefaultLeverage),
			LockTTL:         cfg.Engine.LockTTL.Duration,
		}
		if cfg.Engine.MinDeposit > 0 {
			engineCfg.MinDeposit = liquidity.WadFromFloat(cfg.Engine.MinDeposit)
		}
		deps.Engine = engine.New(
			deps.Yields, hedger, deps.Swaps,
			deps.Positions, deps.Locks, deps.Bus, deps.Audit,
			engineCfg, logger,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// buildSimVenues wires the deterministic in-memory venues. The lending and
// swap venues share one ledger so loan-callback swaps settle against the
// same balances the loan does.
func buildSimVenues(cfg *config.Config, deps *Dependencies) {
	operator := common.HexToAddress(cfg.Operator)

	ledger := sim.NewLedger()
	yields := sim.NewLiquidityVenue(liquidity.WadFromFloat(cfg.Venue.Sim.InitialPrice))
	lending := sim.NewLendingVenue(ledger, sim.LendingConfig{
		Operator:             operator,
		LoanFeeBps:           int64(cfg.Venue.Sim.LoanFeeBps),
		LTV:                  liquidity.WadFromFloat(cfg.Venue.Sim.LTV),
		LiquidationThreshold: liquidity.WadFromFloat(cfg.Venue.Sim.LiquidationThreshold),
	})
	swaps := sim.NewSwapVenue(ledger, operator, int64(cfg.Venue.Sim.SwapFeeBps))

	deps.SimLedger = ledger
	deps.SimYields = yields
	deps.SimSwaps = swaps
	deps.Yields = yields
	deps.Lending = lending
	deps.Swaps = swaps
}

// buildEVMVenues loads the operator key, dials the RPC node and binds the
// three venue contracts. The returned closer releases the RPC connection.
func buildEVMVenues(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (func(), error) {
	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("load key: %w", err)
	}
	wallet, err := crypto.NewWallet(keyHex, cfg.Chain.ChainID)
	if err != nil {
		return nil, fmt.Errorf("wallet: %w", err)
	}
	if operator := common.HexToAddress(cfg.Operator); operator != wallet.Address() {
		logger.Warn("configured operator differs from wallet address; venue calls run as the wallet",
			slog.String("operator", operator.Hex()),
			slog.String("wallet", wallet.Address().Hex()),
		)
	}

	client, err := evm.NewClient(ctx, evm.ClientConfig{
		RPCURL:         cfg.Chain.RPCURL,
		ChainID:        cfg.Chain.ChainID,
		Confirmations:  uint64(cfg.Chain.Confirmations),
		ReceiptTimeout: cfg.Chain.ReceiptTimeout.Duration,
		RateLimitRPS:   cfg.Chain.RateLimitRPS,
		GasCacheTTL:    cfg.Chain.GasCacheTTL.Duration,
	}, wallet, logger)
	if err != nil {
		return nil, err
	}

	deps.Yields = evm.NewLiquidityVenue(client, common.HexToAddress(cfg.Chain.PositionManager), logger)
	deps.Lending = evm.NewLendingVenue(client, common.HexToAddress(cfg.Chain.LendingPool), logger)
	deps.Swaps = evm.NewSwapVenue(client, common.HexToAddress(cfg.Chain.SwapRouter), logger)
	return client.Close, nil
}
