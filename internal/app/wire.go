package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	s3blob "github.com/astraly-labs/vesu-liquidator/internal/blob/s3"
	"github.com/astraly-labs/vesu-liquidator/internal/cache/redis"
	"github.com/astraly-labs/vesu-liquidator/internal/chain"
	"github.com/astraly-labs/vesu-liquidator/internal/config"
	"github.com/astraly-labs/vesu-liquidator/internal/crypto"
	"github.com/astraly-labs/vesu-liquidator/internal/domain"
	"github.com/astraly-labs/vesu-liquidator/internal/executor"
	"github.com/astraly-labs/vesu-liquidator/internal/health"
	"github.com/astraly-labs/vesu-liquidator/internal/notify"
	"github.com/astraly-labs/vesu-liquidator/internal/oracle"
	"github.com/astraly-labs/vesu-liquidator/internal/pipeline"
	"github.com/astraly-labs/vesu-liquidator/internal/registry"
	"github.com/astraly-labs/vesu-liquidator/internal/store/postgres"
	"github.com/astraly-labs/vesu-liquidator/internal/store/statefile"
	"github.com/astraly-labs/vesu-liquidator/internal/stream"
)

// Wire constructs every component from configuration and returns the
// orchestrator plus a cleanup function releasing resources in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pipeline.Orchestrator, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*pipeline.Orchestrator, func(), error) {
		cleanup()
		return nil, nil, err
	}

	// --- Signing key and chain client ---
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: load key: %w", err))
	}

	chainClient, err := chain.New(ctx,
		cfg.Chain.RPCURL,
		cfg.Chain.ChainID,
		common.HexToAddress(cfg.Chain.PoolContract),
		key,
		cfg.Chain.ReceiptInterval.Duration,
		cfg.Chain.ReceiptRetries,
		logger,
	)
	if err != nil {
		return fail(fmt.Errorf("wire: chain client: %w", err))
	}
	closers = append(closers, chainClient.Close)

	// Approvals are one-time; without them every liquidation would revert on
	// the debt transfer. Anything below 2^128 counts as depleted.
	allowanceFloor := new(big.Int).Lsh(big.NewInt(1), 128)
	for _, asset := range cfg.Assets {
		if err := chainClient.EnsureAllowance(ctx, common.HexToAddress(asset.Address), allowanceFloor); err != nil {
			return fail(fmt.Errorf("wire: allowance for %s: %w", asset.Symbol, err))
		}
	}

	// --- State store and registry ---
	var store domain.StateStore
	if cfg.State.PostgresDSN != "" {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{DSN: cfg.State.PostgresDSN})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail(fmt.Errorf("wire: postgres migrations: %w", err))
		}
		store = postgres.NewStateStore(pgClient.Pool())
	} else {
		store = statefile.New(cfg.State.FilePath, logger)
	}

	state, err := store.Load(ctx)
	if err != nil {
		return fail(fmt.Errorf("wire: load state: %w", err))
	}
	if state.Cursor.Height == 0 && cfg.Chain.StartingBlock > 0 {
		state.Cursor.Height = cfg.Chain.StartingBlock
	}

	reg := registry.New(cfg.State.CheckpointEvery, cfg.State.CheckpointDepth, logger)
	reg.Seed(state)

	// --- Stream client ---
	streamClient := stream.NewClient(stream.Config{
		WsURL:            cfg.Stream.WsURL,
		APIKey:           cfg.Stream.APIKey,
		Contracts:        []string{cfg.Chain.PoolContract},
		ReconnectBackoff: cfg.Stream.ReconnectBackoff.Duration,
		MaxBackoff:       cfg.Stream.MaxBackoff.Duration,
	}, state.Cursor, logger)

	// --- Oracle ---
	oracleClient := oracle.NewClient(
		cfg.Oracle.BaseURL,
		cfg.Oracle.APIKey,
		cfg.Oracle.RequestTimeout.Duration,
		cfg.Oracle.RequestsPerSecond,
	)
	quoteCache := oracle.NewCache(cfg.Oracle.StalenessThreshold.Duration)

	symbols := make([]string, 0, len(cfg.Assets))
	assets := make(health.AssetTable, len(cfg.Assets))
	for _, a := range cfg.Assets {
		symbols = append(symbols, a.Symbol)
		assets[common.HexToAddress(a.Address)] = health.Asset{
			Symbol:               a.Symbol,
			Decimals:             a.Decimals,
			LiquidationThreshold: decimal.NewFromFloat(a.LiquidationThreshold),
		}
	}
	refresher := oracle.NewRefresher(oracleClient, quoteCache,
		symbols, cfg.Oracle.RefreshInterval.Duration, cfg.Oracle.FailureCeiling, logger)

	// --- Evaluator ---
	evaluator := health.NewEvaluator(assets, quoteCache, health.Params{
		OverheadFactor:      decimal.NewFromFloat(cfg.Executor.OverheadFactor),
		LiquidationDiscount: decimal.NewFromFloat(cfg.Executor.LiquidationDiscount),
		ExecutionCostUSD:    decimal.NewFromFloat(cfg.Executor.GasCostUSD),
		MinProfitUSD:        decimal.NewFromFloat(cfg.Executor.MinProfitUSD),
	})

	// --- Optional Redis: distributed lock and outcome bus ---
	var lock domain.LockManager
	var bus domain.SignalBus
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		lock = redis.NewLockManager(redisClient)
		bus = redis.NewSignalBus(redisClient)
	}

	// --- Optional S3 snapshot archival ---
	var archiver domain.Archiver
	if cfg.S3.Bucket != "" {
		s3Archiver, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         true,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		archiver = s3Archiver
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	var notifier executor.Notifier
	if n := notify.NewNotifier(senders, logger); n.Enabled() {
		notifier = n
	}

	// --- Executor ---
	nonces := executor.NewNonceManager(chainClient.PendingNonce)
	if err := nonces.Init(ctx); err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}

	sweeper := pipeline.NewSweeper(reg, evaluator, cfg.Executor.CheckInterval.Duration, logger)
	exec := executor.New(executor.Config{
		MaxAttempts:  cfg.Executor.MaxAttempts,
		RetryBackoff: cfg.Executor.RetryBackoff.Duration,
		MaxBackoff:   cfg.Executor.MaxRetryBackoff.Duration,
		LockTTL:      time.Minute,
	}, sweeper.Sweeps(), chainClient, reg, nonces, lock, bus, notifier, logger)

	// --- Pipeline ---
	ingestor := pipeline.NewIngestor(streamClient, reg, logger)
	snapshots := pipeline.NewSnapshotWriter(reg, store, archiver,
		cfg.State.SnapshotInterval.Duration, 10, logger)

	orch := pipeline.NewOrchestrator(
		streamClient, ingestor, refresher, sweeper, exec, snapshots,
		cfg.Metrics.ListenAddr, logger,
	)
	return orch, cleanup, nil
}
