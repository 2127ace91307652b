package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/feral-file/ff-gift-engine/internal/adapter"
	"github.com/feral-file/ff-gift-engine/internal/block"
	"github.com/feral-file/ff-gift-engine/internal/config"
	"github.com/feral-file/ff-gift-engine/internal/escrow"
	"github.com/feral-file/ff-gift-engine/internal/logger"
	"github.com/feral-file/ff-gift-engine/internal/materializer"
	"github.com/feral-file/ff-gift-engine/internal/messaging"
	"github.com/feral-file/ff-gift-engine/internal/providers/jetstream"
	"github.com/feral-file/ff-gift-engine/internal/reconciler"
	"github.com/feral-file/ff-gift-engine/internal/resolver"
	"github.com/feral-file/ff-gift-engine/internal/retry"
	"github.com/feral-file/ff-gift-engine/internal/store"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadReconcilerConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "gift-reconciler",
			"chain":   fmt.Sprintf("eip155:%d", cfg.Ethereum.ChainID),
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Feral File Gift Engine reconciler",
		zap.Uint64("start_block", cfg.Ethereum.StartBlock),
		zap.Duration("interval", cfg.Reconciler.Interval),
	)

	clock := adapter.NewClock()
	jcs := adapter.NewJCS()
	keys := store.NewKeys(cfg.Redis.KeyPrefix)
	policy := retry.Policy{
		MaxRetries:      cfg.Retry.MaxRetries,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
	}

	// Primary store
	redisClient := adapter.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	defer redisClient.Close()
	if err := store.ProbeRedis(ctx, redisClient, keys); err != nil {
		logger.FatalCtx(ctx, "Redis probe failed", zap.Error(err), zap.String("addr", cfg.Redis.Addr))
	}
	logger.InfoCtx(ctx, "Connected to redis", zap.String("addr", cfg.Redis.Addr))

	gifts := store.NewRedisGiftStore(redisClient, keys)
	mappings := store.NewRedisMappingStore(redisClient, keys)
	aggregates := store.NewRedisAggregateStore(redisClient, keys)

	eventLog, checkpoints, closeLog := openEventLog(ctx, cfg.EngineConfig, redisClient, keys)
	defer closeLog()

	// Chain
	ethClient, err := adapter.NewEthClientDialer().Dial(ctx, cfg.Ethereum.RPCURL)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to Ethereum RPC", zap.Error(err))
	}
	defer ethClient.Close()

	contract, err := escrow.NewContract(ethClient, jcs, cfg.EscrowContract(), cfg.NFTContract(), policy)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to bind escrow contract", zap.Error(err))
	}

	res, err := resolver.New(resolver.Config{
		MaxScanDepth:    cfg.Resolver.MaxScanDepth,
		ScanTimeout:     cfg.Resolver.ScanTimeout,
		ScanConcurrency: cfg.Resolver.ScanConcurrency,
		MissTTL:         cfg.Resolver.MissTTL,
	}, contract, mappings, store.NewRedisProbeMissStore(redisClient, keys))
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create resolver", zap.Error(err))
	}
	defer res.Close()

	// Optional downstream feed of newly appended events
	var publisher messaging.Publisher
	if cfg.Reconciler.PublishEnabled {
		publisher, err = jetstream.NewPublisher(jetstream.Config{
			URL:            cfg.NATS.URL,
			SubjectPrefix:  cfg.NATS.SubjectPrefix,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ReconnectWait:  cfg.NATS.ReconnectWait,
			ConnectionName: cfg.NATS.ConnectionName,
		}, adapter.NewNatsJetStream(), jcs)
		if err != nil {
			logger.FatalCtx(ctx, "Failed to create NATS publisher", zap.Error(err))
		}
		defer publisher.Close()
		logger.InfoCtx(ctx, "Connected to NATS JetStream", zap.String("url", cfg.NATS.URL))
	}

	mat := materializer.New(materializer.Config{
		PageSize:   cfg.Materializer.PageSize,
		CASRetries: cfg.Materializer.CASRetries,
	}, eventLog, aggregates, checkpoints, clock)

	rec, err := reconciler.NewReconciler(reconciler.Config{
		StartBlock:     cfg.Ethereum.StartBlock,
		BlockBatchSize: cfg.Ethereum.BlockBatchSize,
		Confirmations:  cfg.Ethereum.Confirmations,
		HeaderWorkers:  cfg.Reconciler.HeaderWorkers,
		Interval:       cfg.Reconciler.Interval,
		RepairOnCycle:  cfg.Reconciler.RepairOnCycle,
		Retry:          policy,
		CampaignFor:    cfg.CampaignFor,
	}, reconciler.Deps{
		Contract: contract,
		Client:   ethClient,
		Blocks: block.NewProvider(ethClient, block.Config{
			HeadTTL:             cfg.Reconciler.Interval / 4,
			StaleWindow:         cfg.Reconciler.Interval,
			MaxCachedTimestamps: 100_000,
			Retry:               policy,
		}, clock),
		Resolver:     res,
		Gifts:        gifts,
		Mappings:     mappings,
		Log:          eventLog,
		Checkpoints:  checkpoints,
		Materializer: mat,
		Publisher:    publisher,
		Clock:        clock,
	})
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create reconciler", zap.Error(err))
	}
	defer rec.Close()

	// Run the loop in a goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- rec.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var closeCh <-chan struct{}
	if publisher != nil {
		closeCh = publisher.CloseChan()
	}

	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
		<-errCh
	case <-closeCh:
		logger.WarnCtx(ctx, "NATS connection closed, shutting down")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			logger.ErrorCtx(ctx, err, zap.String("component", "reconciler"))
		}
		cancel()
	}

	logger.Info("Reconciler stopped")
}

// openEventLog connects the configured canonical event log backend. Checkpoints live
// next to the log so a checkpoint never points past what the log holds.
func openEventLog(ctx context.Context, cfg config.EngineConfig, client adapter.RedisClient, keys store.Keys) (store.EventLog, store.CheckpointStore, func()) {
	if cfg.EventLog.Backend != config.EventLogBackendPostgres {
		return store.NewRedisEventLog(client, keys), store.NewRedisCheckpointStore(client, keys), func() {}
	}

	db, err := store.OpenPostgres(cfg.Database.DSN(), cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns,
		cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err))
	}
	if err := store.ProbePostgres(ctx, db); err != nil {
		logger.FatalCtx(ctx, "Postgres probe failed", zap.Error(err))
	}

	return store.NewPGEventLog(db), store.NewPGCheckpointStore(db), func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
