package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/feral-file/ff-gift-engine/internal/adapter"
	"github.com/feral-file/ff-gift-engine/internal/annotation"
	"github.com/feral-file/ff-gift-engine/internal/api/middleware"
	"github.com/feral-file/ff-gift-engine/internal/api/rest"
	"github.com/feral-file/ff-gift-engine/internal/api/server"
	"github.com/feral-file/ff-gift-engine/internal/block"
	"github.com/feral-file/ff-gift-engine/internal/claim"
	"github.com/feral-file/ff-gift-engine/internal/commitment"
	"github.com/feral-file/ff-gift-engine/internal/config"
	"github.com/feral-file/ff-gift-engine/internal/degraded"
	"github.com/feral-file/ff-gift-engine/internal/escrow"
	"github.com/feral-file/ff-gift-engine/internal/logger"
	"github.com/feral-file/ff-gift-engine/internal/materializer"
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
	cfg, err := config.LoadAPIConfig(*configFile, *envPath)
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
			"service": "gift-api",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Feral File Gift Engine API")

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
	verifier, err := commitment.NewVerifier(cfg.EscrowContract(), bigInt(cfg.Ethereum.ChainID))
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create commitment verifier", zap.Error(err))
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

	var limiter adapter.RedisRateLimiter
	if cfg.Claim.RateLimitPerMinute > 0 {
		limiter = redisClient.NewRateLimiter()
	}
	claims := claim.NewService(claim.Config{RateLimitPerMinute: cfg.Claim.RateLimitPerMinute},
		res, contract, verifier, limiter, keys, clock)

	buffer := degraded.New(gifts, keys)
	annotations := annotation.NewService(res, buffer, gifts, eventLog, jcs, clock)

	mat := materializer.New(materializer.Config{
		PageSize:   cfg.Materializer.PageSize,
		CASRetries: cfg.Materializer.CASRetries,
	}, eventLog, aggregates, checkpoints, clock)

	// On-demand reconciliation; the scheduled loop runs in the reconciler binary
	rec, err := reconciler.NewReconciler(reconciler.Config{
		StartBlock:     cfg.Ethereum.StartBlock,
		BlockBatchSize: cfg.Ethereum.BlockBatchSize,
		Confirmations:  cfg.Ethereum.Confirmations,
		HeaderWorkers:  cfg.Reconciler.HeaderWorkers,
		Retry:          policy,
		CampaignFor:    cfg.CampaignFor,
	}, reconciler.Deps{
		Contract:     contract,
		Client:       ethClient,
		Blocks:       block.NewProvider(ethClient, block.Config{Retry: policy}, clock),
		Resolver:     res,
		Gifts:        gifts,
		Mappings:     mappings,
		Log:          eventLog,
		Checkpoints:  checkpoints,
		Materializer: mat,
		Clock:        clock,
	})
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create reconciler", zap.Error(err))
	}
	defer rec.Close()

	handler := rest.NewHandler(cfg.Debug, rest.Deps{
		Claims:       claims,
		Annotations:  annotations,
		Reconciler:   rec,
		Materializer: mat,
		Stats:        degraded.NewStatsCache(mat),
		Buffer:       buffer,
		Log:          eventLog,
		Clock:        clock,
	})

	srv := server.New(server.Config{
		Debug:        cfg.Debug,
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
		CORSOrigins:  cfg.Server.CORSOrigins,
		Auth: middleware.AuthConfig{
			JWTPublicKey: cfg.Auth.JWTPublicKey,
			APIKeys:      cfg.Auth.APIKeys,
		},
	}, handler)

	// Start server in a goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "server"))
		cancel()
	}

	// Create shutdown context with timeout (don't use canceled ctx)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorCtx(shutdownCtx, err)
	}

	if n := len(buffer.Buffered()); n > 0 {
		logger.Warn("Exiting with annotation writes still buffered in memory", zap.Int("records", n))
	}

	logger.Info("API server stopped")
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
	logger.InfoCtx(ctx, "Connected to database",
		zap.Int("max_open_conns", cfg.Database.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.Database.MaxIdleConns),
	)

	return store.NewPGEventLog(db), store.NewPGCheckpointStore(db), func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func bigInt(v int64) *big.Int {
	return big.NewInt(v)
}
