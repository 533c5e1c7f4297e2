package server

import (
	"context"
	"fmt"

	"github.com/microinsure/poolregistry/app/server/types"
	"github.com/microinsure/poolregistry/pkg/config"
	"github.com/microinsure/poolregistry/pkg/ledger"
	"github.com/microinsure/poolregistry/pkg/logging"
	"github.com/microinsure/poolregistry/pkg/metrics"
	"github.com/microinsure/poolregistry/pkg/mutator"
	"github.com/microinsure/poolregistry/pkg/pools"
	"github.com/microinsure/poolregistry/pkg/redis"
	"github.com/microinsure/poolregistry/pkg/registry"
	"github.com/microinsure/poolregistry/pkg/txn"
	"github.com/microinsure/poolregistry/pkg/wallet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Initialize initializes the application.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	cfg, err := config.LoadServer()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	app, err := Build(ctx, cfg, logger, prometheus.NewRegistry())
	if err != nil {
		logger.Fatal("Unable to initialize application", zap.Error(err))
	}
	return app
}

// Build wires the application from cfg. reg receives every collector.
func Build(ctx context.Context, cfg config.Server, logger *zap.Logger, reg *prometheus.Registry) (*types.App, error) {
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Redis is optional unless it backs the ledger.
	var redisClient *redis.Client
	if cfg.RedisEnabled {
		var err error
		redisClient, err = redis.NewClient(ctx, logger)
		if err != nil {
			if cfg.Ledger.Backend == config.BackendRedis {
				return nil, fmt.Errorf("redis ledger backend: %w", err)
			}
			logger.Warn("Failed to initialize Redis client - transaction fan-out will stay in-process",
				zap.Error(err))
			redisClient = nil
		} else {
			logger.Info("Redis client initialized for transaction fan-out")
		}
	} else {
		logger.Info("Redis disabled - transaction updates are streamed in-process only")
	}

	store, err := newStore(cfg.Ledger, redisClient, logger)
	if err != nil {
		return nil, err
	}

	coord := txn.NewCoordinator(txn.Opts{
		SuccessTTL: cfg.TxSuccessTTL,
		ErrorTTL:   cfg.TxErrorTTL,
		Logger:     logger,
		Metrics:    m,
	})
	board := &txn.StatusBoard{}
	coord.Subscribe(board.Observe)
	if redisClient != nil {
		coord.Subscribe(txn.NewPublisher(redisClient, logger).Observe)
	}

	poolReg := registry.New(store, logger, m)
	svc := pools.NewService(pools.Config{
		Registry:    poolReg,
		Mutator:     mutator.New(poolReg, logger, mutator.WithMetrics(m)),
		Coordinator: coord,
		Logger:      logger,
		Workers:     cfg.TxWorkers,
		QueueSize:   cfg.TxQueue,
	})

	app := &types.App{
		Config:      cfg,
		Store:       store,
		Pools:       svc,
		Coordinator: coord,
		Board:       board,
		Sessions:    wallet.NewSessions([]byte(cfg.SessionSecret), cfg.SessionTTL),
		RedisClient: redisClient,
		Gatherer:    reg,
		CronSpec:    cfg.RefreshCron,
		Logger:      logger,
	}
	if err := app.SetupScheduler(ctx, cron.DefaultLogger); err != nil {
		svc.Close()
		return nil, fmt.Errorf("schedule refresh: %w", err)
	}
	return app, nil
}

func newStore(cfg config.Ledger, redisClient *redis.Client, logger *zap.Logger) (ledger.Store, error) {
	switch cfg.Backend {
	case config.BackendRPC:
		logger.Info("Using ledger RPC", zap.Strings("endpoints", cfg.Endpoints))
		return ledger.NewHTTPWithOpts(ledger.Opts{
			Endpoints:    cfg.Endpoints,
			Timeout:      cfg.Timeout,
			RPS:          cfg.RPS,
			Burst:        cfg.Burst,
			PollInterval: cfg.ConfirmPoll,
			Logger:       logger,
		}), nil
	case config.BackendRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("LEDGER_BACKEND=redis but Redis is not connected")
		}
		logger.Info("Using Redis as ledger", zap.String("prefix", cfg.KeyPrefix))
		return ledger.NewRedisStore(redisClient, cfg.KeyPrefix), nil
	case config.BackendMemory:
		logger.Warn("Using in-memory ledger; nothing survives a restart")
		return ledger.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
}
