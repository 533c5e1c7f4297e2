// Package devledger runs a local ledger node for development and tests.
package devledger

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/microinsure/poolregistry/pkg/config"
	"github.com/microinsure/poolregistry/pkg/ledger"
	"github.com/microinsure/poolregistry/pkg/logging"
	"github.com/microinsure/poolregistry/pkg/redis"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const pruneSpec = "0 * * * * *"

// App is a running dev ledger.
type App struct {
	Config      config.DevLedger
	Node        *Node
	RedisClient *redis.Client
	Cron        *cron.Cron
	Logger      *zap.Logger
	Server      *http.Server
}

// Initialize initializes the application.
func Initialize(ctx context.Context) *App {
	logger, err := logging.New()
	if err != nil {
		panic(err)
	}
	cfg, err := config.LoadDevLedger()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}
	app, err := Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Unable to initialize dev ledger", zap.Error(err))
	}
	return app
}

// Build wires a dev ledger from cfg.
func Build(ctx context.Context, cfg config.DevLedger, logger *zap.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: logger}

	var backend ledger.Store
	switch cfg.Backend {
	case config.BackendRedis:
		rc, err := redis.NewClient(ctx, logger)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		app.RedisClient = rc
		backend = ledger.NewRedisStore(rc, cfg.KeyPrefix)
	default:
		backend = ledger.NewMemory()
	}

	app.Node = NewNode(NodeOpts{
		Backend:      backend,
		ConfirmDelay: cfg.ConfirmDelay,
		RejectPrefix: cfg.RejectPrefix,
		Logger:       logger,
	})

	app.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	if _, err := app.Cron.AddFunc(pruneSpec, func() {
		if n := app.Node.Prune(cfg.TxRetention); n > 0 {
			logger.Debug("Pruned settled transactions", zap.Int("count", n))
		}
	}); err != nil {
		return nil, err
	}

	app.Server = &http.Server{Addr: cfg.Addr, Handler: app.Node.NewRouter()}
	return app, nil
}

// Start serves until ctx is done.
func (a *App) Start(ctx context.Context) {
	a.Cron.Start()
	a.Logger.Info("Dev ledger listening",
		zap.String("addr", a.Config.Addr),
		zap.String("backend", a.Config.Backend),
		zap.Duration("confirm_delay", a.Config.ConfirmDelay))
	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	<-a.Cron.Stop().Done()
	_ = a.Server.Shutdown(shutdownCtx)
	if a.RedisClient != nil {
		_ = a.RedisClient.Close()
	}
	a.Logger.Info("さようなら!")
}
