package types

import (
	"context"
	"net/http"
	"time"

	"github.com/microinsure/poolregistry/pkg/config"
	"github.com/microinsure/poolregistry/pkg/ledger"
	"github.com/microinsure/poolregistry/pkg/pools"
	"github.com/microinsure/poolregistry/pkg/redis"
	"github.com/microinsure/poolregistry/pkg/txn"
	"github.com/microinsure/poolregistry/pkg/wallet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type App struct {
	Config      config.Server
	Store       ledger.Store
	Pools       *pools.Service
	Coordinator *txn.Coordinator
	Board       *txn.StatusBoard
	Sessions    *wallet.Sessions
	// RedisClient is nil when Redis is disabled.
	RedisClient *redis.Client
	Gatherer    prometheus.Gatherer

	Cron     *cron.Cron
	CronSpec string

	// Zap Logger
	Logger *zap.Logger
	// Server represents the HTTP server instance used to handle incoming client requests and manage HTTP routes.
	Server *http.Server
}

// SetupScheduler refreshes the pool listing and prunes finished
// transactions on CronSpec.
func (a *App) SetupScheduler(ctx context.Context, logger cron.Logger) error {
	// Seconds field, optional
	a.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(logger)))

	_, err := a.Cron.AddFunc(a.CronSpec, func() {
		// keep each run bounded
		rctx, cancel := context.WithTimeout(ctx, 25*time.Second)
		defer cancel()
		a.Pools.Refresh(rctx)
		if n := a.Coordinator.Prune(a.Config.TxRetention); n > 0 {
			a.Logger.Debug("Pruned transactions", zap.Int("count", n))
		}
	})
	return err
}

// Start starts the application.
func (a *App) Start(ctx context.Context) {
	if a.Cron != nil {
		a.Cron.Start()
		a.Logger.Info("Cron started", zap.String("cronSpec", a.CronSpec))
	}
	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}
	_ = a.Server.Shutdown(shutdownCtx)

	// Let in-flight ledger writes finish so their handles settle.
	a.Pools.Close()

	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Error("Failed to close Redis connection", zap.Error(err))
		}
	}
	a.Logger.Info("さようなら!")
}
