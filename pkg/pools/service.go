// Package pools is the boundary the HTTP layer talks to. It wraps the
// registry and the mutator, runs every mutation through the transaction
// coordinator, and keeps the last listing as a snapshot for statistics.
package pools

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/microinsure/poolregistry/pkg/models"
	"github.com/microinsure/poolregistry/pkg/mutator"
	"github.com/microinsure/poolregistry/pkg/registry"
	"github.com/microinsure/poolregistry/pkg/sentinel"
	"github.com/microinsure/poolregistry/pkg/txn"
	"go.uber.org/zap"
)

const (
	DefaultWorkers   = 8
	DefaultQueueSize = 64
)

// Snapshot is the result of the most recent full listing.
type Snapshot struct {
	Pools    []models.PoolRecord
	LoadedAt time.Time
}

// Service implements list, create and join for one process.
type Service struct {
	registry *registry.Registry
	mutator  *mutator.Mutator
	coord    *txn.Coordinator
	pool     pond.Pool
	logger   *zap.Logger

	snapshot atomic.Pointer[Snapshot]
}

// Config wires a Service.
type Config struct {
	Registry    *registry.Registry
	Mutator     *mutator.Mutator
	Coordinator *txn.Coordinator
	Logger      *zap.Logger
	// Workers bounds how many submitted operations run at once.
	Workers   int
	QueueSize int
}

// NewService builds a Service and its dispatch pool. Call Close to stop it.
func NewService(cfg Config) *Service {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = DefaultQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		registry: cfg.Registry,
		mutator:  cfg.Mutator,
		coord:    cfg.Coordinator,
		pool:     pond.NewPool(workers, pond.WithQueueSize(queue)),
		logger:   logger,
	}
}

// Close waits for submitted operations and stops the pool.
func (s *Service) Close() {
	s.pool.StopAndWait()
}

// Coordinator returns the coordinator every mutation reports to.
func (s *Service) Coordinator() *txn.Coordinator { return s.coord }

// ListPools loads every pool, newest first, and stores the snapshot.
func (s *Service) ListPools(ctx context.Context) ([]models.PoolRecord, error) {
	pools, err := s.registry.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	s.snapshot.Store(&Snapshot{Pools: pools, LoadedAt: time.Now()})
	return pools, nil
}

// Search lists pools whose name or risk type contains q, ignoring case.
func (s *Service) Search(ctx context.Context, q string) ([]models.PoolRecord, error) {
	pools, err := s.ListPools(ctx)
	if err != nil {
		return nil, err
	}
	return Filter(pools, q), nil
}

// GetPool reads a single pool.
func (s *Service) GetPool(ctx context.Context, id string) (models.PoolRecord, error) {
	p, ok, err := s.registry.LoadOne(ctx, id)
	if err != nil {
		return models.PoolRecord{}, err
	}
	if !ok {
		return models.PoolRecord{}, sentinel.NotFound("pool not found")
	}
	return p, nil
}

// Snapshot returns the last listing, or nil before the first one.
func (s *Service) Snapshot() *Snapshot { return s.snapshot.Load() }

// Refresh reloads the snapshot. Failures are logged and the old snapshot
// is kept.
func (s *Service) Refresh(ctx context.Context) {
	if _, err := s.ListPools(ctx); err != nil {
		s.logger.Warn("Failed to refresh pool listing", zap.Error(err))
	}
}

// Stats summarizes the snapshot, loading one first if there is none.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	snap := s.Snapshot()
	if snap == nil {
		if _, err := s.ListPools(ctx); err != nil {
			return Stats{}, err
		}
		snap = s.Snapshot()
	}
	st := Summarize(snap.Pools)
	st.LoadedAt = snap.LoadedAt
	return st, nil
}

// CreatePool runs a create to completion. The handle's result is the new id.
func (s *Service) CreatePool(ctx context.Context, account string, draft models.Draft) *txn.Handle {
	return s.coord.Run(ctx, txn.CreatePool, s.createFn(account, draft))
}

// JoinPool runs a join to completion. The handle's result is the updated record.
func (s *Service) JoinPool(ctx context.Context, account, id string) *txn.Handle {
	return s.coord.Run(ctx, txn.JoinPool, s.joinFn(account, id))
}

// SubmitCreate returns a pending handle and runs the create on the pool.
func (s *Service) SubmitCreate(ctx context.Context, account string, draft models.Draft) *txn.Handle {
	return s.submit(ctx, txn.CreatePool, s.createFn(account, draft))
}

// SubmitJoin returns a pending handle and runs the join on the pool.
func (s *Service) SubmitJoin(ctx context.Context, account, id string) *txn.Handle {
	return s.submit(ctx, txn.JoinPool, s.joinFn(account, id))
}

func (s *Service) submit(ctx context.Context, action txn.Action, fn func(context.Context) (any, error)) *txn.Handle {
	h := s.coord.Begin(action)
	// The operation outlives the request that started it.
	runCtx := context.WithoutCancel(ctx)
	task := s.pool.Submit(func() {
		s.coord.Execute(runCtx, h, fn)
	})
	go func() {
		// Covers a stopped pool and panics; Finish ignores handles that already finished.
		if err := task.Wait(); err != nil {
			if errors.Is(err, pond.ErrPoolStopped) {
				err = fmt.Errorf("service is shutting down: %w", sentinel.ErrUnavailable)
			}
			s.logger.Error("Submitted operation did not complete",
				zap.String("tx_id", h.ID()),
				zap.String("action", action.Name),
				zap.Error(err))
			s.coord.Finish(h, nil, err)
		}
	}()
	return h
}

func (s *Service) createFn(account string, draft models.Draft) func(context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		id, err := s.mutator.Create(ctx, account, draft)
		if err != nil {
			return nil, err
		}
		s.Refresh(ctx)
		return id, nil
	}
}

func (s *Service) joinFn(account, id string) func(context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		p, err := s.mutator.Join(ctx, account, id)
		if err != nil {
			return nil, err
		}
		s.Refresh(ctx)
		return p, nil
	}
}
