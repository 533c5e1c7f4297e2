// Package mutator creates pools and records joins.
//
// Both operations are plain read-modify-write sequences against the
// ledger. There is no lock and no conditional write: two joins that read
// the same record both write N+1, and a crash between the record write and
// the index append leaves a record no listing will find.
package mutator

import (
	"context"
	"fmt"
	"time"

	"github.com/microinsure/poolregistry/pkg/ledger"
	"github.com/microinsure/poolregistry/pkg/metrics"
	"github.com/microinsure/poolregistry/pkg/models"
	"github.com/microinsure/poolregistry/pkg/registry"
	"github.com/microinsure/poolregistry/pkg/sentinel"
	"github.com/microinsure/poolregistry/pkg/terms"
	"go.uber.org/zap"
)

// Mutator writes pool records and the index.
type Mutator struct {
	registry *registry.Registry
	store    ledger.Store
	sealer   terms.Sealer
	logger   *zap.Logger
	metrics  *metrics.Metrics

	now   func() time.Time
	newID IDFunc
}

// Option customizes a Mutator.
type Option func(*Mutator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Mutator) { m.now = now }
}

// WithIDFunc replaces NewID.
func WithIDFunc(f IDFunc) Option {
	return func(m *Mutator) { m.newID = f }
}

// WithSealer replaces the placeholder terms sealer.
func WithSealer(s terms.Sealer) Option {
	return func(m *Mutator) { m.sealer = s }
}

// WithMetrics records write latency on m.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Mutator) { m.metrics = mt }
}

// New returns a Mutator writing through reg's store.
func New(reg *registry.Registry, logger *zap.Logger, opts ...Option) *Mutator {
	m := &Mutator{
		registry: reg,
		store:    reg.Store(),
		sealer:   terms.Placeholder{},
		logger:   logger,
		now:      time.Now,
		newID:    NewID,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create writes a new pool owned by account and registers it in the index.
// The founder counts as the first member and InitialFunds become the pool
// balance. Returns the new id.
//
// The record is written before the index. If the index append fails the
// returned error names the orphaned id; nothing rolls the record back.
func (m *Mutator) Create(ctx context.Context, account string, draft models.Draft) (string, error) {
	if err := requireAccount(account); err != nil {
		return "", err
	}
	valid, err := draft.Validate()
	if err != nil {
		return "", err
	}
	if !m.store.IsAvailable(ctx) {
		return "", fmt.Errorf("create pool: %w", sentinel.ErrUnavailable)
	}

	sealed, err := m.sealer.Seal(terms.Default())
	if err != nil {
		return "", fmt.Errorf("create pool: %w", err)
	}
	now := m.now()
	id, err := m.newID(now)
	if err != nil {
		return "", fmt.Errorf("create pool: generate id: %w", err)
	}

	p := models.PoolRecord{
		ID:             id,
		Name:           valid.Name,
		RiskType:       valid.RiskType,
		TotalMembers:   1,
		TotalFunds:     valid.InitialFunds,
		CreatedBy:      account,
		CreatedAt:      now.Unix(),
		EncryptedTerms: sealed,
	}
	if err := m.writePool(ctx, p); err != nil {
		return "", fmt.Errorf("create pool: %w", err)
	}
	if err := m.registry.Index().AddID(ctx, id); err != nil {
		m.logger.Error("Pool record written but not indexed",
			zap.String("pool_id", id),
			zap.Error(err))
		return "", fmt.Errorf("create pool: record %s written but not indexed: %w", id, err)
	}

	m.logger.Info("Pool created",
		zap.String("pool_id", id),
		zap.String("risk_type", string(p.RiskType)),
		zap.String("created_by", account),
		zap.String("initial_funds", p.TotalFunds.String()))
	return id, nil
}

// Join adds one member to pool id and returns the record as written.
// No funds move; fields this client does not know about are kept.
func (m *Mutator) Join(ctx context.Context, account, id string) (models.PoolRecord, error) {
	if err := requireAccount(account); err != nil {
		return models.PoolRecord{}, err
	}
	if !m.store.IsAvailable(ctx) {
		return models.PoolRecord{}, fmt.Errorf("join pool: %w", sentinel.ErrUnavailable)
	}

	p, ok, err := m.registry.LoadOne(ctx, id)
	if err != nil {
		return models.PoolRecord{}, fmt.Errorf("join pool: %w", err)
	}
	if !ok {
		return models.PoolRecord{}, sentinel.NotFound("pool not found")
	}

	p.TotalMembers++
	if err := m.writePool(ctx, p); err != nil {
		return models.PoolRecord{}, fmt.Errorf("join pool: %w", err)
	}

	m.logger.Info("Pool joined",
		zap.String("pool_id", id),
		zap.String("account", account),
		zap.Uint64("total_members", p.TotalMembers))
	return p, nil
}

func (m *Mutator) writePool(ctx context.Context, p models.PoolRecord) error {
	raw, err := models.EncodePool(p)
	if err != nil {
		return err
	}
	started := time.Now()
	rc, err := m.store.Write(ctx, models.PoolKey(p.ID), raw)
	m.metrics.ObserveWrite("pool", time.Since(started))
	if err != nil {
		return err
	}
	m.logger.Debug("Pool record written",
		zap.String("pool_id", p.ID),
		zap.String("tx_hash", rc.TxHash))
	return nil
}

func requireAccount(account string) error {
	if account == "" {
		return sentinel.Validation("wallet not connected")
	}
	return nil
}
