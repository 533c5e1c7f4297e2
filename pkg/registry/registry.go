package registry

import (
	"context"
	"fmt"
	"sort"

	"github.com/microinsure/poolregistry/pkg/ledger"
	"github.com/microinsure/poolregistry/pkg/metrics"
	"github.com/microinsure/poolregistry/pkg/models"
	"github.com/microinsure/poolregistry/pkg/sentinel"
	"go.uber.org/zap"
)

// Registry resolves pool ids to records. Listing is derived client-side
// from the index because the ledger has no query operation.
type Registry struct {
	store   ledger.Store
	index   *KeyIndex
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New returns a Registry over store. m may be nil.
func New(store ledger.Store, logger *zap.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		store:   store,
		index:   NewKeyIndex(store, logger, m),
		logger:  logger,
		metrics: m,
	}
}

// Index returns the KeyIndex the registry lists from.
func (r *Registry) Index() *KeyIndex { return r.index }

// Store returns the underlying ledger store.
func (r *Registry) Store() ledger.Store { return r.store }

// LoadOne reads pool_<id>. It reports ok=false when the key is empty or
// the value does not parse; a parse failure is logged, not returned.
// Only transport failures produce an error.
func (r *Registry) LoadOne(ctx context.Context, id string) (models.PoolRecord, bool, error) {
	raw, err := r.store.Read(ctx, models.PoolKey(id))
	if err != nil {
		return models.PoolRecord{}, false, fmt.Errorf("load pool %s: %w", id, err)
	}
	if len(raw) == 0 {
		return models.PoolRecord{}, false, nil
	}
	p, err := models.DecodePool(id, raw)
	if err != nil {
		r.metrics.IncCorrupt("pool")
		r.logger.Warn("Skipping unreadable pool record",
			zap.String("pool_id", id),
			zap.Error(err))
		return models.PoolRecord{}, false, nil
	}
	return p, true, nil
}

// LoadAll lists every pool reachable from the index, newest first.
//
// Each id is loaded independently: a missing, corrupted or unreadable
// record is logged and skipped so it cannot break the listing. Only an
// unavailable ledger, an unreadable index or a cancelled ctx fail the call.
// Records with equal CreatedAt keep index order. Repeated ids are listed once.
func (r *Registry) LoadAll(ctx context.Context) ([]models.PoolRecord, error) {
	if !r.store.IsAvailable(ctx) {
		return nil, fmt.Errorf("load pools: %w", sentinel.ErrUnavailable)
	}
	ids, err := r.index.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pools: %w", err)
	}

	seen := make(map[string]struct{}, len(ids))
	out := make([]models.PoolRecord, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("load pools: %w", err)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		p, ok, err := r.LoadOne(ctx, id)
		if err != nil {
			r.logger.Warn("Failed to load pool, skipping",
				zap.String("pool_id", id),
				zap.Error(err))
			continue
		}
		if !ok {
			r.logger.Debug("Pool id has no readable record", zap.String("pool_id", id))
			continue
		}
		out = append(out, p)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	r.metrics.SetPoolsListed(len(out))
	return out, nil
}
