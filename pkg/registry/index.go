package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/microinsure/poolregistry/pkg/ledger"
	"github.com/microinsure/poolregistry/pkg/metrics"
	"github.com/microinsure/poolregistry/pkg/models"
	"go.uber.org/zap"
)

// KeyIndex maintains pool_keys, the only way to discover which pool
// records exist. It is append-only from this client's point of view.
type KeyIndex struct {
	store   ledger.Store
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewKeyIndex returns a KeyIndex over store. m may be nil.
func NewKeyIndex(store ledger.Store, logger *zap.Logger, m *metrics.Metrics) *KeyIndex {
	return &KeyIndex{store: store, logger: logger, metrics: m}
}

// ListIDs returns the ids in index order. A missing index is an empty
// list. An index that fails to parse is also treated as empty and logged:
// the next AddID will then overwrite it with a single id.
func (k *KeyIndex) ListIDs(ctx context.Context) ([]string, error) {
	raw, err := k.store.Read(ctx, models.IndexKey)
	if err != nil {
		return nil, fmt.Errorf("list pool ids: %w", err)
	}
	if len(raw) == 0 {
		return []string{}, nil
	}
	ids, err := models.DecodeIndex(raw)
	if err != nil {
		k.metrics.IncCorrupt("index")
		k.logger.Warn("Pool index is corrupted, treating as empty",
			zap.String("key", models.IndexKey),
			zap.Int("bytes", len(raw)),
			zap.Error(err))
		return []string{}, nil
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// AddID appends id and writes the whole list back.
//
// This is a read-modify-write with no isolation: when two writers append
// concurrently, the later write replaces the index the earlier one wrote
// and that id silently drops out of listings. The ledger has no
// conditional write, so the race is surfaced in documentation only.
func (k *KeyIndex) AddID(ctx context.Context, id string) error {
	ids, err := k.ListIDs(ctx)
	if err != nil {
		return err
	}
	ids = append(ids, id)
	raw, err := models.EncodeIndex(ids)
	if err != nil {
		return fmt.Errorf("add pool id %s: %w", id, err)
	}

	started := time.Now()
	rc, err := k.store.Write(ctx, models.IndexKey, raw)
	k.metrics.ObserveWrite("index", time.Since(started))
	if err != nil {
		return fmt.Errorf("add pool id %s: %w", id, err)
	}
	k.logger.Debug("Pool id appended to index",
		zap.String("pool_id", id),
		zap.Int("index_size", len(ids)),
		zap.String("tx_hash", rc.TxHash))
	return nil
}
