package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/microinsure/poolregistry/pkg/redis"
	"github.com/microinsure/poolregistry/pkg/sentinel"
)

// RedisStore keeps ledger keys in Redis under a prefix. A write counts as
// confirmed once SET returns; Redis has no notion of user rejection.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore returns a Store backed by client. Keys are stored as prefix+key.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Read implements Store.
func (s *RedisStore) Read(ctx context.Context, key string) ([]byte, error) {
	v, ok, err := s.client.Get(ctx, s.prefix+key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w: %v", key, sentinel.ErrTransport, err)
	}
	if !ok {
		return []byte{}, nil
	}
	return v, nil
}

// Write implements Store.
func (s *RedisStore) Write(ctx context.Context, key string, value []byte) (Receipt, error) {
	if err := s.client.Set(ctx, s.prefix+key, value); err != nil {
		return Receipt{}, fmt.Errorf("write %s: %w: %v", key, sentinel.ErrTransport, err)
	}
	return Receipt{TxHash: uuid.NewString(), Key: key, ConfirmedAt: time.Now()}, nil
}

// IsAvailable implements Store.
func (s *RedisStore) IsAvailable(ctx context.Context) bool {
	return s.client.Health(ctx) == nil
}
