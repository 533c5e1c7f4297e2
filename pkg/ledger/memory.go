package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/microinsure/poolregistry/pkg/sentinel"
	"github.com/puzpuzpuz/xsync/v4"
)

// Memory is an in-process Store. Writes confirm immediately.
// Hooks let tests and the dev ledger inject failures or pause operations.
type Memory struct {
	data *xsync.Map[string, []byte]
	down atomic.Bool

	mu        sync.RWMutex
	readHook  func(ctx context.Context, key string) error
	writeHook func(ctx context.Context, key string, value []byte) error
}

// NewMemory returns an empty, available store.
func NewMemory() *Memory {
	return &Memory{data: xsync.NewMap[string, []byte]()}
}

// Read implements Store.
func (m *Memory) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w: %v", key, sentinel.ErrTransport, err)
	}
	if m.down.Load() {
		return nil, fmt.Errorf("read %s: %w: %w", key, sentinel.ErrTransport, sentinel.ErrUnavailable)
	}
	m.mu.RLock()
	hook := m.readHook
	m.mu.RUnlock()
	if hook != nil {
		if err := hook(ctx, key); err != nil {
			return nil, err
		}
	}
	v, ok := m.data.Load(key)
	if !ok {
		return []byte{}, nil
	}
	return clone(v), nil
}

// Write implements Store.
func (m *Memory) Write(ctx context.Context, key string, value []byte) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, fmt.Errorf("write %s: %w: %v", key, sentinel.ErrTransport, err)
	}
	if m.down.Load() {
		return Receipt{}, fmt.Errorf("write %s: %w: %w", key, sentinel.ErrTransport, sentinel.ErrUnavailable)
	}
	m.mu.RLock()
	hook := m.writeHook
	m.mu.RUnlock()
	if hook != nil {
		if err := hook(ctx, key, value); err != nil {
			return Receipt{}, err
		}
	}
	m.data.Store(key, clone(value))
	return Receipt{TxHash: uuid.NewString(), Key: key, ConfirmedAt: time.Now()}, nil
}

// IsAvailable implements Store.
func (m *Memory) IsAvailable(context.Context) bool { return !m.down.Load() }

// SetAvailable toggles the liveness probe; while down, reads and writes fail.
func (m *Memory) SetAvailable(up bool) { m.down.Store(!up) }

// SetReadHook installs a function run before every read. A non-nil error
// is returned to the caller as-is.
func (m *Memory) SetReadHook(h func(ctx context.Context, key string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readHook = h
}

// SetWriteHook installs a function run before every write is applied.
func (m *Memory) SetWriteHook(h func(ctx context.Context, key string, value []byte) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeHook = h
}

// Put stores a value directly, bypassing hooks. Used to seed fixtures.
func (m *Memory) Put(key string, value []byte) { m.data.Store(key, clone(value)) }

// Get returns the stored value without hooks, for inspection.
func (m *Memory) Get(key string) ([]byte, bool) {
	v, ok := m.data.Load(key)
	return clone(v), ok
}

// Keys returns all keys in lexical order.
func (m *Memory) Keys() []string {
	keys := make([]string, 0, m.data.Size())
	m.data.Range(func(k string, _ []byte) bool {
		keys = append(keys, k)
		return true
	})
	sort.Strings(keys)
	return keys
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
