// Package ledger is the boundary to the external key-value ledger.
//
// The ledger offers single-key reads and value-replacing writes only: no
// compare-and-swap, no conditional write, no multi-key transaction. Callers
// performing read-modify-write sequences on top of Store get last-write-wins
// semantics per key, across every client of the same ledger. Nothing in this
// package adds locking, since no client-side lock would hold across other
// writers.
package ledger

import (
	"context"
	"time"
)

// Store is the capability the registry and mutator consume.
type Store interface {
	// Read returns the current value of key, or empty bytes if the key was
	// never written. Errors are reserved for transport/availability failure.
	Read(ctx context.Context, key string) ([]byte, error)
	// Write replaces the value of key and returns once the ledger confirmed
	// it. A user rejection wraps sentinel.ErrRejected; anything else wraps
	// sentinel.ErrTransport. A write is never retried by this package.
	Write(ctx context.Context, key string, value []byte) (Receipt, error)
	// IsAvailable is a liveness probe.
	IsAvailable(ctx context.Context) bool
}

// Receipt describes a confirmed write.
type Receipt struct {
	TxHash      string    `json:"txHash"`
	Key         string    `json:"key"`
	ConfirmedAt time.Time `json:"confirmedAt"`
}
