package txn

import "sync"

// StatusBoard keeps the single notification a user sees. The most recent
// visible update wins; hiding an older transaction does not clear a newer
// one.
type StatusBoard struct {
	mu      sync.RWMutex
	current Update
}

// Observe is a Coordinator subscriber.
func (b *StatusBoard) Observe(u Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if u.Visible {
		b.current = u
		return
	}
	if u.TxID == b.current.TxID {
		b.current.Status = StatusIdle
		b.current.Message = ""
		b.current.Visible = false
		b.current.At = u.At
	}
}

// Current returns what is shown, or a zero idle Update.
func (b *StatusBoard) Current() Update {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.current.Visible {
		return Update{Status: StatusIdle}
	}
	return b.current
}
