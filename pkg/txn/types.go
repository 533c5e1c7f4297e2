// Package txn tracks user-initiated pool operations through
// pending → success | error and fans each transition out to subscribers.
//
// Notifications are time-boxed: a success hides after SuccessTTL and an
// error after ErrorTTL. There is no cancel state and no retry; a handle
// whose operation never returns stays pending.
package txn

import (
	"context"
	"sync"
	"time"
)

// Status of a transaction as presented to the user.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Action describes the messages shown for one kind of operation.
type Action struct {
	Name           string
	PendingMessage string
	SuccessMessage string
	FailurePrefix  string
	// OnDismiss runs once the success notification hides.
	OnDismiss func()
}

// Update is one status transition.
type Update struct {
	TxID    string    `json:"txId"`
	Action  string    `json:"action"`
	Status  Status    `json:"status"`
	Message string    `json:"message"`
	Visible bool      `json:"visible"`
	At      time.Time `json:"at"`
}

// Snapshot is the current state of a handle.
type Snapshot struct {
	TxID      string    `json:"txId"`
	Action    string    `json:"action"`
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	Visible   bool      `json:"visible"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Handle follows one operation.
type Handle struct {
	id     string
	action Action
	done   chan struct{}

	mu         sync.Mutex
	status     Status
	message    string
	visible    bool
	result     any
	err        error
	startedAt  time.Time
	updatedAt  time.Time
	finishedAt time.Time
}

// ID returns the handle's UUID.
func (h *Handle) ID() string { return h.id }

// Done is closed when the operation finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the operation finished or ctx ends, and returns the
// operation's error.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result returns the value the operation produced, nil until success.
func (h *Handle) Result() any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// Snapshot copies the current state.
func (h *Handle) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := Snapshot{
		TxID:      h.id,
		Action:    h.action.Name,
		Status:    h.status,
		Message:   h.message,
		Visible:   h.visible,
		Result:    h.result,
		StartedAt: h.startedAt,
		UpdatedAt: h.updatedAt,
	}
	if h.err != nil {
		s.Error = h.err.Error()
	}
	return s
}

func (h *Handle) finishedBefore(t time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.finishedAt.IsZero() && h.finishedAt.Before(t)
}
