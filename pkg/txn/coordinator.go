package txn

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/microinsure/poolregistry/pkg/metrics"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

const (
	DefaultSuccessTTL = 2 * time.Second
	DefaultErrorTTL   = 3 * time.Second
)

// Opts configures a Coordinator. Zero values take defaults.
type Opts struct {
	SuccessTTL time.Duration
	ErrorTTL   time.Duration
	// AfterFunc schedules f after d. Defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func())
	Now       func() time.Time
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Coordinator owns every handle and the subscriber list.
type Coordinator struct {
	successTTL time.Duration
	errorTTL   time.Duration
	afterFunc  func(time.Duration, func())
	now        func() time.Time
	logger     *zap.Logger
	metrics    *metrics.Metrics

	handles *xsync.Map[string, *Handle]

	// notifyMu serializes delivery so subscribers see transitions in order.
	notifyMu sync.Mutex
	subsMu   sync.RWMutex
	subs     map[int]func(Update)
	nextSub  int
}

// NewCoordinator builds a Coordinator from opts.
func NewCoordinator(opts Opts) *Coordinator {
	c := &Coordinator{
		successTTL: opts.SuccessTTL,
		errorTTL:   opts.ErrorTTL,
		afterFunc:  opts.AfterFunc,
		now:        opts.Now,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		handles:    xsync.NewMap[string, *Handle](),
		subs:       make(map[int]func(Update)),
	}
	if c.successTTL <= 0 {
		c.successTTL = DefaultSuccessTTL
	}
	if c.errorTTL <= 0 {
		c.errorTTL = DefaultErrorTTL
	}
	if c.afterFunc == nil {
		c.afterFunc = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// Subscribe registers fn for every transition. fn runs synchronously on
// the goroutine making the transition; it should return promptly and must
// not call back into the Coordinator. The returned func removes the
// subscription.
func (c *Coordinator) Subscribe(fn func(Update)) (cancel func()) {
	c.subsMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subsMu.Lock()
			delete(c.subs, id)
			c.subsMu.Unlock()
		})
	}
}

// Begin registers a new pending handle for action.
func (c *Coordinator) Begin(action Action) *Handle {
	now := c.now()
	h := &Handle{
		id:        uuid.NewString(),
		action:    action,
		done:      make(chan struct{}),
		status:    StatusPending,
		message:   action.PendingMessage,
		visible:   true,
		startedAt: now,
		updatedAt: now,
	}
	c.handles.Store(h.id, h)
	c.logger.Debug("Transaction pending", zap.String("tx_id", h.id), zap.String("action", action.Name))
	c.notify(h, StatusPending, action.PendingMessage, true, now)
	return h
}

// Finish moves h to success (err == nil) or error and schedules the
// notification to hide. Finishing a handle twice is a no-op.
func (c *Coordinator) Finish(h *Handle, result any, err error) {
	now := c.now()
	status, message, ttl := StatusSuccess, h.action.SuccessMessage, c.successTTL
	if err != nil {
		status, message, ttl = StatusError, FailureMessage(h.action, err), c.errorTTL
	}

	h.mu.Lock()
	if !h.finishedAt.IsZero() {
		h.mu.Unlock()
		return
	}
	h.status = status
	h.message = message
	h.result = result
	h.err = err
	h.updatedAt = now
	h.finishedAt = now
	h.mu.Unlock()
	close(h.done)

	c.metrics.ObserveTx(h.action.Name, string(status))
	if err != nil {
		c.logger.Warn("Transaction failed",
			zap.String("tx_id", h.id),
			zap.String("action", h.action.Name),
			zap.Error(err))
	} else {
		c.logger.Info("Transaction succeeded",
			zap.String("tx_id", h.id),
			zap.String("action", h.action.Name))
	}
	c.notify(h, status, message, true, now)
	c.afterFunc(ttl, func() { c.hide(h, status) })
}

// Run begins action, runs fn and finishes with its outcome. It returns
// once fn returned.
func (c *Coordinator) Run(ctx context.Context, action Action, fn func(ctx context.Context) (any, error)) *Handle {
	h := c.Begin(action)
	c.Execute(ctx, h, fn)
	return h
}

// Execute runs fn for an already begun handle and finishes it.
func (c *Coordinator) Execute(ctx context.Context, h *Handle, fn func(ctx context.Context) (any, error)) {
	result, err := fn(ctx)
	c.Finish(h, result, err)
}

// Lookup returns the handle with id.
func (c *Coordinator) Lookup(id string) (*Handle, bool) {
	return c.handles.Load(id)
}

// Prune forgets handles that finished more than olderThan ago and
// returns how many were removed. Pending handles are kept.
func (c *Coordinator) Prune(olderThan time.Duration) int {
	cutoff := c.now().Add(-olderThan)
	removed := 0
	c.handles.Range(func(id string, h *Handle) bool {
		if h.finishedBefore(cutoff) {
			c.handles.Delete(id)
			removed++
		}
		return true
	})
	if removed > 0 {
		c.logger.Debug("Pruned finished transactions", zap.Int("count", removed))
	}
	return removed
}

func (c *Coordinator) hide(h *Handle, from Status) {
	now := c.now()
	h.mu.Lock()
	h.status = StatusIdle
	h.visible = false
	h.updatedAt = now
	h.mu.Unlock()

	c.notify(h, StatusIdle, "", false, now)
	if from == StatusSuccess && h.action.OnDismiss != nil {
		h.action.OnDismiss()
	}
}

func (c *Coordinator) notify(h *Handle, status Status, message string, visible bool, at time.Time) {
	u := Update{
		TxID:    h.id,
		Action:  h.action.Name,
		Status:  status,
		Message: message,
		Visible: visible,
		At:      at,
	}

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.subsMu.RLock()
	fns := make([]func(Update), 0, len(c.subs))
	for _, id := range slices.Sorted(maps.Keys(c.subs)) {
		fns = append(fns, c.subs[id])
	}
	c.subsMu.RUnlock()
	for _, fn := range fns {
		fn(u)
	}
}
