package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/microinsure/poolregistry/pkg/retry"
	"github.com/microinsure/poolregistry/pkg/sentinel"
	"github.com/microinsure/poolregistry/pkg/utils"
	"go.uber.org/zap"
)

// HTTPClient is a Store talking JSON to one or more ledger nodes. It
// implements a circuit-breaker per endpoint and a token-bucket across them.
type HTTPClient struct {
	endpoints []string
	client    *http.Client
	logger    *zap.Logger

	readRetry    retry.Config
	pollInterval time.Duration

	// token-bucket
	tokens      int64
	maxTokens   int64
	refillEvery time.Duration
	lastRefill  atomic.Value // time.Time

	// circuit-breaker
	mu       sync.Mutex
	failures map[string]int
	opened   map[string]time.Time

	breakerThreshold int
	breakerCooldown  time.Duration
}

// Opts is the set of options for a new HTTPClient.
type Opts struct {
	Endpoints       []string
	Timeout         time.Duration
	RPS             int
	Burst           int
	BreakerFailures int
	BreakerCooldown time.Duration
	// PollInterval is how often a submitted write's status is polled.
	PollInterval time.Duration
	// ReadRetry governs read retries; zero value means retry.DefaultConfig.
	ReadRetry  retry.Config
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// NewHTTPWithOpts creates a new HTTPClient with the given options.
func NewHTTPWithOpts(o Opts) *HTTPClient {
	if o.RPS <= 0 {
		o.RPS = 20
	}
	if o.Burst <= 0 {
		o.Burst = 40
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.BreakerFailures <= 0 {
		o.BreakerFailures = 3
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 5 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.ReadRetry.MaxRetries <= 0 {
		o.ReadRetry = retry.DefaultConfig()
	}
	if o.ReadRetry.Retryable == nil {
		o.ReadRetry.Retryable = isRetryable
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}

	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	} else if client.Timeout == 0 {
		client.Timeout = o.Timeout
	}

	c := &HTTPClient{
		endpoints:        utils.Dedup(o.Endpoints),
		client:           client,
		logger:           o.Logger,
		readRetry:        o.ReadRetry,
		pollInterval:     o.PollInterval,
		maxTokens:        int64(o.Burst),
		refillEvery:      time.Second / time.Duration(o.RPS),
		failures:         map[string]int{},
		opened:           map[string]time.Time{},
		breakerThreshold: o.BreakerFailures,
		breakerCooldown:  o.BreakerCooldown,
	}
	c.tokens = c.maxTokens
	c.lastRefill.Store(time.Now())
	return c
}

// Read implements Store. Reads are idempotent and retried with backoff.
func (c *HTTPClient) Read(ctx context.Context, key string) ([]byte, error) {
	var resp GetResponse
	err := retry.WithBackoff(ctx, c.readRetry, c.logger, "ledger read "+key, func() error {
		resp = GetResponse{}
		return c.doJSON(ctx, http.MethodPost, getPath, GetRequest{Key: key}, &resp, true)
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w: %v", key, sentinel.ErrTransport, err)
	}
	if resp.Value == nil {
		return []byte{}, nil
	}
	return resp.Value, nil
}

// Write implements Store. The submission goes to a single endpoint and is
// never retried, so a lost acknowledgement cannot turn into a second write.
// It then polls until the node reports the transaction confirmed or
// rejected. There is no timeout beyond ctx.
func (c *HTTPClient) Write(ctx context.Context, key string, value []byte) (Receipt, error) {
	var sub SetResponse
	if err := c.doJSON(ctx, http.MethodPost, setPath, SetRequest{Key: key, Value: value}, &sub, false); err != nil {
		return Receipt{}, fmt.Errorf("submit %s: %w: %v", key, sentinel.ErrTransport, err)
	}
	if sub.TxHash == "" {
		return Receipt{}, fmt.Errorf("submit %s: %w: empty tx hash", key, sentinel.ErrTransport)
	}
	c.logger.Debug("Ledger write submitted", zap.String("key", key), zap.String("tx_hash", sub.TxHash))

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		var st TxResponse
		if err := c.doJSON(ctx, http.MethodPost, txStatusPath, TxRequest{TxHash: sub.TxHash}, &st, true); err != nil {
			// A status poll failure says nothing about the write itself; keep polling.
			c.logger.Warn("Ledger tx status poll failed",
				zap.String("tx_hash", sub.TxHash),
				zap.Error(err))
		} else {
			switch st.Status {
			case TxConfirmed:
				at := time.Now()
				if st.ConfirmedAt > 0 {
					at = time.UnixMilli(st.ConfirmedAt)
				}
				return Receipt{TxHash: sub.TxHash, Key: key, ConfirmedAt: at}, nil
			case TxRejected:
				return Receipt{}, fmt.Errorf("write %s: %w", key, rejection(st.Error))
			case TxFailed:
				return Receipt{}, fmt.Errorf("write %s: %w: %s", key, sentinel.ErrTransport, st.Error)
			}
		}

		select {
		case <-ctx.Done():
			return Receipt{}, fmt.Errorf("write %s: %w: %v", key, sentinel.ErrTransport, ctx.Err())
		case <-ticker.C:
		}
	}
}

// IsAvailable implements Store.
func (c *HTTPClient) IsAvailable(ctx context.Context) bool {
	var resp AvailableResponse
	if err := c.doJSON(ctx, http.MethodGet, availablePath, nil, &resp, true); err != nil {
		c.logger.Warn("Ledger availability probe failed", zap.Error(err))
		return false
	}
	return resp.Available
}

func rejection(msg string) error {
	if msg == "" || msg == sentinel.ErrRejected.Error() {
		return sentinel.ErrRejected
	}
	return fmt.Errorf("%w: %s", sentinel.ErrRejected, msg)
}

// statusError is a non-2xx answer from a node.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	if e.code >= 500 {
		return fmt.Sprintf("server %d", e.code)
	}
	return fmt.Sprintf("http %d", e.code)
}

// isRetryable keeps 4xx answers and cancellations from being retried.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	return true
}

// refill refills the token-bucket with new tokens if necessary.
func (c *HTTPClient) refill() {
	last := c.lastRefill.Load().(time.Time)
	now := time.Now()
	if now.Sub(last) >= c.refillEvery {
		if atomic.LoadInt64(&c.tokens) < c.maxTokens {
			atomic.AddInt64(&c.tokens, 1)
		}
		c.lastRefill.Store(now)
	}
}

// acquire takes a token from the bucket, waiting if necessary.
func (c *HTTPClient) acquire(ctx context.Context) error {
	for {
		c.refill()
		if atomic.AddInt64(&c.tokens, -1) >= 0 {
			return nil
		}
		atomic.AddInt64(&c.tokens, 1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.refillEvery / 2):
		}
	}
}

// isOpen returns true if the endpoint's breaker is OPEN.
func (c *HTTPClient) isOpen(ep string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.opened[ep]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(c.opened, ep)
		c.failures[ep] = 0
		return false
	}
	return true
}

// noteFailure counts a failure and opens the breaker at the threshold.
func (c *HTTPClient) noteFailure(ep string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[ep]++
	if c.failures[ep] >= c.breakerThreshold {
		c.opened[ep] = time.Now().Add(c.breakerCooldown)
		c.logger.Warn("Ledger endpoint breaker opened",
			zap.String("endpoint", ep),
			zap.Duration("cooldown", c.breakerCooldown))
	}
}

func (c *HTTPClient) noteSuccess(ep string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[ep] = 0
}

// doJSON sends a JSON request to the first endpoint whose breaker is closed.
// With failover it moves on to the next endpoint after a transport or 5xx
// failure; without it only one attempt is made.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, payload any, out any, failover bool) error {
	if len(c.endpoints) == 0 {
		return fmt.Errorf("no endpoints configured")
	}

	var b []byte
	if payload != nil {
		var mErr error
		if b, mErr = json.Marshal(payload); mErr != nil {
			return mErr
		}
	}

	lastErr := fmt.Errorf("all endpoints unavailable")
	for _, ep := range c.endpoints {
		if c.isOpen(ep) {
			continue
		}
		if err := c.acquire(ctx); err != nil {
			return err
		}

		req, reqErr := http.NewRequestWithContext(ctx, method, ep+path, bytes.NewReader(b))
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			c.noteFailure(ep)
			if !failover || ctx.Err() != nil {
				return lastErr
			}
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = &statusError{code: resp.StatusCode}
			c.noteFailure(ep)
			_ = utils.DrainAndClose(resp.Body)
			if !failover {
				return lastErr
			}
			continue
		}
		if resp.StatusCode >= 300 {
			_ = utils.DrainAndClose(resp.Body)
			return &statusError{code: resp.StatusCode}
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				_ = utils.DrainAndClose(resp.Body)
				return fmt.Errorf("decode %s: %w", path, err)
			}
		}
		c.noteSuccess(ep)
		return utils.DrainAndClose(resp.Body)
	}

	return lastErr
}
