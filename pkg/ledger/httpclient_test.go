package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/microinsure/poolregistry/pkg/retry"
	"github.com/microinsure/poolregistry/pkg/sentinel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeNode is a minimal ledger node: writes confirm after pendingPolls polls.
type fakeNode struct {
	mu           sync.Mutex
	data         map[string][]byte
	txs          map[string]*TxResponse
	pendingPolls int
	polls        map[string]int
	reject       string
	sets         atomic.Int32
	available    bool
}

func newFakeNode() *fakeNode {
	return &fakeNode{data: map[string][]byte{}, txs: map[string]*TxResponse{}, polls: map[string]int{}, available: true}
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch r.URL.Path {
	case getPath:
		var req GetRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(GetResponse{Value: n.data[req.Key]})
	case setPath:
		var req SetRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		n.sets.Add(1)
		hash := "tx-" + req.Key
		tx := &TxResponse{TxHash: hash, Key: req.Key, Status: TxPending}
		if req.Key == n.reject {
			tx.Status = TxRejected
			tx.Error = "user rejected transaction"
		}
		n.txs[hash] = tx
		if tx.Status == TxPending && n.pendingPolls == 0 {
			tx.Status = TxConfirmed
			n.data[req.Key] = req.Value
		} else if tx.Status == TxPending {
			n.data["__pending_"+hash] = req.Value
		}
		_ = json.NewEncoder(w).Encode(SetResponse{TxHash: hash})
	case txStatusPath:
		var req TxRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		tx, ok := n.txs[req.TxHash]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		n.polls[req.TxHash]++
		if tx.Status == TxPending && n.polls[req.TxHash] > n.pendingPolls {
			tx.Status = TxConfirmed
			tx.ConfirmedAt = time.Now().UnixMilli()
			n.data[tx.Key] = n.data["__pending_"+req.TxHash]
		}
		_ = json.NewEncoder(w).Encode(tx)
	case availablePath:
		_ = json.NewEncoder(w).Encode(AvailableResponse{Available: n.available})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, endpoints ...string) *HTTPClient {
	return NewHTTPWithOpts(Opts{
		Endpoints:    endpoints,
		PollInterval: 5 * time.Millisecond,
		ReadRetry:    retry.Config{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
		Logger:       zaptest.NewLogger(t),
	})
}

func TestHTTPClient_ReadAbsentIsEmpty(t *testing.T) {
	server := httptest.NewServer(newFakeNode())
	defer server.Close()

	v, err := newTestClient(t, server.URL).Read(context.Background(), "pool_keys")
	require.NoError(t, err)
	assert.NotNil(t, v)
	assert.Empty(t, v)
}

func TestHTTPClient_WriteWaitsForConfirmation(t *testing.T) {
	node := newFakeNode()
	node.pendingPolls = 2
	server := httptest.NewServer(node)
	defer server.Close()

	c := newTestClient(t, server.URL)
	ctx := context.Background()

	rc, err := c.Write(ctx, "pool_1", []byte(`{"name":"a"}`))
	require.NoError(t, err)
	assert.Equal(t, "tx-pool_1", rc.TxHash)
	assert.False(t, rc.ConfirmedAt.IsZero())

	node.mu.Lock()
	assert.Equal(t, 3, node.polls["tx-pool_1"])
	node.mu.Unlock()

	v, err := c.Read(ctx, "pool_1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"a"}`, string(v))
}

func TestHTTPClient_WriteRejected(t *testing.T) {
	node := newFakeNode()
	node.reject = "pool_x"
	server := httptest.NewServer(node)
	defer server.Close()

	_, err := newTestClient(t, server.URL).Write(context.Background(), "pool_x", []byte("{}"))
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel.ErrRejected)
	assert.Contains(t, err.Error(), "user rejected transaction")
}

func TestHTTPClient_WriteIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()
	healthy := newFakeNode()
	backup := httptest.NewServer(healthy)
	defer backup.Close()

	_, err := newTestClient(t, server.URL, backup.URL).Write(context.Background(), "k", []byte("v"))
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel.ErrTransport)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(0), healthy.sets.Load(), "submission must not fail over")
}

func TestHTTPClient_WriteHonoursContext(t *testing.T) {
	node := newFakeNode()
	node.pendingPolls = 1 << 30
	server := httptest.NewServer(node)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := newTestClient(t, server.URL).Write(ctx, "k", []byte("v"))
	assert.ErrorIs(t, err, sentinel.ErrTransport)
}

func TestHTTPClient_ReadFailsOverAndOpensBreaker(t *testing.T) {
	var badCalls atomic.Int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		badCalls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	node := newFakeNode()
	node.data["k"] = []byte("v")
	good := httptest.NewServer(node)
	defer good.Close()

	c := NewHTTPWithOpts(Opts{
		Endpoints:       []string{bad.URL, good.URL},
		BreakerFailures: 2,
		BreakerCooldown: time.Minute,
		Logger:          zaptest.NewLogger(t),
	})

	for i := 0; i < 4; i++ {
		v, err := c.Read(context.Background(), "k")
		require.NoError(t, err)
		assert.Equal(t, "v", string(v))
	}
	assert.Equal(t, int32(2), badCalls.Load(), "breaker should stop traffic to the failing endpoint")
}

func TestHTTPClient_ReadDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).Read(context.Background(), "k")
	assert.ErrorIs(t, err, sentinel.ErrTransport)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPClient_IsAvailable(t *testing.T) {
	node := newFakeNode()
	server := httptest.NewServer(node)
	defer server.Close()
	c := newTestClient(t, server.URL)

	assert.True(t, c.IsAvailable(context.Background()))
	node.mu.Lock()
	node.available = false
	node.mu.Unlock()
	assert.False(t, c.IsAvailable(context.Background()))

	assert.False(t, newTestClient(t).IsAvailable(context.Background()), "no endpoints")
}
