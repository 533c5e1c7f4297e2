package devledger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/microinsure/poolregistry/pkg/config"
	"github.com/microinsure/poolregistry/pkg/ledger"
	"github.com/microinsure/poolregistry/pkg/models"
	"github.com/microinsure/poolregistry/pkg/mutator"
	"github.com/microinsure/poolregistry/pkg/registry"
	"github.com/microinsure/poolregistry/pkg/sentinel"
	"github.com/microinsure/poolregistry/pkg/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type manualTimers struct {
	mu sync.Mutex
	fs []func()
}

func (m *manualTimers) AfterFunc(_ time.Duration, f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fs = append(m.fs, f)
}

func (m *manualTimers) fire() {
	m.mu.Lock()
	fs := m.fs
	m.fs = nil
	m.mu.Unlock()
	for _, f := range fs {
		f()
	}
}

func startNode(t *testing.T, opts NodeOpts) (*Node, *ledger.Memory, *ledger.HTTPClient) {
	t.Helper()
	mem := ledger.NewMemory()
	opts.Backend = mem
	opts.Logger = zaptest.NewLogger(t)
	node := NewNode(opts)
	srv := httptest.NewServer(node.NewRouter())
	t.Cleanup(srv.Close)

	client := ledger.NewHTTPWithOpts(ledger.Opts{
		Endpoints:    []string{srv.URL},
		Timeout:      2 * time.Second,
		PollInterval: 5 * time.Millisecond,
		Logger:       zaptest.NewLogger(t),
	})
	return node, mem, client
}

func TestNode_ValueVisibleOnlyAfterConfirmation(t *testing.T) {
	timers := &manualTimers{}
	_, mem, client := startNode(t, NodeOpts{AfterFunc: timers.AfterFunc})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := client.Write(ctx, "pool_keys", []byte(`["a"]`))
		done <- err
	}()

	require.Eventually(t, func() bool {
		timers.mu.Lock()
		defer timers.mu.Unlock()
		return len(timers.fs) == 1
	}, 2*time.Second, 5*time.Millisecond)

	v, err := client.Read(ctx, "pool_keys")
	require.NoError(t, err)
	assert.Empty(t, v, "pending write is not visible")
	select {
	case <-done:
		t.Fatal("write returned before confirmation")
	default:
	}

	timers.fire()
	require.NoError(t, <-done)

	v, err = client.Read(ctx, "pool_keys")
	require.NoError(t, err)
	assert.Equal(t, `["a"]`, string(v))
	stored, _ := mem.Get("pool_keys")
	assert.Equal(t, `["a"]`, string(stored))
}

func TestNode_RejectPrefix(t *testing.T) {
	_, mem, client := startNode(t, NodeOpts{RejectPrefix: "pool_"})

	_, err := client.Write(context.Background(), "pool_x", []byte(`{}`))
	assert.ErrorIs(t, err, sentinel.ErrRejected)
	assert.Empty(t, mem.Keys())
	assert.Equal(t, txn.RejectedMessage, txn.FailureMessage(txn.CreatePool, err))
}

func TestNode_BackendFailure(t *testing.T) {
	_, mem, client := startNode(t, NodeOpts{})
	mem.SetWriteHook(func(context.Context, string, []byte) error { return sentinel.ErrTransport })

	_, err := client.Write(context.Background(), "k", []byte("v"))
	assert.ErrorIs(t, err, sentinel.ErrTransport)
	assert.NotErrorIs(t, err, sentinel.ErrRejected)
}

func TestNode_Availability(t *testing.T) {
	_, mem, client := startNode(t, NodeOpts{})
	assert.True(t, client.IsAvailable(context.Background()))
	mem.SetAvailable(false)
	assert.False(t, client.IsAvailable(context.Background()))
}

func TestNode_BadRequests(t *testing.T) {
	node := NewNode(NodeOpts{Backend: ledger.NewMemory()})
	router := node.NewRouter()

	for _, path := range []string{ledger.Paths.Get, ledger.Paths.Set, ledger.Paths.TxStatus} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, ledger.Paths.TxStatus, strings.NewReader(`{"txHash":"0xnope"}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNode_Prune(t *testing.T) {
	timers := &manualTimers{}
	node := NewNode(NodeOpts{Backend: ledger.NewMemory(), AfterFunc: timers.AfterFunc})
	router := node.NewRouter()

	for _, key := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, ledger.Paths.Set, strings.NewReader(`{"key":"`+key+`","value":"eA=="}`)))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Zero(t, node.Prune(0), "pending transactions are kept")

	timers.fire()
	assert.Equal(t, 2, node.Prune(0))
}

// Full path: mutator and registry talking to the node over HTTP.
func TestNode_PoolLifecycleOverHTTP(t *testing.T) {
	_, _, client := startNode(t, NodeOpts{ConfirmDelay: 10 * time.Millisecond})
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	reg := registry.New(client, logger, nil)
	m := mutator.New(reg, logger)

	id, err := m.Create(ctx, "0xA", models.Draft{Name: "Farmers Co-op", RiskType: "Crop Failure", InitialFunds: "0.1"})
	require.NoError(t, err)
	_, err = m.Join(ctx, "0xB", id)
	require.NoError(t, err)

	pools, err := reg.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, pools, 1)
	assert.Equal(t, uint64(2), pools[0].TotalMembers)
	assert.Equal(t, "0.1", pools[0].TotalFunds.Format())
}

func TestBuild_Memory(t *testing.T) {
	app, err := Build(context.Background(), config.DevLedger{
		Addr:        "127.0.0.1:0",
		Backend:     config.BackendMemory,
		TxRetention: time.Hour,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Nil(t, app.RedisClient)
	assert.Len(t, app.Cron.Entries(), 1)
	assert.Equal(t, "127.0.0.1:0", app.Server.Addr)
}
