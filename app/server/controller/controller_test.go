package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/microinsure/poolregistry/app/server/types"
	"github.com/microinsure/poolregistry/pkg/config"
	"github.com/microinsure/poolregistry/pkg/ledger"
	"github.com/microinsure/poolregistry/pkg/mutator"
	"github.com/microinsure/poolregistry/pkg/pools"
	"github.com/microinsure/poolregistry/pkg/registry"
	"github.com/microinsure/poolregistry/pkg/sentinel"
	"github.com/microinsure/poolregistry/pkg/txn"
	"github.com/microinsure/poolregistry/pkg/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testAccount = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

type testEnv struct {
	app    *types.App
	mem    *ledger.Memory
	server *httptest.Server
	token  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)
	mem := ledger.NewMemory()
	reg := registry.New(mem, logger, nil)
	coord := txn.NewCoordinator(txn.Opts{AfterFunc: func(time.Duration, func()) {}, Logger: logger})
	board := &txn.StatusBoard{}
	coord.Subscribe(board.Observe)
	svc := pools.NewService(pools.Config{
		Registry:    reg,
		Mutator:     mutator.New(reg, logger),
		Coordinator: coord,
		Logger:      logger,
	})
	t.Cleanup(svc.Close)

	app := &types.App{
		Config:      config.Server{CORSOrigin: "*"},
		Store:       mem,
		Pools:       svc,
		Coordinator: coord,
		Board:       board,
		Sessions:    wallet.NewSessions([]byte("0123456789abcdef"), time.Hour),
		Logger:      logger,
	}
	router, err := NewController(app).NewRouter()
	require.NoError(t, err)
	srv := httptest.NewServer(WithCORS("*", router))
	t.Cleanup(srv.Close)

	token, _, err := app.Sessions.Issue(testAccount)
	require.NoError(t, err)
	return &testEnv{app: app, mem: mem, server: srv, token: token}
}

func (e *testEnv) do(t *testing.T, method, path, body string, auth bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *testEnv) waitTx(t *testing.T, id string) txn.Snapshot {
	t.Helper()
	h, ok := e.app.Coordinator.Lookup(id)
	require.True(t, ok)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case <-h.Done():
	case <-ctx.Done():
		t.Fatal("transaction did not finish")
	}
	return h.Snapshot()
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/api/health", "", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	env.mem.SetAvailable(false)
	resp = env.do(t, http.MethodGet, "/api/health", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSession(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/session", `{"account":"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"}`, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[sessionResponse](t, resp)
	assert.Equal(t, testAccount, body.Account)

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == wallet.CookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	resp = env.do(t, http.MethodPost, "/api/session", `{"account":"0xA"}`, false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/session", `{"wallet":"x"}`, false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "unknown fields are rejected")
}

func TestCreateRequiresWallet(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/api/pools", `{"name":"x"}`, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, map[string]string{"error": "Please connect wallet first"}, decode[map[string]string](t, resp))
	assert.Empty(t, env.mem.Keys())
}

func TestCreateListJoinFlow(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/pools", `{"name":"Farmers Co-op","riskType":"Crop Failure","initialFunds":"0.1"}`, true)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	sub := decode[submitResponse](t, resp)
	assert.Equal(t, "/api/tx/"+sub.TxID, resp.Header.Get("Location"))

	snap := env.waitTx(t, sub.TxID)
	require.Equal(t, txn.StatusSuccess, snap.Status, snap.Message)
	assert.Equal(t, txn.CreatePool.SuccessMessage, snap.Message)
	id, ok := snap.Result.(string)
	require.True(t, ok)

	resp = env.do(t, http.MethodGet, "/api/pools", "", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]map[string]any](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0]["id"])
	assert.Equal(t, "100000000000000000", list[0]["totalFunds"])
	assert.Equal(t, "0.1", list[0]["totalFundsDisplay"])
	assert.Equal(t, testAccount, list[0]["createdBy"])
	assert.EqualValues(t, 1, list[0]["totalMembers"])

	resp = env.do(t, http.MethodPost, "/api/pools/"+id+"/join", "", true)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	sub = decode[submitResponse](t, resp)
	assert.Equal(t, txn.StatusSuccess, env.waitTx(t, sub.TxID).Status)

	resp = env.do(t, http.MethodGet, "/api/pools/"+id, "", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, decode[map[string]any](t, resp)["totalMembers"])

	resp = env.do(t, http.MethodGet, "/api/tx/"+sub.TxID, "", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", decode[map[string]any](t, resp)["status"])

	resp = env.do(t, http.MethodGet, "/api/stats", "", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[pools.Stats](t, resp)
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 1, st.CropFailure)

	resp = env.do(t, http.MethodGet, "/api/pools?q=weather", "", false)
	assert.Empty(t, decode[[]map[string]any](t, resp))
}

func TestCreateInvalidDraftFailsTheTransaction(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/api/pools", `{"name":"  ","riskType":"Crop Failure"}`, true)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	sub := decode[submitResponse](t, resp)

	snap := env.waitTx(t, sub.TxID)
	assert.Equal(t, txn.StatusError, snap.Status)
	assert.Equal(t, "Creation failed: pool name is required", snap.Message)
	assert.Empty(t, env.mem.Keys())
}

func TestJoinUnknownPool(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/api/pools/nope/join", "", true)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	sub := decode[submitResponse](t, resp)

	snap := env.waitTx(t, sub.TxID)
	assert.Equal(t, "Join failed: pool not found", snap.Message)

	resp = env.do(t, http.MethodGet, "/api/tx/status", "", false)
	board := decode[txn.Update](t, resp)
	assert.Equal(t, sub.TxID, board.TxID)
	assert.Equal(t, txn.StatusError, board.Status)
}

func TestReadErrors(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/pools/missing", "", false)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/tx/missing", "", false)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/tx/journal", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	env.mem.SetAvailable(false)
	resp = env.do(t, http.MethodGet, "/api/pools", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	req, err := http.NewRequest(http.MethodOptions, env.server.URL+"/api/pools", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{sentinel.Validation("bad"), http.StatusBadRequest},
		{sentinel.NotFound("gone"), http.StatusNotFound},
		{fmt.Errorf("load: %w", sentinel.ErrUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("load: %w", sentinel.ErrTransport), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorStatus(tt.err), tt.err.Error())
	}
}

func TestWebSocketStreamsLocalUpdates(t *testing.T) {
	env := newTestEnv(t)
	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(ClientMessage{Action: "subscribe", TxID: "*"}))
	var msg ServerMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "subscribed", msg.Type)

	resp := env.do(t, http.MethodPost, "/api/pools", `{"name":"Clinic","riskType":"Health Emergency"}`, true)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	sub := decode[submitResponse](t, resp)

	var statuses []string
	for len(statuses) < 2 {
		var raw struct {
			Type    string     `json:"type"`
			Payload txn.Update `json:"payload"`
		}
		require.NoError(t, conn.ReadJSON(&raw))
		require.Equal(t, "tx.update", raw.Type)
		assert.Equal(t, sub.TxID, raw.Payload.TxID)
		statuses = append(statuses, string(raw.Payload.Status))
	}
	assert.Equal(t, []string{"pending", "success"}, statuses)
}

func TestWebSocketRejectsEmptyTxID(t *testing.T) {
	env := newTestEnv(t)
	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(ClientMessage{Action: "subscribe"}))
	var msg ServerMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)
}

func TestCalculateNextBackoff(t *testing.T) {
	for i := 0; i < 10; i++ {
		got := calculateNextBackoff(time.Second, 30*time.Second, 2, 0.1)
		assert.GreaterOrEqual(t, got, 1800*time.Millisecond)
		assert.LessOrEqual(t, got, 2200*time.Millisecond)
	}
	assert.Equal(t, 30*time.Second, calculateNextBackoff(20*time.Second, 30*time.Second, 2, 0))
	assert.Equal(t, 10*time.Second, calculateNextBackoff(5*time.Second, 30*time.Second, 2, 0))
}

