package devledger

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/microinsure/poolregistry/pkg/ledger"
	"github.com/microinsure/poolregistry/pkg/utils"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

const rejectedByUser = "user rejected transaction"

// Node serves the ledger wire protocol over a Store. Writes are held
// pending for a confirmation delay and only then applied, so readers see
// the old value until the transaction confirms.
type Node struct {
	backend      ledger.Store
	delay        time.Duration
	rejectPrefix string
	afterFunc    func(time.Duration, func())
	logger       *zap.Logger

	txs *xsync.Map[string, *nodeTx]
}

type nodeTx struct {
	mu          sync.Mutex
	resp        ledger.TxResponse
	submittedAt time.Time
}

func (t *nodeTx) snapshot() ledger.TxResponse {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resp
}

func (t *nodeTx) settle(status ledger.TxStatus, errMsg string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resp.Status = status
	t.resp.Error = errMsg
	if status == ledger.TxConfirmed {
		t.resp.ConfirmedAt = at.UnixMilli()
	}
}

// NodeOpts configures a Node.
type NodeOpts struct {
	Backend ledger.Store
	// ConfirmDelay is how long a write stays pending.
	ConfirmDelay time.Duration
	// RejectPrefix makes writes to matching keys end as user-rejected.
	RejectPrefix string
	AfterFunc    func(time.Duration, func())
	Logger       *zap.Logger
}

// NewNode returns a Node over opts.Backend.
func NewNode(opts NodeOpts) *Node {
	n := &Node{
		backend:      opts.Backend,
		delay:        opts.ConfirmDelay,
		rejectPrefix: opts.RejectPrefix,
		afterFunc:    opts.AfterFunc,
		logger:       opts.Logger,
		txs:          xsync.NewMap[string, *nodeTx](),
	}
	if n.afterFunc == nil {
		n.afterFunc = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	if n.logger == nil {
		n.logger = zap.NewNop()
	}
	return n
}

// NewRouter mounts the ledger routes.
func (n *Node) NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(ledger.Paths.Get, n.HandleGet).Methods("POST")
	r.HandleFunc(ledger.Paths.Set, n.HandleSet).Methods("POST")
	r.HandleFunc(ledger.Paths.TxStatus, n.HandleTxStatus).Methods("POST")
	r.HandleFunc(ledger.Paths.Available, n.HandleAvailable).Methods("GET")
	return r
}

// HandleGet returns the confirmed value of a key.
func (n *Node) HandleGet(w http.ResponseWriter, r *http.Request) {
	var req ledger.GetRequest
	if err := utils.DecodeJSONBody(w, r, &req); err != nil || req.Key == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "key is required"})
		return
	}
	v, err := n.backend.Read(r.Context(), req.Key)
	if err != nil {
		n.logger.Warn("Backend read failed", zap.String("key", req.Key), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ledger.GetResponse{Value: v})
}

// HandleSet accepts a write and answers with its transaction hash.
func (n *Node) HandleSet(w http.ResponseWriter, r *http.Request) {
	var req ledger.SetRequest
	if err := utils.DecodeJSONBody(w, r, &req); err != nil || req.Key == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "key is required"})
		return
	}

	hash := "0x" + strings.ReplaceAll(uuid.NewString(), "-", "")
	tx := &nodeTx{
		resp:        ledger.TxResponse{TxHash: hash, Key: req.Key, Status: ledger.TxPending},
		submittedAt: time.Now(),
	}
	n.txs.Store(hash, tx)
	n.logger.Debug("Write submitted", zap.String("key", req.Key), zap.String("tx_hash", hash))

	value := req.Value
	n.afterFunc(n.delay, func() { n.confirm(tx, req.Key, value) })
	writeJSON(w, http.StatusOK, ledger.SetResponse{TxHash: hash})
}

func (n *Node) confirm(tx *nodeTx, key string, value []byte) {
	if n.rejectPrefix != "" && strings.HasPrefix(key, n.rejectPrefix) {
		tx.settle(ledger.TxRejected, rejectedByUser, time.Now())
		n.logger.Info("Write rejected", zap.String("key", key))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := n.backend.Write(ctx, key, value); err != nil {
		tx.settle(ledger.TxFailed, err.Error(), time.Now())
		n.logger.Warn("Write failed", zap.String("key", key), zap.Error(err))
		return
	}
	tx.settle(ledger.TxConfirmed, "", time.Now())
	n.logger.Debug("Write confirmed", zap.String("key", key))
}

// HandleTxStatus reports a submitted write.
func (n *Node) HandleTxStatus(w http.ResponseWriter, r *http.Request) {
	var req ledger.TxRequest
	if err := utils.DecodeJSONBody(w, r, &req); err != nil || req.TxHash == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "txHash is required"})
		return
	}
	tx, ok := n.txs.Load(req.TxHash)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown transaction"})
		return
	}
	writeJSON(w, http.StatusOK, tx.snapshot())
}

// HandleAvailable answers the liveness probe.
func (n *Node) HandleAvailable(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ledger.AvailableResponse{Available: n.backend.IsAvailable(r.Context())})
}

// Prune forgets settled transactions submitted more than olderThan ago.
func (n *Node) Prune(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	n.txs.Range(func(hash string, tx *nodeTx) bool {
		if tx.snapshot().Status != ledger.TxPending && tx.submittedAt.Before(cutoff) {
			n.txs.Delete(hash)
			removed++
		}
		return true
	})
	return removed
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
