package controller

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/microinsure/poolregistry/pkg/models"
	"github.com/microinsure/poolregistry/pkg/sentinel"
	"github.com/microinsure/poolregistry/pkg/txn"
	"github.com/microinsure/poolregistry/pkg/utils"
)

// PoolView is a pool as returned by the API.
type PoolView struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	RiskType          models.RiskType `json:"riskType"`
	TotalMembers      uint64          `json:"totalMembers"`
	TotalFunds        models.Amount   `json:"totalFunds"`
	TotalFundsDisplay string          `json:"totalFundsDisplay"`
	CreatedBy         string          `json:"createdBy"`
	CreatedAt         int64           `json:"createdAt"`
	EncryptedTerms    string          `json:"encryptedTerms"`
}

func toView(p models.PoolRecord) PoolView {
	return PoolView{
		ID:                p.ID,
		Name:              p.Name,
		RiskType:          p.RiskType,
		TotalMembers:      p.TotalMembers,
		TotalFunds:        p.TotalFunds,
		TotalFundsDisplay: p.TotalFunds.Format(),
		CreatedBy:         p.CreatedBy,
		CreatedAt:         p.CreatedAt,
		EncryptedTerms:    p.EncryptedTerms,
	}
}

type submitResponse struct {
	TxID    string     `json:"txId"`
	Status  txn.Status `json:"status"`
	Message string     `json:"message"`
}

// HandlePools lists pools, newest first, optionally filtered by ?q=.
func (c *Controller) HandlePools(w http.ResponseWriter, r *http.Request) {
	list, err := c.App.Pools.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		c.writeError(w, err)
		return
	}
	out := make([]PoolView, 0, len(list))
	for _, p := range list {
		out = append(out, toView(p))
	}
	writeJSON(w, http.StatusOK, out)
}

// HandlePool returns one pool.
func (c *Controller) HandlePool(w http.ResponseWriter, r *http.Request) {
	p, err := c.App.Pools.GetPool(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(p))
}

// HandleStats returns pool counts from the last listing.
func (c *Controller) HandleStats(w http.ResponseWriter, r *http.Request) {
	st, err := c.App.Pools.Stats(r.Context())
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleCreatePool submits a create and answers 202 with the transaction id.
// Input problems surface as the transaction's error, like any other failure.
func (c *Controller) HandleCreatePool(w http.ResponseWriter, r *http.Request) {
	account, err := accountFrom(r.Context())
	if err != nil {
		c.writeError(w, err)
		return
	}
	draft := models.DefaultDraft()
	if err := utils.DecodeJSONBody(w, r, &draft); err != nil {
		c.writeError(w, sentinel.Validation(err.Error()))
		return
	}
	h := c.App.Pools.SubmitCreate(r.Context(), account, draft)
	writeSubmitted(w, h)
}

// HandleJoinPool submits a join for the connected account.
func (c *Controller) HandleJoinPool(w http.ResponseWriter, r *http.Request) {
	account, err := accountFrom(r.Context())
	if err != nil {
		c.writeError(w, err)
		return
	}
	h := c.App.Pools.SubmitJoin(r.Context(), account, mux.Vars(r)["id"])
	writeSubmitted(w, h)
}

func writeSubmitted(w http.ResponseWriter, h *txn.Handle) {
	snap := h.Snapshot()
	w.Header().Set("Location", "/api/tx/"+snap.TxID)
	writeJSON(w, http.StatusAccepted, submitResponse{TxID: snap.TxID, Status: snap.Status, Message: snap.Message})
}
