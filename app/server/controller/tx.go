package controller

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/microinsure/poolregistry/pkg/sentinel"
	"github.com/microinsure/poolregistry/pkg/txn"
)

const (
	defaultJournalCount = 50
	maxJournalCount     = 500
)

// HandleTx returns the state of one transaction.
func (c *Controller) HandleTx(w http.ResponseWriter, r *http.Request) {
	h, ok := c.App.Coordinator.Lookup(mux.Vars(r)["id"])
	if !ok {
		c.writeError(w, sentinel.NotFound("transaction not found"))
		return
	}
	writeJSON(w, http.StatusOK, h.Snapshot())
}

// HandleTxBoard returns the notification currently shown.
func (c *Controller) HandleTxBoard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, c.App.Board.Current())
}

// HandleTxJournal returns the latest transitions from the Redis journal.
func (c *Controller) HandleTxJournal(w http.ResponseWriter, r *http.Request) {
	if c.App.RedisClient == nil {
		c.writeError(w, errors.Join(errors.New("transaction journal requires Redis"), sentinel.ErrUnavailable))
		return
	}
	count := int64(defaultJournalCount)
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			c.writeError(w, sentinel.Validation("count must be a positive integer"))
			return
		}
		count = min(n, maxJournalCount)
	}

	entries, err := c.App.RedisClient.XRevRange(r.Context(), txn.JournalStream, count)
	if err != nil {
		c.writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		row := map[string]any{"id": e.ID}
		for k, v := range e.Values {
			row[k] = v
		}
		out = append(out, row)
	}
	writeJSON(w, http.StatusOK, out)
}
