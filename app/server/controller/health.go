package controller

import (
	"net/http"
)

func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !c.App.Store.IsAvailable(ctx) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "errored", "error": "ledger unavailable"})
		return
	}

	if c.App.RedisClient != nil {
		if err := c.App.RedisClient.Health(ctx); err != nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "degraded", "error": "redis unreachable"})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
