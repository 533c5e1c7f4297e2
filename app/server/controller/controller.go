package controller

import (
	"errors"
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"github.com/microinsure/poolregistry/app/server/types"
	"github.com/microinsure/poolregistry/pkg/sentinel"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Controller struct {
	App *types.App
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	return &Controller{
		App: app,
	}
}

// NewRouter returns a new router with all the routes defined in this package.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	r.Handle("/api/health", http.HandlerFunc(c.HandleHealth)).Methods("GET")
	r.Handle("/api/session", http.HandlerFunc(c.HandleSession)).Methods("POST")
	r.Handle("/api/session", http.HandlerFunc(c.HandleLogout)).Methods("DELETE")

	r.HandleFunc("/api/pools", c.HandlePools).Methods("GET")
	r.HandleFunc("/api/pools/{id}", c.HandlePool).Methods("GET")
	r.Handle("/api/pools", c.RequireAccount(http.HandlerFunc(c.HandleCreatePool))).Methods("POST")
	r.Handle("/api/pools/{id}/join", c.RequireAccount(http.HandlerFunc(c.HandleJoinPool))).Methods("POST")
	r.HandleFunc("/api/stats", c.HandleStats).Methods("GET")

	r.HandleFunc("/api/tx/status", c.HandleTxBoard).Methods("GET")
	r.HandleFunc("/api/tx/journal", c.HandleTxJournal).Methods("GET")
	r.HandleFunc("/api/tx/{id}", c.HandleTx).Methods("GET")
	r.HandleFunc("/api/ws", c.HandleWebSocket).Methods("GET")

	if c.App.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(c.App.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	return r, nil
}

// WithCORS is a middleware that adds CORS headers to the response.
// allowed "*" echoes the request origin so cookies work from any origin.
func WithCORS(allowed string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case origin != "" && (allowed == "*" || allowed == origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		case origin == "":
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodPost+", "+http.MethodDelete+", "+http.MethodOptions)

		// Fast-path the preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (c *Controller) writeError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		c.App.Logger.Error("Request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// errorStatus maps the error taxonomy to HTTP for synchronous reads.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, sentinel.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, sentinel.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, sentinel.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, sentinel.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
