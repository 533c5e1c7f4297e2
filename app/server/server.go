package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/microinsure/poolregistry/app/server/controller"
	"github.com/microinsure/poolregistry/app/server/types"
)

// NewServer builds the HTTP server for app.
func NewServer(app *types.App) error {
	ctler := controller.NewController(app)
	router, err := ctler.NewRouter()
	if err != nil {
		return err
	}

	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := app.Config.Addr

	app.Server = &http.Server{Addr: addr, Handler: controller.WithCORS(app.Config.CORSOrigin, router)}
	app.Logger.Info("Starting server", zap.String("addr", addr))

	return nil
}
