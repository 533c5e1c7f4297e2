package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/microinsure/poolregistry/app/devledger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	devledger.Initialize(ctx).Start(ctx)
}
