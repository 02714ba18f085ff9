// Package main is the entry point for authserverd, the standalone
// authorization server process.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/meridianid/authserver/cmd/authserverd/app"
	"github.com/meridianid/authserver/internal/obs/log"
)

func main() {
	log.Initialize()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	if err := app.NewRootCmd().ExecuteContext(ctx); err != nil {
		log.Errorw("command failed", "error", err)
		os.Exit(1)
	}
}
