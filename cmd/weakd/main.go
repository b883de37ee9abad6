// Command weakd runs and operates nodes of a weakly consistent replicated chain.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/weakchain/weak/internal/wcmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := wcmd.NewRootCommand(os.Stderr).ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
