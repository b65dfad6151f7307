// Package main is the collector entrypoint. All behavior lives in the cmd
// package; this file only wires up signal handling.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/seopulse/collector/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.ExecuteContext(ctx)
}
