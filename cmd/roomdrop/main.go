// Roomdrop sends files directly between two machines. The sender creates a
// room on the relay, the receiver joins it, and files travel over a WebRTC
// data channel.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/BioHazard786/roomdrop/internal/ui"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}
