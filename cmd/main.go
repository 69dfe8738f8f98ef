package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Execute(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "spotify-mcp: %v\n", err)
		stop()
		os.Exit(1)
	}
}
