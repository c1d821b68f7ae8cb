// Command memkeep is the command-line front end of the memory pipeline:
// provenance-gated ingestion, hybrid retrieval with decay-aware ranking,
// the review queue, and the background janitor.
//
// All logging goes to stderr; command results go to stdout.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
