// Command neetlink attaches to Chrome and adds a "View NeetCode Solution"
// button to LeetCode problem pages.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"neetlink/internal/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root, _ := newRootCmd()
	err := root.ExecuteContext(ctx)
	observability.Sync()
	if err != nil && !errors.Is(err, context.Canceled) {
		os.Exit(1)
	}
}
