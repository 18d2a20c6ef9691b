package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/taskforge/internal/cmd"
	"github.com/felixgeelhaar/taskforge/internal/exitcode"
)

func main() {
	os.Exit(run())
}

// run executes the command tree and returns the process exit code. Deferred
// cleanup in commands (hook draining, journal close) finishes before exit.
func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cmd.ExecuteContext(ctx)
	switch {
	case err == nil:
		return exitcode.Success
	case ctx.Err() != nil:
		fmt.Fprintln(os.Stderr, "\ninterrupted")
		return exitcode.Interrupted
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return exitcode.DetermineExitCode(err)
}
