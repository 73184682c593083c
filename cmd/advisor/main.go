// advisor is the command line front end of the rail conflict advisor
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"rail-conflict-advisor/internal/cli"
	adverrors "rail-conflict-advisor/internal/errors"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cli.NewCLI().Execute(ctx); err != nil {
		_, _ = color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		if adverrors.IsValidationError(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
