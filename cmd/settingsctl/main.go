// Command settingsctl inspects and edits a settings store: values, profiles,
// backups, migrations and remote profile updates.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		pterm.Error.Println(err)
		stop()
		os.Exit(1)
	}
}
