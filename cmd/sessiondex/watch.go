package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch every enabled connector's roots and reindex on change",
	Long: `watch runs the filesystem watcher until interrupted (SIGINT/SIGTERM),
triggering a targeted reindex of whichever connector owns a changed path
after a short debounce window.

Examples:
  sessiondex watch
  sessiondex watch --data-dir /tmp/sessiondex`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	app, log, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithCancel(commandContext(log))
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "sessiondex: received %v, shutting down\n", sig)
		cancel()
	}()

	fmt.Fprintln(os.Stderr, "sessiondex: watching for changes, press Ctrl+C to stop")
	if err := app.Watch(ctx); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	return nil
}
