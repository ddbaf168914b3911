package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var indexFull bool

func init() {
	indexCmd.Flags().BoolVar(&indexFull, "full", false, "truncate the full-text index and rescan every connector from scratch")
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Run an indexer pass across every enabled connector",
	Long: `index drives a full or incremental pass across every enabled connector,
writing normalized conversations into storage and mirroring new messages
into the full-text index.

Examples:
  # Incremental pass: resume each connector from its own cursor
  sessiondex index

  # Full pass: rebuild the full-text index and rescan everything
  sessiondex index --full`,
	Args: cobra.NoArgs,
	RunE: runIndex,
}

func runIndex(cmd *cobra.Command, args []string) error {
	app, log, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	res, err := app.Index(commandContext(log), indexFull)
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}

	fmt.Printf("conversations written: %d\n", res.ConversationsWritten)
	fmt.Printf("messages written: %d\n", res.MessagesWritten)
	return nil
}
