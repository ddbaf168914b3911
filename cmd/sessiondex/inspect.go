package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	inspectAgent      string
	inspectExternalID string
)

func init() {
	inspectCmd.Flags().StringVar(&inspectAgent, "agent", "", "agent slug (required)")
	inspectCmd.Flags().StringVar(&inspectExternalID, "external-id", "", "connector-assigned conversation id (required)")
	_ = inspectCmd.MarkFlagRequired("agent")
	_ = inspectCmd.MarkFlagRequired("external-id")
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print one conversation in full, in the normalized model",
	Long: `inspect reads back a single conversation and its messages, in order,
with any attached code snippets.

Examples:
  sessiondex inspect --agent codex --external-id rollout-abc123`,
	Args: cobra.NoArgs,
	RunE: runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	app, log, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	conv, err := app.Inspect(commandContext(log), inspectAgent, inspectExternalID)
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}

	fmt.Printf("title:       %s\n", conv.Title)
	fmt.Printf("agent:       %s\n", conv.AgentSlug)
	fmt.Printf("external id: %s\n", conv.ExternalID)
	if conv.Workspace != nil {
		fmt.Printf("workspace:   %s\n", conv.Workspace.Path)
	}
	fmt.Printf("started:     %s\n", time.UnixMilli(conv.StartedAt).Format(time.RFC3339))
	if conv.EndedAt > 0 {
		fmt.Printf("ended:       %s\n", time.UnixMilli(conv.EndedAt).Format(time.RFC3339))
	}
	fmt.Println()

	for _, msg := range conv.Messages {
		fmt.Printf("--- [%d] %s (%s) ---\n", msg.Idx, msg.Role, time.UnixMilli(msg.CreatedAt).Format(time.RFC3339))
		fmt.Println(msg.Content)
		for _, snip := range msg.Snippets {
			fmt.Printf("    %s:%d-%d\n", snip.Path, snip.LineStart, snip.LineEnd)
		}
	}
	return nil
}
