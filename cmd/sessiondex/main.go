// Package main implements the sessiondex CLI: index, watch, query, and
// inspect over the local conversation-history corpus.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	dataDir    string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sessiondex",
	Short: "Unified search over local coding-assistant conversation histories",
	Long: `sessiondex ingests conversation histories from local coding-assistant
tools (Codex CLI, Claude Code, Gemini CLI, Cline, OpenCode, Amp) into a
single searchable corpus, and serves free-text queries with structured
filters against it.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default ~/.config/sessiondex/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override the configured data directory")
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(inspectCmd)
}
