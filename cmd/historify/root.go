package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kwinsch/historify"
	"github.com/kwinsch/historify/internal/xlog"
)

var (
	repoPath string
	verbose  bool
	log      xlog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "historify",
	Short:         "Tamper-evident audit trail for file trees",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log = xlog.New(xlog.Options{Debug: verbose})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&repoPath, "repo", ".", "repository root")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug-level logging")
}

// Execute runs the CLI and returns the process exit code, mapping any
// returned error through its ErrorKind per spec.md §6's exit code table.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "historify:", err)
		return historify.KindOf(err).ExitCode()
	}
	return 0
}
