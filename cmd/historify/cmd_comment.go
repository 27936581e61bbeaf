package main

import (
	"strings"

	"github.com/spf13/cobra"
)

var commentCmd = &cobra.Command{
	Use:   "comment MESSAGE...",
	Short: "Append an administrative comment to the open log",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepo(true, func(repo *repoT) error {
			return repo.Comment(strings.Join(args, " "))
		})
	},
}

func init() { rootCmd.AddCommand(commentCmd) }
