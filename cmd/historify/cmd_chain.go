package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// startCmd bootstraps or advances the chain. "start" and "closing" are
// aliases for the same underlying operation: on an empty chain it
// bootstraps from the signed seed; otherwise it signs the current open log
// and opens a new one.
var startCmd = &cobra.Command{
	Use:     "start",
	Aliases: []string{"closing"},
	Short:   "Bootstrap the chain, or close the open log and open a new one",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepo(true, func(repo *repoT) error {
			ctx := context.Background()
			logs, err := repo.Store.List()
			if err != nil {
				return err
			}
			cats, err := repo.Categories()
			if err != nil {
				return err
			}
			if len(logs) == 0 {
				if err := repo.Chain.Bootstrap(ctx); err != nil {
					return err
				}
				fmt.Println("chain bootstrapped")
				return nil
			}
			if err := repo.Chain.CloseAndOpen(ctx, cats); err != nil {
				return err
			}
			fmt.Println("log closed and a new one opened")
			return nil
		})
	},
}

func init() { rootCmd.AddCommand(startCmd) }
