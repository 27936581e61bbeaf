package main

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize tracked categories and the chain's last closing link",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepo(false, func(repo *repoT) error {
			st, err := repo.Status()
			if err != nil {
				return err
			}
			printStatus(st)
			return nil
		})
	},
}

func init() { rootCmd.AddCommand(statusCmd) }
