package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kwinsch/historify"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a new repository at --repo",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := historify.Init(repoPath); err != nil {
			return err
		}
		fmt.Println("initialized repository at", repoPath)
		fmt.Println("sign db/seed.bin with your external signer before running `historify start`")
		return nil
	},
}

func init() { rootCmd.AddCommand(initCmd) }
