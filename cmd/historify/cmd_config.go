package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config KEY VALUE",
	Short: "Set a recognized configuration key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepo(true, func(repo *repoT) error {
			return repo.SetConfig(args[0], args[1])
		})
	},
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the repository's configuration without changing it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepo(false, func(repo *repoT) error {
			cats, err := repo.Categories()
			if err != nil {
				return err
			}
			algos, err := repo.Config.HashAlgorithms()
			if err != nil {
				return err
			}
			fmt.Printf("categories: %d\n", len(cats))
			for _, c := range cats {
				fmt.Printf("  %s -> %s\n", c.Name, c.Root)
			}
			fmt.Printf("hash.algorithms: %v\n", algos)
			return nil
		})
	},
}

var addCategoryCmd = &cobra.Command{
	Use:   "add-category NAME PATH",
	Short: "Register a new category",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepo(true, func(repo *repoT) error {
			return repo.AddCategory(args[0], args[1], "")
		})
	},
}

func init() {
	rootCmd.AddCommand(configCmd, checkConfigCmd, addCategoryCmd)
}
