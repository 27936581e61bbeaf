package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var duplicatesCategory string

var duplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "Report files currently sharing a blake3 digest",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepo(false, func(repo *repoT) error {
			groups, err := repo.Duplicates(duplicatesCategory)
			if err != nil {
				return err
			}
			if len(groups) == 0 {
				fmt.Println("no duplicates")
				return nil
			}
			for _, g := range groups {
				fmt.Printf("%s\n", g.Blake3)
				for _, p := range g.Paths {
					fmt.Printf("  %s\n", p)
				}
			}
			return nil
		})
	},
}

func init() {
	duplicatesCmd.Flags().StringVar(&duplicatesCategory, "category", "", "limit to this category")
	rootCmd.AddCommand(duplicatesCmd)
}
