package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var scanCategories []string

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan categories for changes and append them to the open log",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepo(true, func(repo *repoT) error {
			results, err := repo.Scan(context.Background(), scanCategories)
			if err != nil {
				return err
			}
			total := 0
			for cat, events := range results {
				fmt.Printf("%s: %d change(s)\n", cat, len(events))
				total += len(events)
			}
			if total == 0 {
				fmt.Println("no changes")
			}
			return nil
		})
	},
}

func init() {
	scanCmd.Flags().StringSliceVar(&scanCategories, "category", nil, "limit to this category (repeatable), default all")
	rootCmd.AddCommand(scanCmd)
}
