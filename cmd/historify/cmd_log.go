package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	logFile     string
	logCategory string
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Print change log rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepo(false, func(repo *repoT) error {
			logs, err := repo.Store.List()
			if err != nil {
				return err
			}
			var targets []string
			if logFile != "" {
				matched := false
				for _, l := range logs {
					if l.Name == logFile || l.Path == logFile {
						targets = append(targets, l.Path)
						matched = true
					}
				}
				if !matched {
					return fmt.Errorf("no such log file %q", logFile)
				}
			} else {
				for _, l := range logs {
					targets = append(targets, l.Path)
				}
			}
			for _, path := range targets {
				events, err := repo.Store.ReadAll(path)
				if err != nil {
					return err
				}
				if logCategory != "" {
					filtered := events[:0]
					for _, e := range events {
						if e.Category == "" || e.Category == logCategory {
							filtered = append(filtered, e)
						}
					}
					events = filtered
				}
				printEvents(events)
			}
			return nil
		})
	},
}

func init() {
	logCmd.Flags().StringVar(&logFile, "file", "", "one log file name, default all")
	logCmd.Flags().StringVar(&logCategory, "category", "", "limit rows to this category")
	rootCmd.AddCommand(logCmd)
}
