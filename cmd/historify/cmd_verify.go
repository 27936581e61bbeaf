package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kwinsch/historify"
)

var (
	verifyFullChain bool
	verifyRebuild   bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify signatures and chain continuity",
	RunE: func(cmd *cobra.Command, args []string) error {
		if verifyRebuild {
			return withRepo(true, func(repo *repoT) error {
				recon, err := repo.State.Reconstruct()
				if err != nil {
					return err
				}
				if err := repo.Index.Rebuild(recon); err != nil {
					return err
				}
				fmt.Println("integrity index rebuilt")
				return nil
			})
		}
		return withRepo(false, func(repo *repoT) error {
			ctx := context.Background()
			var report historify.Report
			var err error
			if verifyFullChain {
				var cats []historify.Category
				cats, err = repo.Categories()
				if err != nil {
					return err
				}
				report, err = repo.Verify.VerifyFullChain(ctx, cats, true)
			} else {
				report, err = repo.Verify.VerifyDefault(ctx)
			}
			if err != nil {
				return err
			}
			printReport(report)
			if report.IndexRebuilt {
				fmt.Println("integrity index rebuilt")
			}
			return report.Err()
		})
	},
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyFullChain, "full-chain", false, "verify every closed log and recheck current file integrity")
	verifyCmd.Flags().BoolVar(&verifyRebuild, "rebuild", false, "force a rebuild of the integrity index instead of verifying")
	rootCmd.AddCommand(verifyCmd)
}
