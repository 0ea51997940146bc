package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats [email]",
	Short: "Show learning stats for an account",
	Long: `Show an account's learning ledger aggregates: how many drafts have
been reviewed, how closely the generated drafts matched what was
actually saved or sent, and whether the account has crossed the
thresholds for autonomous replies.

Examples:
  draftpilot stats
  draftpilot stats you@gmail.com`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, ledger, err := openLedger()
		if err != nil {
			return err
		}
		defer s.Close()

		accountID, err := resolveAccount(openRegistry(), args)
		if err != nil {
			return err
		}

		stats, err := ledger.StatsFor(cmd.Context(), accountID)
		if err != nil {
			return fmt.Errorf("load stats: %w", err)
		}

		fmt.Printf("Account: %s\n", accountID)
		fmt.Printf("  Reviewed drafts:      %d\n", stats.TotalEdits)
		fmt.Printf("  Average similarity:   %.3f\n", stats.AvgSimilarity)
		if stats.ReadyForAutoSend {
			fmt.Printf("  Ready for autosend:   yes")
			if !cfg.Autosend.Enabled {
				fmt.Printf(" (autosend disabled in config)")
			}
			fmt.Println()
		} else {
			fmt.Printf("  Ready for autosend:   no (needs %d samples at %.2f average)\n",
				cfg.Policy.MinSamples, cfg.Policy.MinAvgSimilarity)
		}

		dbStats, err := s.GetStats()
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}
		fmt.Printf("\nLedger: %s\n", cfg.DatabasePath())
		fmt.Printf("  Records:  %d\n", dbStats.RecordCount)
		fmt.Printf("  Accounts: %d\n", dbStats.AccountCount)
		fmt.Printf("  Size:     %.2f MB\n", float64(dbStats.DatabaseSize)/(1024*1024))

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
