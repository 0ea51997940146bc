package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep [email]",
	Short: "Run one triage sweep over the inbox",
	Long: `Run a single unattended sweep for an account: fetch the triage
window, archive what the rule chain marks for archiving, and skip the
rest.

If [autosend] is enabled in config and the account's learning stats have
crossed the readiness thresholds, messages marked for response get a
generated reply sent automatically. Messages already answered in a
previous sweep are skipped.

This is the same pass the 'serve' daemon runs on a schedule.

Examples:
  draftpilot sweep
  draftpilot sweep you@gmail.com`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, s, err := newWorkflow()
		if err != nil {
			return err
		}
		defer s.Close()

		accountID, err := resolveAccount(openRegistry(), args)
		if err != nil {
			return err
		}

		result, err := mgr.Sweep(cmd.Context(), accountID)
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}

		fmt.Printf("Sweep complete for %s:\n", accountID)
		fmt.Printf("  Scanned:   %d\n", result.Scanned)
		fmt.Printf("  Archived:  %d\n", result.Archived)
		fmt.Printf("  Responded: %d\n", result.Responded)
		fmt.Printf("  Skipped:   %d\n", result.Skipped)
		fmt.Printf("  Failed:    %d\n", result.Failed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
