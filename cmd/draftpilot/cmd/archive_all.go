package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/whall/draftpilot/internal/triage"
)

var archiveOnlySuggested bool

var archiveAllCmd = &cobra.Command{
	Use:   "archive-all [email]",
	Short: "Archive messages in the current triage window",
	Long: `Archive inbox messages by removing the INBOX label. Messages are
never deleted and stay reachable in All Mail.

By default every message in the triage window is archived. With
--suggested, only messages the rule chain marked for archiving are
touched.

Examples:
  draftpilot archive-all
  draftpilot archive-all you@gmail.com --suggested`,
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

		items, err := mgr.LoadInbox(cmd.Context(), accountID, listFilter())
		if err != nil {
			return fmt.Errorf("load inbox: %w", err)
		}

		var ids []string
		for _, item := range items {
			if archiveOnlySuggested && item.Annotation.AutoAction != triage.ActionArchive {
				continue
			}
			ids = append(ids, item.Message.ID)
		}
		if len(ids) == 0 {
			fmt.Println("Nothing to archive.")
			return nil
		}

		result, err := mgr.ArchiveAll(cmd.Context(), accountID, ids)
		if err != nil {
			return err
		}
		fmt.Printf("Archived %d message(s), %d failed.\n", result.Archived, result.Failed)
		return nil
	},
}

func init() {
	archiveAllCmd.Flags().BoolVar(&archiveOnlySuggested, "suggested", false, "Only archive messages the rule chain marked for archiving")
	rootCmd.AddCommand(archiveAllCmd)
}
