package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var triageCmd = &cobra.Command{
	Use:   "triage [email]",
	Short: "Fetch and categorize the inbox",
	Long: `Fetch recent inbox messages for an account and run each one through
the rule chain. The listing shows the message ID to pass to 'draftpilot
reply' and the suggested action per message.

With no email argument the active account is used.

Examples:
  draftpilot triage
  draftpilot triage you@gmail.com`,
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

		if len(items) == 0 {
			fmt.Println("Inbox is empty for the current triage window.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tFROM\tSUBJECT\tCATEGORY\tIMPORTANCE\tACTION")
		for _, item := range items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				item.Message.ID,
				truncate(item.Message.Sender, 24),
				truncate(item.Message.Subject, 40),
				item.Annotation.Category,
				item.Annotation.Importance,
				item.Annotation.AutoAction,
			)
		}
		w.Flush()
		fmt.Printf("\n%d message(s)\n", len(items))
		return nil
	},
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func init() {
	rootCmd.AddCommand(triageCmd)
}
