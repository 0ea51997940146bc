package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	replyAccount  string
	replyText     string
	replyTextFile string
	replySend     bool
	replyDryRun   bool
)

var replyCmd = &cobra.Command{
	Use:   "reply <message-id>",
	Short: "Draft a reply to a message",
	Long: `Open a draft session for a message, generate a reply, and save or
send it.

The generated draft is printed. Pass --text or --text-file to replace it
with your edited version before saving; the difference between the two is
what feeds the account's learning stats. By default the reply is saved as
a Gmail draft in the thread; --send sends it immediately and archives the
original message.

Examples:
  draftpilot reply 18c2f4a1b3d5e6f7
  draftpilot reply 18c2f4a1b3d5e6f7 --text-file reply.txt
  draftpilot reply 18c2f4a1b3d5e6f7 --send
  draftpilot reply 18c2f4a1b3d5e6f7 --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		messageID := args[0]

		mgr, s, err := newWorkflow()
		if err != nil {
			return err
		}
		defer s.Close()

		var accountArgs []string
		if replyAccount != "" {
			accountArgs = append(accountArgs, replyAccount)
		}
		accountID, err := resolveAccount(openRegistry(), accountArgs)
		if err != nil {
			return err
		}

		sess, err := mgr.OpenByID(cmd.Context(), accountID, messageID)
		if err != nil {
			return err
		}

		fmt.Printf("From:     %s\n", sess.Message.Sender)
		fmt.Printf("Subject:  %s\n", sess.Message.Subject)
		fmt.Printf("Category: %s (%s)\n", sess.Annotation.Category, sess.Annotation.Importance)
		fmt.Println()
		fmt.Println("Generated draft:")
		fmt.Println(sess.GeneratedDraft)
		fmt.Println()

		final := replyText
		if replyTextFile != "" {
			data, err := os.ReadFile(replyTextFile)
			if err != nil {
				return fmt.Errorf("read reply text: %w", err)
			}
			final = string(data)
		}
		if final != "" {
			if err := mgr.Edit(final); err != nil {
				return err
			}
		}

		if replyDryRun {
			mgr.Cancel()
			fmt.Println("Dry run: session discarded, nothing recorded.")
			return nil
		}

		if replySend {
			outcome, err := mgr.Send(cmd.Context())
			if err != nil {
				return fmt.Errorf("send reply: %w", err)
			}
			fmt.Printf("Sent (id %s).\n", outcome.SentID)
			if outcome.ArchiveErr != nil {
				fmt.Println("The original message could not be archived; it is still in the inbox.")
			} else if outcome.Archived {
				fmt.Println("Original message archived.")
			}
			return nil
		}

		draftID, err := mgr.Save(cmd.Context())
		if err != nil {
			return fmt.Errorf("save draft: %w", err)
		}
		fmt.Printf("Draft saved (id %s). Review it in Gmail before sending.\n", draftID)
		return nil
	},
}

func init() {
	replyCmd.Flags().StringVar(&replyAccount, "account", "", "Account to reply from (default: active account)")
	replyCmd.Flags().StringVar(&replyText, "text", "", "Replace the generated draft with this text")
	replyCmd.Flags().StringVar(&replyTextFile, "text-file", "", "Replace the generated draft with the contents of a file")
	replyCmd.Flags().BoolVar(&replySend, "send", false, "Send the reply immediately and archive the original")
	replyCmd.Flags().BoolVar(&replyDryRun, "dry-run", false, "Print the generated draft and discard the session")
	rootCmd.AddCommand(replyCmd)
}
