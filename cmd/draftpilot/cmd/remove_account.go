package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var removeKeepToken bool

var removeAccountCmd = &cobra.Command{
	Use:   "remove-account <email>",
	Short: "Disconnect a Gmail account",
	Long: `Disconnect an account from draftpilot.

Removes the account from the registry and deletes its OAuth token. The
learning ledger keeps the account's records; reconnecting the same
address later resumes from its accumulated stats.

Examples:
  draftpilot remove-account you@gmail.com
  draftpilot remove-account you@gmail.com --keep-token`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email := args[0]

		reg := openRegistry()
		if err := reg.Remove(email); err != nil {
			return err
		}

		if !removeKeepToken {
			oauthMgr, err := newOAuthManager()
			if err == nil {
				if err := oauthMgr.DeleteToken(email); err != nil {
					logger.Warn("failed to delete token", "email", email, "error", err)
				}
			}
		}

		fmt.Printf("Account %s removed.\n", email)
		return nil
	},
}

func init() {
	removeAccountCmd.Flags().BoolVar(&removeKeepToken, "keep-token", false, "Keep the OAuth token on disk")
	rootCmd.AddCommand(removeAccountCmd)
}
