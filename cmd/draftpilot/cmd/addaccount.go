package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/whall/draftpilot/internal/registry"
)

var (
	headless    bool
	forceReauth bool
)

var addAccountCmd = &cobra.Command{
	Use:   "add-account <email>",
	Short: "Connect a Gmail account via OAuth",
	Long: `Connect a Gmail account by completing the OAuth2 authorization flow
and registering it with draftpilot.

By default, opens a browser for authorization. Use --headless for the
device flow on machines without a browser.

If a token already exists, the command skips authorization and just
registers the account. Use --force to delete the existing token and
re-authorize (useful when a token has expired or been revoked).

Examples:
  draftpilot add-account you@gmail.com
  draftpilot add-account you@gmail.com --headless
  draftpilot add-account you@gmail.com --force`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email := args[0]

		oauthMgr, err := newOAuthManager()
		if err != nil {
			return err
		}

		if forceReauth && oauthMgr.HasToken(email) {
			fmt.Printf("Removing existing token for %s...\n", email)
			if err := oauthMgr.DeleteToken(email); err != nil {
				return fmt.Errorf("delete existing token: %w", err)
			}
		}

		if !oauthMgr.HasToken(email) {
			if headless {
				fmt.Println("Starting device authorization...")
			} else {
				fmt.Println("Starting browser authorization...")
			}
			if err := oauthMgr.Authorize(cmd.Context(), email, headless); err != nil {
				return fmt.Errorf("authorization failed: %w", err)
			}
		} else {
			fmt.Printf("Account %s is already authorized.\n", email)
		}

		expiry, err := oauthMgr.TokenExpiry(email)
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}

		reg := openRegistry()
		if err := reg.Add(registry.Account{Email: email, CredentialExpiry: expiry}); err != nil {
			return fmt.Errorf("register account: %w", err)
		}

		fmt.Printf("\nAccount %s connected (%d of %d slots used).\n", email, reg.Len(), registry.DefaultMaxAccounts)
		fmt.Println("Next step: draftpilot triage", email)
		return nil
	},
}

func init() {
	addAccountCmd.Flags().BoolVar(&headless, "headless", false, "Use the device flow instead of a browser")
	addAccountCmd.Flags().BoolVar(&forceReauth, "force", false, "Delete existing token and re-authorize")
	rootCmd.AddCommand(addAccountCmd)
}
