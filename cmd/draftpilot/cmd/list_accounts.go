package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var listAccountsJSON bool

var listAccountsCmd = &cobra.Command{
	Use:   "list-accounts",
	Short: "List connected Gmail accounts",
	Long: `List all accounts registered with draftpilot.

Examples:
  draftpilot list-accounts
  draftpilot list-accounts --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := openRegistry()
		accounts := reg.List()

		if len(accounts) == 0 {
			fmt.Println("No accounts found. Use 'draftpilot add-account <email>' to add one.")
			return nil
		}

		active, _ := reg.Active()
		now := time.Now()

		if listAccountsJSON {
			output := make([]map[string]interface{}, len(accounts))
			for i, acc := range accounts {
				output[i] = map[string]interface{}{
					"email":   acc.Email,
					"active":  acc.ID == active.ID,
					"expired": acc.Expired(now),
				}
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(output)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "EMAIL\tACTIVE\tCREDENTIAL")
		fmt.Fprintln(w, "─────\t──────\t──────────")
		for _, acc := range accounts {
			activeMark := ""
			if acc.ID == active.ID {
				activeMark = "*"
			}
			cred := "ok"
			if acc.Expired(now) {
				cred = "expired, re-authorize with add-account --force"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", acc.Email, activeMark, cred)
		}
		w.Flush()
		fmt.Printf("\n%d account(s)\n", len(accounts))
		return nil
	},
}

func init() {
	listAccountsCmd.Flags().BoolVar(&listAccountsJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(listAccountsCmd)
}
