package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var recordsLimit int

var recordsCmd = &cobra.Command{
	Use:   "records [email]",
	Short: "List recent learning records",
	Long: `List the most recent learning records for an account, newest first.

Each record is one reviewed draft: the similarity column shows how much
of the generated text survived review (1.000 means it was saved or sent
untouched).

Examples:
  draftpilot records
  draftpilot records you@gmail.com --limit 100`,
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

		records, err := ledger.ListRecords(cmd.Context(), accountID, recordsLimit)
		if err != nil {
			return fmt.Errorf("list records: %w", err)
		}

		if len(records) == 0 {
			fmt.Println("No records yet. Save or send a reply to create one.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "WHEN\tSUBJECT\tCATEGORY\tSIMILARITY\tEDITS")
		for _, rec := range records {
			exact := ""
			if rec.ExactMatch {
				exact = "none"
			} else {
				exact = fmt.Sprintf("%d", rec.EditDistance)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%.3f\t%s\n",
				rec.Timestamp.Local().Format("2006-01-02 15:04"),
				truncate(rec.Subject, 40),
				rec.Category,
				rec.Similarity,
				exact,
			)
		}
		w.Flush()
		fmt.Printf("\n%d record(s)\n", len(records))
		return nil
	},
}

func init() {
	recordsCmd.Flags().IntVar(&recordsLimit, "limit", 50, "Maximum records to list")
	rootCmd.AddCommand(recordsCmd)
}
