package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const defaultConfigTemplate = `# draftpilot configuration

[data]
# data_dir = "~/.draftpilot"

[oauth]
# Path to the Google OAuth client secrets JSON.
# client_secrets = "/path/to/client_secret.json"

[provider]
# rate_limit_qps = 5
# concurrency = 5
# max_results = 20

[policy]
# Thresholds before an account is considered ready for autonomous replies.
# min_samples = 20
# min_avg_similarity = 0.95

[autosend]
# Readiness alone never sends; flip this on to let scheduled sweeps reply.
# enabled = false

[generator]
# backend = "template"   # or "http"
# url = "http://localhost:8000"

[server]
# api_port = 8080
# api_key = ""

# [[accounts]]
# email = "you@gmail.com"
# schedule = "*/15 * * * *"
# enabled = true
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the data directory, config file, and database",
	Long: `Initialize draftpilot for first use.

Creates the data directory, writes a commented config.toml template if none
exists, and initializes the learning database schema. Safe to run multiple
times; existing files are left untouched.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := filepath.Join(cfg.HomeDir, "config.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			if err := os.WriteFile(configPath, []byte(defaultConfigTemplate), 0o600); err != nil {
				return fmt.Errorf("write config template: %w", err)
			}
			fmt.Printf("Created %s\n", configPath)
		} else {
			fmt.Printf("Config already exists: %s\n", configPath)
		}

		s, _, err := openLedger()
		if err != nil {
			return err
		}
		defer s.Close()

		stats, err := s.GetStats()
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}

		fmt.Printf("Database: %s\n", cfg.DatabasePath())
		fmt.Printf("  Records:  %d\n", stats.RecordCount)
		fmt.Printf("  Accounts: %d\n", stats.AccountCount)
		fmt.Printf("  Size:     %.2f MB\n", float64(stats.DatabaseSize)/(1024*1024))
		fmt.Println()
		fmt.Println("Next step: draftpilot add-account <email>")

		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
