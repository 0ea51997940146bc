package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/whall/draftpilot/internal/config"
	"github.com/whall/draftpilot/internal/generator"
	"github.com/whall/draftpilot/internal/gmail"
	"github.com/whall/draftpilot/internal/learning"
	"github.com/whall/draftpilot/internal/oauth"
	"github.com/whall/draftpilot/internal/provider"
	"github.com/whall/draftpilot/internal/registry"
	"github.com/whall/draftpilot/internal/store"
	"github.com/whall/draftpilot/internal/workflow"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "draftpilot",
	Short: "Inbox triage and reply drafting for Gmail",
	Long: `draftpilot triages a Gmail inbox, drafts replies, and records every
human edit to those drafts in a learning ledger.

Incoming messages are categorized by a deterministic rule chain. For
messages that warrant a reply, draftpilot generates a draft, lets you
edit it, and saves or sends the result through the Gmail API. The gap
between the generated text and what you actually sent is recorded per
account; once an account's drafts consistently survive review intact,
it becomes eligible for autonomous replies during scheduled sweeps.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if err := os.MkdirAll(cfg.Data.DataDir, 0o700); err != nil {
			return fmt.Errorf("create data directory %s: %w", cfg.Data.DataDir, err)
		}

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.draftpilot/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the root command with a background context.
// Prefer ExecuteContext for signal-aware execution.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with the given context,
// enabling graceful shutdown when the context is cancelled.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// errOAuthNotConfigured returns a helpful error when OAuth client secrets
// are missing.
func errOAuthNotConfigured() error {
	configPath := "<config file>"
	if cfg != nil {
		configPath = cfg.HomeDir + "/config.toml"
	}
	return fmt.Errorf(`OAuth client secrets not configured.

To use draftpilot, you need a Google Cloud OAuth credential:
  1. Create an OAuth client ID of type "Desktop app" in the Google Cloud console
  2. Download the client_secret.json file
  3. Create or edit %s:
       [oauth]
       client_secrets = "/path/to/client_secret.json"`, configPath)
}

// openLedger opens the learning database and wraps it in a ledger using the
// configured readiness policy. The caller closes the returned store.
func openLedger() (*store.Store, *store.LedgerStore, error) {
	s, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := s.InitSchema(); err != nil {
		s.Close()
		return nil, nil, fmt.Errorf("init schema: %w", err)
	}
	policy := learning.Policy{
		MinSamples:       cfg.Policy.MinSamples,
		MinAvgSimilarity: cfg.Policy.MinAvgSimilarity,
	}
	return s, store.NewLedger(s, policy), nil
}

// openRegistry loads the account registry persisted under the data directory.
func openRegistry() *registry.Registry {
	return registry.New(registry.NewFileStore(cfg.AccountsPath()), registry.WithLogger(logger))
}

func newOAuthManager() (*oauth.Manager, error) {
	if cfg.OAuth.ClientSecrets == "" {
		return nil, errOAuthNotConfigured()
	}
	mgr, err := oauth.NewManager(cfg.OAuth.ClientSecrets, cfg.TokensDir(), logger)
	if err != nil {
		return nil, fmt.Errorf("create oauth manager: %w", err)
	}
	return mgr, nil
}

func newGenerator() generator.Generator {
	if cfg.Generator.Backend == "http" && cfg.Generator.URL != "" {
		return generator.NewHTTPGenerator(cfg.Generator.URL, cfg.Generator.Model)
	}
	return generator.NewTemplateGenerator()
}

// mailboxFactory builds Gmail clients on demand, one per account, sharing
// the configured rate limit and concurrency.
func mailboxFactory(oauthMgr *oauth.Manager) workflow.MailboxFactory {
	return func(ctx context.Context, acct registry.Account) (provider.Mailbox, error) {
		ts, err := oauthMgr.TokenSource(ctx, acct.Email)
		if err != nil {
			return nil, fmt.Errorf("token source for %s: %w", acct.Email, err)
		}
		return gmail.NewClient(ts,
			gmail.WithLogger(logger),
			gmail.WithConcurrency(cfg.Provider.Concurrency),
			gmail.WithRateLimiter(gmail.NewRateLimiter(float64(cfg.Provider.RateLimitQPS))),
		), nil
	}
}

// newWorkflow wires the full triage pipeline: registry, Gmail, generator,
// and ledger. The caller closes the returned store.
func newWorkflow() (*workflow.Manager, *store.Store, error) {
	oauthMgr, err := newOAuthManager()
	if err != nil {
		return nil, nil, err
	}
	s, ledger, err := openLedger()
	if err != nil {
		return nil, nil, err
	}
	mgr := workflow.New(openRegistry(), mailboxFactory(oauthMgr), newGenerator(), ledger,
		workflow.WithLogger(logger),
		workflow.WithAutosend(cfg.Autosend.Enabled),
	)
	return mgr, s, nil
}

// listFilter builds the inbox filter from config.
func listFilter() provider.ListFilter {
	return provider.ListFilter{
		Query:      cfg.Provider.ListQuery,
		MaxResults: cfg.Provider.MaxResults,
	}
}

// resolveAccount picks the account to operate on: the explicit argument if
// given, otherwise the registry's active selection.
func resolveAccount(reg *registry.Registry, args []string) (string, error) {
	if len(args) > 0 {
		acct, err := reg.Get(args[0])
		if err != nil {
			return "", err
		}
		return acct.ID, nil
	}
	acct, err := reg.Active()
	if err != nil {
		return "", fmt.Errorf("no account given and none active: add one with 'draftpilot add-account <email>'")
	}
	return acct.ID, nil
}
