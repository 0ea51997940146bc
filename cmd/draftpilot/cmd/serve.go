package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/whall/draftpilot/internal/api"
	"github.com/whall/draftpilot/internal/scheduler"
	"github.com/whall/draftpilot/internal/workflow"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run draftpilot as a daemon with scheduled sweeps",
	Long: `Run draftpilot as a long-running daemon.

The daemon runs in the foreground and provides:
  - HTTP API server on the configured port (default: 8080)
  - Scheduled triage sweeps per account config

Configure sweep schedules in config.toml:
  [[accounts]]
  email = "you@gmail.com"
  schedule = "*/15 * * * *"
  enabled = true

Cron format: minute hour day-of-month month day-of-week
  Examples:
    */15 * * * *  = Every 15 minutes
    0 8,18 * * *  = 8 AM and 6 PM daily

Use Ctrl+C to stop the daemon gracefully.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Validate security posture before doing any work
	if err := cfg.Server.ValidateSecure(); err != nil {
		return err
	}
	if cfg.OAuth.ClientSecrets == "" {
		return errOAuthNotConfigured()
	}

	oauthMgr, err := newOAuthManager()
	if err != nil {
		return err
	}

	s, ledger, err := openLedger()
	if err != nil {
		return err
	}
	defer s.Close()

	reg := openRegistry()
	gen := newGenerator()
	mgr := workflow.New(reg, mailboxFactory(oauthMgr), gen, ledger,
		workflow.WithLogger(logger),
		workflow.WithAutosend(cfg.Autosend.Enabled),
	)

	sched := scheduler.New(mgr.Sweep).WithLogger(logger)

	scheduled := cfg.ScheduledAccounts()
	count := 0
	for _, acc := range scheduled {
		if err := sched.AddAccount(acc.Email, acc.Schedule); err != nil {
			logger.Error("failed to schedule account", "email", acc.Email, "error", err)
			continue
		}
		count++
	}
	if len(scheduled) > 0 && count == 0 {
		return fmt.Errorf("no accounts could be scheduled")
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sched.Start()

	apiServer := api.NewServer(cfg, ledger, reg, gen, sched, logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	bindAddr := cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	fmt.Printf("draftpilot daemon started\n")
	fmt.Printf("  API server: http://%s\n", net.JoinHostPort(bindAddr, strconv.Itoa(cfg.Server.APIPort)))
	fmt.Printf("  Scheduled accounts: %d\n", count)
	fmt.Printf("  Autosend: %v\n", cfg.Autosend.Enabled)
	fmt.Printf("  Data directory: %s\n", cfg.Data.DataDir)
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()

	for _, status := range sched.Status() {
		fmt.Printf("  %s: next sweep at %s\n", status.Account, status.NextRun.Local().Format("2006-01-02 15:04:05"))
	}
	if count > 0 {
		fmt.Println()
	}

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
		fmt.Printf("\nReceived %s, shutting down...\n", sig)
	case err := <-serverErr:
		logger.Error("API server error", "error", err)
		fmt.Printf("\nAPI server error: %v\n", err)
	case <-ctx.Done():
		logger.Info("context cancelled")
	}

	fmt.Println("Shutting down API server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", "error", err)
	}

	fmt.Println("Waiting for running sweeps to complete...")
	schedCtx := sched.Stop()

	select {
	case <-schedCtx.Done():
		fmt.Println("Shutdown complete.")
	case <-time.After(30 * time.Second):
		fmt.Println("Shutdown timed out after 30 seconds.")
	}

	return nil
}
