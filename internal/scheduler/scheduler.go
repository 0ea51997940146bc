// Package scheduler provides cron-based scheduling for automated inbox sweeps.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/whall/draftpilot/internal/workflow"
)

// SweepFunc is the callback invoked when a scheduled sweep should run.
// It receives the account ID and performs one triage pass over its inbox.
type SweepFunc func(ctx context.Context, accountID string) (workflow.SweepResult, error)

// AccountStatus reports the sweep state of one scheduled account.
type AccountStatus struct {
	Account    string               `json:"account"`
	Running    bool                 `json:"running"`
	LastRun    time.Time            `json:"last_run,omitempty"`
	NextRun    time.Time            `json:"next_run"`
	Schedule   string               `json:"schedule"`
	LastResult workflow.SweepResult `json:"last_result"`
	LastError  string               `json:"last_error,omitempty"`
}

// Scheduler manages cron-based inbox sweeps.
type Scheduler struct {
	cron      *cron.Cron
	sweepFunc SweepFunc
	logger    *slog.Logger

	mu         sync.RWMutex
	jobs       map[string]cron.EntryID
	schedules  map[string]string
	running    map[string]bool
	lastRun    map[string]time.Time
	lastResult map[string]workflow.SweepResult
	lastErr    map[string]error

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool
}

// New creates a Scheduler with the given sweep callback.
func New(sweepFunc SweepFunc) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
		))),
		sweepFunc:  sweepFunc,
		logger:     slog.Default(),
		jobs:       make(map[string]cron.EntryID),
		schedules:  make(map[string]string),
		running:    make(map[string]bool),
		lastRun:    make(map[string]time.Time),
		lastResult: make(map[string]workflow.SweepResult),
		lastErr:    make(map[string]error),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// WithLogger sets the logger for the scheduler.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// AddAccount schedules sweeps for an account using the given cron expression.
// Re-adding an account replaces its schedule.
func (s *Scheduler) AddAccount(accountID, cronExpr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, exists := s.jobs[accountID]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, accountID)
		delete(s.schedules, accountID)
	}

	entryID, err := s.cron.AddFunc(cronExpr, func() {
		s.mu.Lock()
		if s.stopped || s.running[accountID] {
			s.mu.Unlock()
			return
		}
		s.running[accountID] = true
		s.wg.Add(1)
		s.mu.Unlock()
		s.runSweep(accountID)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	s.jobs[accountID] = entryID
	s.schedules[accountID] = cronExpr
	s.logger.Info("scheduled sweep",
		"account", accountID,
		"schedule", cronExpr,
		"next_run", s.cron.Entry(entryID).Next)

	return nil
}

// RemoveAccount removes the schedule for an account.
func (s *Scheduler) RemoveAccount(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, exists := s.jobs[accountID]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, accountID)
		delete(s.schedules, accountID)
		s.logger.Info("removed schedule", "account", accountID)
	}
}

// Start begins executing scheduled jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.started = true
	s.stopped = false
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// IsRunning returns true if the scheduler has been started and not yet stopped.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started && !s.stopped
}

// Stop gracefully stops the scheduler, cancels running sweeps, and waits for
// them to finish. Returns a context that is done when all work completes.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("scheduler stopping")

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		close(done)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-done
		cancel()
	}()
	return ctx
}

// runSweep executes a sweep for an account. The caller must have already
// called wg.Add(1) and set running[accountID] = true.
func (s *Scheduler) runSweep(accountID string) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.running[accountID] = false
		s.mu.Unlock()
	}()

	s.logger.Info("starting scheduled sweep", "account", accountID)
	start := time.Now()

	result, err := s.sweepFunc(s.ctx, accountID)

	s.mu.Lock()
	if err != nil {
		s.lastErr[accountID] = err
		s.logger.Error("scheduled sweep failed",
			"account", accountID,
			"duration", time.Since(start),
			"error", err)
	} else {
		s.lastRun[accountID] = time.Now()
		s.lastResult[accountID] = result
		s.lastErr[accountID] = nil
		s.logger.Info("scheduled sweep completed",
			"account", accountID,
			"duration", time.Since(start),
			"scanned", result.Scanned,
			"responded", result.Responded,
			"archived", result.Archived,
			"failed", result.Failed)
	}
	s.mu.Unlock()
}

// IsScheduled returns true if the account has been added to the scheduler.
func (s *Scheduler) IsScheduled(accountID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.jobs[accountID]
	return exists
}

// TriggerSweep manually runs a sweep for an account outside its schedule.
// Returns an error if a sweep is already running, the account is not
// scheduled, or the scheduler has been stopped.
func (s *Scheduler) TriggerSweep(accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("scheduler is stopped")
	}
	if _, exists := s.jobs[accountID]; !exists {
		return fmt.Errorf("account %s is not scheduled", accountID)
	}
	if s.running[accountID] {
		return fmt.Errorf("sweep already running for %s", accountID)
	}

	s.running[accountID] = true
	s.wg.Add(1)
	go s.runSweep(accountID)
	return nil
}

// Status returns the current status of all scheduled accounts.
func (s *Scheduler) Status() []AccountStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var statuses []AccountStatus
	for accountID, entryID := range s.jobs {
		entry := s.cron.Entry(entryID)
		status := AccountStatus{
			Account:    accountID,
			Running:    s.running[accountID],
			LastRun:    s.lastRun[accountID],
			NextRun:    entry.Next,
			Schedule:   s.schedules[accountID],
			LastResult: s.lastResult[accountID],
		}
		if err := s.lastErr[accountID]; err != nil {
			status.LastError = err.Error()
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// ValidateCronExpr validates a cron expression without scheduling anything.
func ValidateCronExpr(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
