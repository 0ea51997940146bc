package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/whall/draftpilot/internal/workflow"
)

func noopSweep(ctx context.Context, accountID string) (workflow.SweepResult, error) {
	return workflow.SweepResult{}, nil
}

func TestNew(t *testing.T) {
	s := New(noopSweep)
	if s == nil {
		t.Fatal("New() returned nil")
	}
	if s.cron == nil {
		t.Error("cron is nil")
	}
	if s.jobs == nil {
		t.Error("jobs map is nil")
	}
}

func TestAddAccount(t *testing.T) {
	s := New(noopSweep)

	if err := s.AddAccount("me@example.com", "*/15 * * * *"); err != nil {
		t.Errorf("AddAccount() with valid cron = %v, want nil", err)
	}

	if !s.IsScheduled("me@example.com") {
		t.Error("account was not scheduled")
	}
}

func TestAddAccountInvalidCron(t *testing.T) {
	s := New(noopSweep)

	if err := s.AddAccount("me@example.com", "not a cron"); err == nil {
		t.Error("AddAccount() with invalid cron = nil, want error")
	}
}

func TestAddAccountReplacesExisting(t *testing.T) {
	s := New(noopSweep)

	if err := s.AddAccount("me@example.com", "0 2 * * *"); err != nil {
		t.Fatalf("AddAccount() = %v", err)
	}
	s.mu.RLock()
	firstID := s.jobs["me@example.com"]
	s.mu.RUnlock()

	if err := s.AddAccount("me@example.com", "0 3 * * *"); err != nil {
		t.Fatalf("AddAccount() replacement = %v", err)
	}
	s.mu.RLock()
	secondID := s.jobs["me@example.com"]
	s.mu.RUnlock()

	if firstID == secondID {
		t.Error("job ID was not updated after replacement")
	}
}

func TestRemoveAccount(t *testing.T) {
	s := New(noopSweep)

	if err := s.AddAccount("me@example.com", "0 2 * * *"); err != nil {
		t.Fatalf("AddAccount: %v", err)
	}
	s.RemoveAccount("me@example.com")

	if s.IsScheduled("me@example.com") {
		t.Error("account still scheduled after RemoveAccount()")
	}

	// Removing again must not panic.
	s.RemoveAccount("me@example.com")
}

func TestTriggerSweepRuns(t *testing.T) {
	var calls atomic.Int32
	done := make(chan struct{})
	s := New(func(ctx context.Context, accountID string) (workflow.SweepResult, error) {
		calls.Add(1)
		close(done)
		return workflow.SweepResult{Scanned: 4, Archived: 2}, nil
	})

	if err := s.AddAccount("me@example.com", "0 2 * * *"); err != nil {
		t.Fatalf("AddAccount: %v", err)
	}
	if err := s.TriggerSweep("me@example.com"); err != nil {
		t.Fatalf("TriggerSweep() = %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not run")
	}
	s.wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("sweep ran %d times, want 1", got)
	}

	statuses := s.Status()
	if len(statuses) != 1 {
		t.Fatalf("Status() returned %d entries, want 1", len(statuses))
	}
	if statuses[0].LastResult.Archived != 2 {
		t.Errorf("LastResult = %+v", statuses[0].LastResult)
	}
	if statuses[0].LastError != "" {
		t.Errorf("LastError = %q, want empty", statuses[0].LastError)
	}
}

func TestTriggerSweepUnknownAccount(t *testing.T) {
	s := New(noopSweep)
	if err := s.TriggerSweep("nobody@example.com"); err == nil {
		t.Error("TriggerSweep() for unscheduled account = nil, want error")
	}
}

func TestTriggerSweepRecordsError(t *testing.T) {
	done := make(chan struct{})
	s := New(func(ctx context.Context, accountID string) (workflow.SweepResult, error) {
		close(done)
		return workflow.SweepResult{}, errors.New("provider down")
	})

	if err := s.AddAccount("me@example.com", "0 2 * * *"); err != nil {
		t.Fatalf("AddAccount: %v", err)
	}
	if err := s.TriggerSweep("me@example.com"); err != nil {
		t.Fatalf("TriggerSweep() = %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not run")
	}
	s.wg.Wait()

	statuses := s.Status()
	if len(statuses) != 1 || statuses[0].LastError == "" {
		t.Errorf("Status() = %+v, want last error recorded", statuses)
	}
}

func TestStopRejectsTrigger(t *testing.T) {
	s := New(noopSweep)
	if err := s.AddAccount("me@example.com", "0 2 * * *"); err != nil {
		t.Fatalf("AddAccount: %v", err)
	}

	s.Start()
	if !s.IsRunning() {
		t.Error("IsRunning() = false after Start()")
	}

	stopCtx := s.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not complete")
	}

	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop()")
	}
	if err := s.TriggerSweep("me@example.com"); err == nil {
		t.Error("TriggerSweep() after Stop() = nil, want error")
	}
}

func TestValidateCronExpr(t *testing.T) {
	if err := ValidateCronExpr("*/5 * * * *"); err != nil {
		t.Errorf("ValidateCronExpr(valid) = %v", err)
	}
	if err := ValidateCronExpr("banana"); err == nil {
		t.Error("ValidateCronExpr(invalid) = nil, want error")
	}
}
