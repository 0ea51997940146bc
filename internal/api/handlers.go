package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/whall/draftpilot/internal/learning"
	"github.com/whall/draftpilot/internal/mail"
	"github.com/whall/draftpilot/internal/triage"
)

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// MessagePayload is a message as submitted by API clients.
type MessagePayload struct {
	ID             string `json:"id"`
	ThreadID       string `json:"thread_id"`
	Sender         string `json:"sender"`
	SenderEmail    string `json:"sender_email"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
	HasAttachments bool   `json:"has_attachments"`
}

func (p MessagePayload) toMessage() *mail.Message {
	msg := &mail.Message{
		ID:          p.ID,
		ThreadID:    p.ThreadID,
		Sender:      p.Sender,
		SenderEmail: p.SenderEmail,
		Subject:     p.Subject,
		Body:        p.Body,
	}
	if p.HasAttachments {
		msg.Attachments = []mail.Attachment{{}}
	}
	return msg
}

// handleCategorize runs the rule chain over a submitted message.
func (s *Server) handleCategorize(w http.ResponseWriter, r *http.Request) {
	var payload MessagePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Request body must be a JSON message")
		return
	}

	ann := triage.Categorize(payload.toMessage())
	writeJSON(w, http.StatusOK, ann)
}

// DraftRequest asks for a reply draft for one message.
type DraftRequest struct {
	Account string         `json:"account"`
	Message MessagePayload `json:"message"`
}

// DraftResponse carries the generated draft and its annotation.
type DraftResponse struct {
	Text       string            `json:"text"`
	Category   triage.Category   `json:"category"`
	Importance triage.Importance `json:"importance"`
}

// handleDraft generates a reply draft. Generation failures are surfaced, not
// papered over with a fabricated draft.
func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	var req DraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Request body must be a JSON draft request")
		return
	}

	msg := req.Message.toMessage()
	d, err := s.gen.Generate(r.Context(), msg, req.Account)
	if err != nil {
		s.logger.Error("draft generation failed", "account", req.Account, "error", err)
		writeError(w, http.StatusBadGateway, "generator_error", "Draft generation failed")
		return
	}

	resp := DraftResponse{Text: d.Text, Category: d.Category, Importance: d.Importance}
	if resp.Category == "" {
		ann := triage.Categorize(msg)
		resp.Category = ann.Category
		resp.Importance = ann.Importance
	}
	writeJSON(w, http.StatusOK, resp)
}

// RecordRequest submits one draft decision for the ledger. The ledger is the
// sole writer: the edit metrics are computed here, never trusted from the
// client.
type RecordRequest struct {
	Account        string         `json:"account"`
	Message        MessagePayload `json:"message"`
	GeneratedDraft string         `json:"generated_draft"`
	FinalDraft     string         `json:"final_draft"`
}

// handleAppendRecord appends a learning record.
func (s *Server) handleAppendRecord(w http.ResponseWriter, r *http.Request) {
	var req RecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Request body must be a JSON record request")
		return
	}
	if req.Account == "" {
		writeError(w, http.StatusBadRequest, "missing_account", "Account is required")
		return
	}

	msg := req.Message.toMessage()
	rec := learning.NewRecord(req.Account, msg, triage.Categorize(msg), req.GeneratedDraft, req.FinalDraft)
	if err := s.ledger.Append(r.Context(), rec); err != nil {
		s.logger.Error("record append failed", "account", req.Account, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to append record")
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// handleListRecords returns recent records for an account, newest first.
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		writeError(w, http.StatusBadRequest, "missing_account", "Query parameter 'account' is required")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 200 {
		limit = 50
	}

	records, err := s.ledger.ListRecords(r.Context(), account, limit)
	if err != nil {
		s.logger.Error("record list failed", "account", account, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list records")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": account,
		"records": records,
	})
}

// handleStats returns the learning aggregates for one account. An account
// with no records gets zero stats, not an error.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	stats, err := s.ledger.StatsFor(r.Context(), account)
	if err != nil {
		s.logger.Error("stats lookup failed", "account", account, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve statistics")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// AccountInfo represents an account in list responses.
type AccountInfo struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Active      bool   `json:"active"`
	Expired     bool   `json:"expired"`
	Schedule    string `json:"schedule,omitempty"`
	Enabled     bool   `json:"enabled"`
	LastSweepAt string `json:"last_sweep_at,omitempty"`
	NextSweepAt string `json:"next_sweep_at,omitempty"`
}

// handleListAccounts returns all registered accounts.
func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	active, _ := s.registry.Active()

	var accounts []AccountInfo
	for _, acct := range s.registry.List() {
		info := AccountInfo{
			ID:      acct.ID,
			Email:   acct.Email,
			Active:  acct.ID == active.ID,
			Expired: acct.Expired(now),
		}

		if sched := s.cfg.GetAccountSchedule(acct.Email); sched != nil {
			info.Schedule = sched.Schedule
			info.Enabled = sched.Enabled
		}
		for _, status := range s.scheduler.Status() {
			if status.Account == acct.ID {
				if !status.LastRun.IsZero() {
					info.LastSweepAt = status.LastRun.Format(time.RFC3339)
				}
				if !status.NextRun.IsZero() {
					info.NextSweepAt = status.NextRun.Format(time.RFC3339)
				}
				break
			}
		}

		accounts = append(accounts, info)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": accounts,
	})
}

// handleTriggerSweep manually starts a sweep for an account.
func (s *Server) handleTriggerSweep(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	if account == "" {
		writeError(w, http.StatusBadRequest, "missing_account", "Account is required")
		return
	}

	if err := s.scheduler.TriggerSweep(account); err != nil {
		s.logger.Error("failed to trigger sweep", "account", account, "error", err)
		writeError(w, http.StatusConflict, "sweep_error", err.Error())
		return
	}

	s.logger.Info("sweep triggered via API", "account", account)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"message": "Sweep started for " + account,
	})
}

// SchedulerStatusResponse represents scheduler status.
type SchedulerStatusResponse struct {
	Running  bool            `json:"running"`
	Accounts []AccountStatus `json:"accounts"`
}

// handleSchedulerStatus returns the scheduler status.
func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SchedulerStatusResponse{
		Running:  s.scheduler.IsRunning(),
		Accounts: s.scheduler.Status(),
	})
}
