// Package workflow coordinates the triage and reply pipeline: inbox loading,
// the single active draft session, save/send/archive against the mailbox
// provider, and learning-record capture.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/whall/draftpilot/internal/draft"
	"github.com/whall/draftpilot/internal/generator"
	"github.com/whall/draftpilot/internal/learning"
	"github.com/whall/draftpilot/internal/mail"
	"github.com/whall/draftpilot/internal/provider"
	"github.com/whall/draftpilot/internal/registry"
	"github.com/whall/draftpilot/internal/triage"
)

// inboxLabel is the provider label removed when a message is archived.
// Archiving never deletes.
const inboxLabel = "INBOX"

// ErrNoSession is returned by session operations when no draft is open.
var ErrNoSession = errors.New("workflow: no active draft session")

// MailboxFactory opens a provider client for one account.
type MailboxFactory func(ctx context.Context, acct registry.Account) (provider.Mailbox, error)

// Item is one inbox entry: the fetched message plus the categorizer's verdict.
type Item struct {
	Message    *mail.Message     `json:"message"`
	Annotation triage.Annotation `json:"annotation"`
}

// BatchResult reports a bulk archive. The batch is not atomic; each item
// succeeds or fails on its own.
type BatchResult struct {
	Archived int `json:"archived"`
	Failed   int `json:"failed"`
}

// SendOutcome reports a send and the follow-up archive. Send and archive are
// deliberately not transactional: a failed archive leaves the message sent
// but still visible, never a lost or duplicated send.
type SendOutcome struct {
	SentID     string `json:"sent_id"`
	Archived   bool   `json:"archived"`
	ArchiveErr error  `json:"-"`
}

// SweepResult reports one autonomous pass over an account's inbox.
type SweepResult struct {
	Scanned   int `json:"scanned"`
	Responded int `json:"responded"`
	Archived  int `json:"archived"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// messageCounter is implemented by ledgers that can report whether a message
// already has a record, letting sweeps skip already-handled mail.
type messageCounter interface {
	CountForMessage(ctx context.Context, account, messageID string) (int64, error)
}

// Manager owns the pipeline for all registered accounts. It enforces the
// single active session rule: opening a message while another session is
// live implicitly cancels the prior one.
type Manager struct {
	registry *registry.Registry
	openBox  MailboxFactory
	gen      generator.Generator
	ledger   learning.Ledger
	logger   *slog.Logger
	autosend bool

	mu             sync.Mutex
	session        *draft.Session
	sessionAccount string
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithAutosend enables autonomous replies during sweeps for accounts whose
// learning stats have reached the readiness policy. Off by default.
func WithAutosend(enabled bool) Option {
	return func(m *Manager) {
		m.autosend = enabled
	}
}

// New creates a Manager.
func New(reg *registry.Registry, openBox MailboxFactory, gen generator.Generator, ledger learning.Ledger, opts ...Option) *Manager {
	m := &Manager{
		registry: reg,
		openBox:  openBox,
		gen:      gen,
		ledger:   ledger,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// mailboxFor resolves an account and opens its provider client, refusing
// accounts whose credential has expired.
func (m *Manager) mailboxFor(ctx context.Context, accountID string) (provider.Mailbox, registry.Account, error) {
	if err := m.registry.CheckCredential(accountID, time.Now()); err != nil {
		return nil, registry.Account{}, err
	}
	acct, err := m.registry.Get(accountID)
	if err != nil {
		return nil, registry.Account{}, err
	}
	box, err := m.openBox(ctx, acct)
	if err != nil {
		return nil, registry.Account{}, fmt.Errorf("open mailbox for %s: %w", accountID, err)
	}
	return box, acct, nil
}

// LoadInbox fetches the account's recent messages and runs each through the
// categorizer. Messages that fail to fetch are dropped by the provider; a
// failed listing is an error.
func (m *Manager) LoadInbox(ctx context.Context, accountID string, filter provider.ListFilter) ([]Item, error) {
	box, _, err := m.mailboxFor(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer box.Close()

	messages, err := box.ListRecent(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list inbox for %s: %w", accountID, err)
	}

	items := make([]Item, len(messages))
	for i, msg := range messages {
		items[i] = Item{Message: msg, Annotation: triage.Categorize(msg)}
	}
	return items, nil
}

// OpenByID fetches one message by provider ID and starts a draft session
// for it.
func (m *Manager) OpenByID(ctx context.Context, accountID, messageID string) (*draft.Session, error) {
	box, _, err := m.mailboxFor(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer box.Close()

	msg, err := box.GetDetail(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("fetch message %s: %w", messageID, err)
	}
	return m.Open(ctx, accountID, msg)
}

// Open starts a draft session for msg. Any prior live session is cancelled
// without writing a record. On generator failure no session survives and the
// error is surfaced; no draft is fabricated.
func (m *Manager) Open(ctx context.Context, accountID string, msg *mail.Message) (*draft.Session, error) {
	if err := m.registry.CheckCredential(accountID, time.Now()); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil && !m.session.State().Terminal() {
		m.logger.Debug("cancelling prior session", "message_id", m.session.Message.ID)
		m.session.Cancel()
	}

	ann := triage.Categorize(msg)
	sess := draft.NewSession(msg, ann)
	m.session = sess
	m.sessionAccount = accountID

	d, err := m.gen.Generate(ctx, msg, accountID)
	if err != nil {
		sess.FailGeneration()
		m.session = nil
		return nil, fmt.Errorf("generate draft: %w", err)
	}
	if d.Category != "" {
		sess.Annotation.Category = d.Category
	}
	if d.Importance != "" {
		sess.Annotation.Importance = d.Importance
	}
	if err := sess.SetGenerated(d.Text); err != nil {
		return nil, err
	}
	return sess, nil
}

// Session returns the live session, or nil.
func (m *Manager) Session() *draft.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Edit replaces the working draft of the live session.
func (m *Manager) Edit(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ErrNoSession
	}
	return m.session.Edit(text)
}

// Cancel discards the live session without writing a record.
func (m *Manager) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		m.session.Cancel()
		m.session = nil
	}
}

// Save records the edit outcome and asks the provider to create a reply
// draft in the thread. On provider failure the session stays editable and
// the error is surfaced; nothing is retried.
func (m *Manager) Save(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, accountID := m.session, m.sessionAccount
	if sess == nil {
		return "", ErrNoSession
	}
	if sess.State() != draft.StateEditable {
		return "", draft.ErrNotEditable
	}

	box, _, err := m.mailboxFor(ctx, accountID)
	if err != nil {
		return "", err
	}
	defer box.Close()

	m.appendRecord(ctx, accountID, sess)

	draftID, err := box.CreateDraft(ctx, replyFor(sess))
	if err != nil {
		return "", fmt.Errorf("create draft: %w", err)
	}

	if err := sess.MarkSaved(); err != nil {
		return "", err
	}
	m.session = nil
	return draftID, nil
}

// Send records the edit outcome, sends the reply, and archives the original.
// A send failure leaves the session editable. An archive failure after a
// successful send is reported in the outcome but never triggers a resend,
// and the record is not duplicated.
func (m *Manager) Send(ctx context.Context) (SendOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, accountID := m.session, m.sessionAccount
	if sess == nil {
		return SendOutcome{}, ErrNoSession
	}
	if sess.State() != draft.StateEditable {
		return SendOutcome{}, draft.ErrNotEditable
	}

	box, _, err := m.mailboxFor(ctx, accountID)
	if err != nil {
		return SendOutcome{}, err
	}
	defer box.Close()

	m.appendRecord(ctx, accountID, sess)

	sentID, err := box.Send(ctx, replyFor(sess))
	if err != nil {
		return SendOutcome{}, fmt.Errorf("send reply: %w", err)
	}

	if err := sess.MarkSent(); err != nil {
		return SendOutcome{}, err
	}
	messageID := sess.Message.ID
	m.session = nil

	outcome := SendOutcome{SentID: sentID, Archived: true}
	if err := box.ModifyLabels(ctx, messageID, []string{inboxLabel}); err != nil {
		// Sent but still visible in the inbox. Safe failure direction.
		m.logger.Warn("archive after send failed", "message_id", messageID, "error", err)
		outcome.Archived = false
		outcome.ArchiveErr = err
	}
	return outcome, nil
}

// appendRecord writes the learning record for the session. Attempted once;
// a failure is logged and never blocks the mail action.
func (m *Manager) appendRecord(ctx context.Context, accountID string, sess *draft.Session) {
	rec := learning.NewRecord(accountID, sess.Message, sess.Annotation, sess.GeneratedDraft, sess.WorkingDraft)
	if err := m.ledger.Append(ctx, rec); err != nil {
		m.logger.Warn("learning record write failed",
			"account", accountID, "message_id", sess.Message.ID, "error", err)
	}
}

// replyFor addresses the working draft as a reply in the message's thread.
func replyFor(sess *draft.Session) provider.Reply {
	msg := sess.Message
	to := msg.SenderEmail
	if to == "" {
		to = msg.Sender
	}
	return provider.Reply{
		ThreadID:  msg.ThreadID,
		To:        to,
		Subject:   msg.Subject,
		Body:      sess.WorkingDraft,
		MessageID: msg.ID,
		InReplyTo: msg.HeaderMessageID,
	}
}

// ArchiveAll archives every message in the view. Items are processed
// sequentially; each outcome is tracked independently and there is no
// rollback of partially archived batches.
func (m *Manager) ArchiveAll(ctx context.Context, accountID string, messageIDs []string) (BatchResult, error) {
	box, _, err := m.mailboxFor(ctx, accountID)
	if err != nil {
		return BatchResult{}, err
	}
	defer box.Close()

	var result BatchResult
	for _, id := range messageIDs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := box.ModifyLabels(ctx, id, []string{inboxLabel}); err != nil {
			m.logger.Warn("archive failed", "message_id", id, "error", err)
			result.Failed++
			continue
		}
		result.Archived++
	}
	return result, nil
}

// Stats returns the learning aggregates for one account. A missing ledger
// row is zero stats, not an error.
func (m *Manager) Stats(ctx context.Context, accountID string) (learning.AccountStats, error) {
	return m.ledger.StatsFor(ctx, accountID)
}

// Sweep runs one autonomous pass over the account's inbox: archive-eligible
// mail is archived, and respond-eligible mail is answered with a generated
// reply when autosend is enabled and the account's learning stats have
// reached the readiness policy. Everything else is left for manual review.
func (m *Manager) Sweep(ctx context.Context, accountID string) (SweepResult, error) {
	items, err := m.LoadInbox(ctx, accountID, provider.ListFilter{})
	if err != nil {
		return SweepResult{}, err
	}

	box, _, err := m.mailboxFor(ctx, accountID)
	if err != nil {
		return SweepResult{}, err
	}
	defer box.Close()

	canRespond := false
	if m.autosend {
		stats, err := m.ledger.StatsFor(ctx, accountID)
		if err != nil {
			m.logger.Warn("stats lookup failed, autosend disabled for sweep", "account", accountID, "error", err)
		} else {
			canRespond = stats.ReadyForAutoSend
		}
	}

	result := SweepResult{Scanned: len(items)}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		switch item.Annotation.AutoAction {
		case triage.ActionArchive:
			if err := box.ModifyLabels(ctx, item.Message.ID, []string{inboxLabel}); err != nil {
				m.logger.Warn("sweep archive failed", "message_id", item.Message.ID, "error", err)
				result.Failed++
				continue
			}
			result.Archived++

		case triage.ActionRespond:
			if !canRespond {
				result.Skipped++
				continue
			}
			if m.alreadyHandled(ctx, accountID, item.Message.ID) {
				result.Skipped++
				continue
			}
			if err := m.autoRespond(ctx, box, accountID, item); err != nil {
				m.logger.Warn("sweep respond failed", "message_id", item.Message.ID, "error", err)
				result.Failed++
				continue
			}
			result.Responded++

		default:
			result.Skipped++
		}
	}
	return result, nil
}

// alreadyHandled reports whether a record for the message exists, when the
// ledger can answer that. A lookup failure counts as handled so a sweep
// never risks a duplicate send.
func (m *Manager) alreadyHandled(ctx context.Context, accountID, messageID string) bool {
	counter, ok := m.ledger.(messageCounter)
	if !ok {
		return false
	}
	n, err := counter.CountForMessage(ctx, accountID, messageID)
	if err != nil {
		m.logger.Warn("record lookup failed", "message_id", messageID, "error", err)
		return true
	}
	return n > 0
}

// autoRespond generates and sends a reply without human review, records it
// with the final draft equal to the generated one, and archives the original.
func (m *Manager) autoRespond(ctx context.Context, box provider.Mailbox, accountID string, item Item) error {
	d, err := m.gen.Generate(ctx, item.Message, accountID)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}

	rec := learning.NewRecord(accountID, item.Message, item.Annotation, d.Text, d.Text)
	if err := m.ledger.Append(ctx, rec); err != nil {
		m.logger.Warn("learning record write failed", "message_id", item.Message.ID, "error", err)
	}

	reply := provider.Reply{
		ThreadID:  item.Message.ThreadID,
		To:        item.Message.SenderEmail,
		Subject:   item.Message.Subject,
		Body:      d.Text,
		MessageID: item.Message.ID,
		InReplyTo: item.Message.HeaderMessageID,
	}
	if reply.To == "" {
		reply.To = item.Message.Sender
	}

	if _, err := box.Send(ctx, reply); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if err := box.ModifyLabels(ctx, item.Message.ID, []string{inboxLabel}); err != nil {
		// Same asymmetry as a manual send. Reported, never resent.
		m.logger.Warn("archive after autosend failed", "message_id", item.Message.ID, "error", err)
	}
	return nil
}
