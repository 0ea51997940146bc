// Package provider defines the mailbox-provider contract the core consumes.
//
// The concrete Gmail implementation lives in internal/gmail; tests substitute
// in-memory fakes. Write operations (draft create, send, label modify) are
// never retried automatically by any implementation; mail operations are not
// safely idempotent without dedup keys.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/whall/draftpilot/internal/mail"
)

// Error is a provider failure carrying an HTTP-like status code.
type Error struct {
	StatusCode int
	Op         string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider: %s failed (%d): %s", e.Op, e.StatusCode, e.Message)
}

// IsAuthExpired reports whether err means the credential was rejected and
// the account must re-authorize.
func IsAuthExpired(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && (pe.StatusCode == http.StatusUnauthorized)
}

// IsNotFound reports whether err is a provider 404.
func IsNotFound(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.StatusCode == http.StatusNotFound
}

// ListFilter narrows a ListRecent call.
type ListFilter struct {
	// Query is a provider-side search expression. Empty means the default
	// triage window (unread or recent mail).
	Query string

	// MaxResults caps how many messages are returned. Zero means the
	// provider default.
	MaxResults int
}

// Mailbox is the set of mailbox operations the core needs. One Mailbox is
// bound to one account's credential.
type Mailbox interface {
	// ListRecent returns recent messages with enough detail for triage:
	// sender, subject, snippet, body excerpt, and attachment metadata.
	// Individual message fetch failures are tolerated (the message is
	// dropped from the view), but a failed listing is an error.
	ListRecent(ctx context.Context, filter ListFilter) ([]*mail.Message, error)

	// GetDetail fetches one message in full.
	GetDetail(ctx context.Context, messageID string) (*mail.Message, error)

	// CreateDraft creates a reply draft in the message's thread and
	// returns the provider's draft ID.
	CreateDraft(ctx context.Context, reply Reply) (string, error)

	// Send sends a reply in the message's thread and returns the sent
	// message ID.
	Send(ctx context.Context, reply Reply) (string, error)

	// ModifyLabels removes the given labels from a message. Archiving is
	// removing the inbox label, never deleting the message.
	ModifyLabels(ctx context.Context, messageID string, removeLabels []string) error

	// Close releases any resources held by the provider client.
	Close() error
}

// Reply addresses a response into an existing thread.
type Reply struct {
	ThreadID  string
	To        string
	Subject   string
	Body      string
	MessageID string // provider ID of the message being replied to

	// InReplyTo is the RFC 5322 Message-ID of the message being answered.
	// Empty when the original did not carry one.
	InReplyTo string
}
