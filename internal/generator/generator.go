// Package generator produces reply drafts for triaged messages.
//
// The core contract is deliberately small: given a message and the account it
// arrived on, return a draft or an error. The workflow never fabricates a
// draft on failure; it reports the error and the session stays closed.
package generator

import (
	"context"

	"github.com/whall/draftpilot/internal/mail"
	"github.com/whall/draftpilot/internal/triage"
)

// Draft is the generator's output: the proposed reply text plus the
// classification the generator derived (or echoed) for the message.
type Draft struct {
	Text       string            `json:"text"`
	Category   triage.Category   `json:"category"`
	Importance triage.Importance `json:"importance"`
}

// Generator produces a reply draft for a message.
type Generator interface {
	// Generate returns a draft reply for msg as received by account.
	// Implementations must not retry internally; a failure is surfaced to
	// the caller once.
	Generate(ctx context.Context, msg *mail.Message, account string) (Draft, error)
}
