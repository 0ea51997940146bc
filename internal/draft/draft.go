// Package draft holds the state machine for composing one reply.
//
// A session is created when a message is opened and walks
// Generating -> Editable -> one of Saved, Sent, or Cancelled. The workflow
// layer owns the single-active-session rule and drives provider calls; this
// package only guards the transitions.
package draft

import (
	"errors"
	"fmt"
	"time"

	"github.com/whall/draftpilot/internal/mail"
	"github.com/whall/draftpilot/internal/triage"
)

// State is the lifecycle position of a session.
type State int

const (
	StateClosed State = iota
	StateGenerating
	StateEditable
	StateSaved
	StateSent
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateGenerating:
		return "generating"
	case StateEditable:
		return "editable"
	case StateSaved:
		return "saved"
	case StateSent:
		return "sent"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether the session has finished.
func (s State) Terminal() bool {
	return s == StateSaved || s == StateSent || s == StateCancelled || s == StateClosed
}

var (
	// ErrNotEditable is returned when an edit or completion is attempted
	// outside the Editable state.
	ErrNotEditable = errors.New("draft: session is not editable")

	// ErrNotGenerating is returned when generation completes on a session
	// that is not waiting for a draft.
	ErrNotGenerating = errors.New("draft: session is not generating")
)

// Session tracks one message's reply from generation through completion.
// GeneratedDraft is immutable once set; WorkingDraft holds the user's edits.
type Session struct {
	Message    *mail.Message
	Annotation triage.Annotation
	CreatedAt  time.Time

	GeneratedDraft string
	WorkingDraft   string

	state State
}

// NewSession opens a session for msg in the Generating state.
func NewSession(msg *mail.Message, ann triage.Annotation) *Session {
	return &Session{
		Message:    msg,
		Annotation: ann,
		CreatedAt:  time.Now(),
		state:      StateGenerating,
	}
}

// State returns the current lifecycle position.
func (s *Session) State() State {
	return s.state
}

// SetGenerated records the generator's draft and moves to Editable.
// The working draft starts equal to the generated one.
func (s *Session) SetGenerated(text string) error {
	if s.state != StateGenerating {
		return fmt.Errorf("%w: state %s", ErrNotGenerating, s.state)
	}
	s.GeneratedDraft = text
	s.WorkingDraft = text
	s.state = StateEditable
	return nil
}

// FailGeneration closes the session after a generator error. No partial
// draft is retained.
func (s *Session) FailGeneration() {
	s.GeneratedDraft = ""
	s.WorkingDraft = ""
	s.state = StateClosed
}

// Edit replaces the working draft. Editing does not change state.
func (s *Session) Edit(text string) error {
	if s.state != StateEditable {
		return fmt.Errorf("%w: state %s", ErrNotEditable, s.state)
	}
	s.WorkingDraft = text
	return nil
}

// MarkSaved completes the session after the provider accepted a draft.
func (s *Session) MarkSaved() error {
	if s.state != StateEditable {
		return fmt.Errorf("%w: state %s", ErrNotEditable, s.state)
	}
	s.state = StateSaved
	return nil
}

// MarkSent completes the session after the provider accepted a send.
func (s *Session) MarkSent() error {
	if s.state != StateEditable {
		return fmt.Errorf("%w: state %s", ErrNotEditable, s.state)
	}
	s.state = StateSent
	return nil
}

// Cancel discards the working draft. Cancelling an already-terminal session
// is a no-op.
func (s *Session) Cancel() {
	if s.state.Terminal() {
		return
	}
	s.WorkingDraft = ""
	s.state = StateCancelled
}

// Edited reports whether the user changed the generated draft.
func (s *Session) Edited() bool {
	return s.WorkingDraft != s.GeneratedDraft
}
