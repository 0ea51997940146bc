// Package mail defines the provider-neutral message types shared by the
// triage, drafting, and learning layers.
package mail

import (
	"strings"
	"time"
)

// BodyExcerptLimit caps how much body text providers keep per message.
// Rule matching and draft generation only need the opening of the body.
const BodyExcerptLimit = 8192

// Message is a read-only projection of one message as fetched from the
// mailbox provider. It is created per fetch and discarded when the inbox
// view is refreshed or the message is archived.
type Message struct {
	ID         string
	ThreadID   string
	Sender     string
	Subject    string
	ReceivedAt time.Time
	Snippet    string

	// Body holds the plain-text body, truncated to BodyExcerptLimit by the
	// provider layer. Enough for rule matching and draft generation.
	Body string

	// SenderEmail is the bare address form of Sender, lowercased.
	SenderEmail string

	// HeaderMessageID is the RFC 5322 Message-ID header, used to thread
	// replies via In-Reply-To.
	HeaderMessageID string

	Attachments []Attachment
}

// Attachment describes one attachment on a message. Content is not fetched;
// triage only needs to know attachments exist.
type Attachment struct {
	Filename string
	MimeType string
	Size     int64
}

// HasAttachments reports whether the message carries at least one attachment.
func (m *Message) HasAttachments() bool {
	return len(m.Attachments) > 0
}

// SenderName returns the display-name portion of the sender, falling back to
// the full sender string when there is no angle-bracket form.
func (m *Message) SenderName() string {
	if i := strings.IndexByte(m.Sender, '<'); i > 0 {
		if name := strings.TrimSpace(m.Sender[:i]); name != "" {
			return name
		}
	}
	return m.Sender
}
