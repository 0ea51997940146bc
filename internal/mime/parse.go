// Package mime extracts the message fields draftpilot triages on from
// raw RFC 822 payloads.
package mime

import (
	"bytes"
	"fmt"
	"html"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"

	dpmail "github.com/whall/draftpilot/internal/mail"
)

// Parsed holds the subset of an envelope that the triage and draft
// pipeline needs. Body is plain text, falling back to a stripped HTML
// part when no text part exists.
type Parsed struct {
	Subject     string
	MessageID   string
	Sender      string
	SenderEmail string
	Date        time.Time
	Body        string
	Attachments []dpmail.Attachment
	InReplyTo   string
	References  []string
}

var dateFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
	time.RFC822Z,
	time.RFC822,
}

// Parse reads a raw RFC 822 message and extracts the fields used by
// categorization and reply drafting.
func Parse(raw []byte) (*Parsed, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("reading envelope: %w", err)
	}

	p := &Parsed{
		Subject:    env.GetHeader("Subject"),
		MessageID:  strings.TrimSpace(env.GetHeader("Message-ID")),
		InReplyTo:  strings.TrimSpace(env.GetHeader("In-Reply-To")),
		References: parseReferences(env.GetHeader("References")),
	}

	p.Sender, p.SenderEmail = parseFrom(env.GetHeader("From"))
	p.Date = parseDate(env.GetHeader("Date"))
	p.Body = bodyText(env)
	p.Attachments = attachments(env)

	return p, nil
}

// parseFrom returns the display form and bare address of a From header.
// A header that fails address parsing is returned verbatim as both.
func parseFrom(from string) (display, email string) {
	from = strings.TrimSpace(from)
	if from == "" {
		return "", ""
	}
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return from, from
	}
	if addr.Name != "" {
		return addr.Name, strings.ToLower(addr.Address)
	}
	return addr.Address, strings.ToLower(addr.Address)
}

func parseDate(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	if t, err := mail.ParseDate(value); err == nil {
		return t
	}
	for _, format := range dateFormats {
		if t, err := time.Parse(format, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

// bodyText prefers the plain text part. When only HTML is present the
// markup is stripped so keyword rules still see the message content.
func bodyText(env *enmime.Envelope) string {
	if text := strings.TrimSpace(env.Text); text != "" {
		return text
	}
	return stripHTML(env.HTML)
}

var (
	scriptTagRe = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleTagRe  = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	blockTagRe  = regexp.MustCompile(`(?i)<(/?)(p|div|br|hr|h[1-6]|li|tr|blockquote|pre)[^>]*>`)
	anyTagRe    = regexp.MustCompile(`<[^>]*>`)
	spaceRunRe  = regexp.MustCompile(`[ \t]+`)
)

// stripHTML turns an HTML body into readable plain text. Block tags
// become line breaks so the result keeps paragraph structure.
func stripHTML(rawHTML string) string {
	text := scriptTagRe.ReplaceAllString(rawHTML, "")
	text = styleTagRe.ReplaceAllString(text, "")
	text = blockTagRe.ReplaceAllString(text, "\n")
	text = anyTagRe.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, " ", " ")
	text = spaceRunRe.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	out := lines[:0]
	blank := true
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func attachments(env *enmime.Envelope) []dpmail.Attachment {
	parts := make([]*enmime.Part, 0, len(env.Attachments)+len(env.Inlines))
	parts = append(parts, env.Attachments...)
	for _, part := range env.Inlines {
		if part.FileName != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return nil
	}
	result := make([]dpmail.Attachment, 0, len(parts))
	for _, part := range parts {
		result = append(result, dpmail.Attachment{
			Filename: part.FileName,
			MimeType: part.ContentType,
			Size:     int64(len(part.Content)),
		})
	}
	return result
}

func parseReferences(header string) []string {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}
	fields := strings.Fields(header)
	refs := make([]string, 0, len(fields))
	for _, ref := range fields {
		ref = strings.Trim(ref, "<>")
		if ref != "" {
			refs = append(refs, ref)
		}
	}
	return refs
}
