package mime

import (
	"strings"
	"testing"
)

// mustParse calls Parse and fails the test on error.
func mustParse(t *testing.T, raw string) *Parsed {
	t.Helper()
	p, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	return p
}

func TestParsePlainText(t *testing.T) {
	raw := "From: Dana Smith <dana@example.com>\r\n" +
		"Subject: Please remove my listing\r\n" +
		"Date: Mon, 02 Jan 2006 15:04:05 -0700\r\n" +
		"Message-ID: <orig@example.com>\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Please remove my record from your site.\r\n"

	p := mustParse(t, raw)

	if p.Subject != "Please remove my listing" {
		t.Errorf("Subject = %q", p.Subject)
	}
	if p.Sender != "Dana Smith" {
		t.Errorf("Sender = %q, want %q", p.Sender, "Dana Smith")
	}
	if p.SenderEmail != "dana@example.com" {
		t.Errorf("SenderEmail = %q", p.SenderEmail)
	}
	if p.Date.IsZero() {
		t.Error("Date should be parsed")
	}
	if want := "Please remove my record from your site."; p.Body != want {
		t.Errorf("Body = %q, want %q", p.Body, want)
	}
	if len(p.Attachments) != 0 {
		t.Errorf("Attachments = %d, want 0", len(p.Attachments))
	}
}

func TestParseHTMLOnlyBody(t *testing.T) {
	raw := "From: alerts@example.com\r\n" +
		"Subject: Notice\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<html><head><style>p{color:red}</style></head>" +
		"<body><p>I will <b>sue</b> your company.</p><p>Expect my lawyer.</p></body></html>\r\n"

	p := mustParse(t, raw)

	if strings.Contains(p.Body, "<") {
		t.Errorf("Body contains markup: %q", p.Body)
	}
	if strings.Contains(p.Body, "color:red") {
		t.Errorf("Body contains style content: %q", p.Body)
	}
	if !strings.Contains(p.Body, "sue") || !strings.Contains(p.Body, "lawyer") {
		t.Errorf("Body missing text content: %q", p.Body)
	}
	// Block tags should keep the paragraphs on separate lines.
	if !strings.Contains(p.Body, "\n") {
		t.Errorf("Body lost paragraph breaks: %q", p.Body)
	}
}

func TestParseAttachment(t *testing.T) {
	raw := "From: dana@example.com\r\n" +
		"Subject: Removal with documentation\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=BOUND\r\n" +
		"\r\n" +
		"--BOUND\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"Please remove me, documentation attached.\r\n" +
		"--BOUND\r\n" +
		"Content-Type: application/pdf\r\n" +
		"Content-Disposition: attachment; filename=\"id.pdf\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"JVBERi0xLjQ=\r\n" +
		"--BOUND--\r\n"

	p := mustParse(t, raw)

	if len(p.Attachments) != 1 {
		t.Fatalf("Attachments = %d, want 1", len(p.Attachments))
	}
	att := p.Attachments[0]
	if att.Filename != "id.pdf" {
		t.Errorf("Filename = %q", att.Filename)
	}
	if att.MimeType != "application/pdf" {
		t.Errorf("MimeType = %q", att.MimeType)
	}
	if att.Size == 0 {
		t.Error("Size should be non-zero")
	}
}

func TestParseBareFromAddress(t *testing.T) {
	raw := "From: dana@example.com\r\n" +
		"Subject: hi\r\n" +
		"\r\n" +
		"body\r\n"

	p := mustParse(t, raw)
	if p.Sender != "dana@example.com" {
		t.Errorf("Sender = %q", p.Sender)
	}
	if p.SenderEmail != "dana@example.com" {
		t.Errorf("SenderEmail = %q", p.SenderEmail)
	}
}

func TestParseReferences(t *testing.T) {
	raw := "From: a@example.com\r\n" +
		"Subject: Re: thread\r\n" +
		"In-Reply-To: <msg-2@example.com>\r\n" +
		"References: <msg-1@example.com> <msg-2@example.com>\r\n" +
		"\r\n" +
		"body\r\n"

	p := mustParse(t, raw)
	if p.InReplyTo != "<msg-2@example.com>" {
		t.Errorf("InReplyTo = %q", p.InReplyTo)
	}
	if len(p.References) != 2 || p.References[0] != "msg-1@example.com" {
		t.Errorf("References = %v", p.References)
	}
}

func TestStripHTMLCollapsesBlankLines(t *testing.T) {
	got := stripHTML("<div>one</div>\n\n\n<div>two</div>")
	want := "one\n\ntwo"
	if got != want {
		t.Errorf("stripHTML = %q, want %q", got, want)
	}
}
