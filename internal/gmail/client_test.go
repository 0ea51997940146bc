package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/whall/draftpilot/internal/provider"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(nil,
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
	)
	c.backoff = func(int) time.Duration { return 0 }
	return c, srv
}

func rawEmail(from, subject, body string) string {
	msg := fmt.Sprintf("From: %s\r\nSubject: %s\r\nMessage-ID: <orig-1@example.com>\r\nContent-Type: text/plain\r\n\r\n%s\r\n", from, subject, body)
	return base64.RawURLEncoding.EncodeToString([]byte(msg))
}

func TestListRecentFetchesDetails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != DefaultListQuery {
			t.Errorf("query = %q, want default", got)
		}
		fmt.Fprint(w, `{"messages":[{"id":"m1","threadId":"t1"},{"id":"m2","threadId":"t2"}]}`)
	})
	mux.HandleFunc("/users/me/messages/m1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"id":"m1","threadId":"t1","snippet":"hi","internalDate":"1700000000000","raw":%q}`,
			rawEmail("Dana <dana@example.com>", "please remove me", "remove my listing"))
	})
	mux.HandleFunc("/users/me/messages/m2", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})

	c, _ := newTestClient(t, mux)
	msgs, err := c.ListRecent(context.Background(), provider.ListFilter{})
	if err != nil {
		t.Fatalf("ListRecent() failed: %v", err)
	}

	// m2 failed to fetch and is dropped, not fatal
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.ID != "m1" || m.ThreadID != "t1" {
		t.Errorf("IDs = %q/%q", m.ID, m.ThreadID)
	}
	if m.Sender != "Dana" || m.SenderEmail != "dana@example.com" {
		t.Errorf("Sender = %q / %q", m.Sender, m.SenderEmail)
	}
	if m.Subject != "please remove me" {
		t.Errorf("Subject = %q", m.Subject)
	}
	if m.Body != "remove my listing" {
		t.Errorf("Body = %q", m.Body)
	}
}

func TestListRecentFailsWhenListingFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	})

	c, _ := newTestClient(t, mux)
	if _, err := c.ListRecent(context.Background(), provider.ListFilter{}); err == nil {
		t.Fatal("ListRecent() should fail when the listing fails")
	}
}

func TestReadRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/users/me/profile", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "flaky", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"emailAddress":"me@example.com","messagesTotal":5}`)
	})

	c, _ := newTestClient(t, mux)
	profile, err := c.GetProfile(context.Background())
	if err != nil {
		t.Fatalf("GetProfile() failed: %v", err)
	}
	if profile.EmailAddress != "me@example.com" {
		t.Errorf("EmailAddress = %q", profile.EmailAddress)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestWritesAreNeverRetried(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/users/me/messages/send", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusServiceUnavailable)
	})

	c, _ := newTestClient(t, mux)
	_, err := c.Send(context.Background(), provider.Reply{
		ThreadID: "t1",
		To:       "dana@example.com",
		Subject:  "hello",
		Body:     "reply",
	})
	if err == nil {
		t.Fatal("Send() should surface the failure")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want exactly 1 (no write retries)", got)
	}

	var perr *provider.Error
	if !errors.As(err, &perr) {
		t.Fatalf("error %v is not a provider.Error", err)
	}
	if perr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d", perr.StatusCode)
	}
}

func TestCreateDraftBuildsThreadedReply(t *testing.T) {
	var got draftRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/users/me/drafts", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		fmt.Fprint(w, `{"id":"d1","message":{"id":"dm1","threadId":"t1"}}`)
	})

	c, _ := newTestClient(t, mux)
	draftID, err := c.CreateDraft(context.Background(), provider.Reply{
		ThreadID:  "t1",
		To:        "dana@example.com",
		Subject:   "please remove me",
		Body:      "Done.",
		InReplyTo: "orig-1@example.com",
	})
	if err != nil {
		t.Fatalf("CreateDraft() failed: %v", err)
	}
	if draftID != "d1" {
		t.Errorf("draftID = %q", draftID)
	}
	if got.Message.ThreadID != "t1" {
		t.Errorf("threadId = %q", got.Message.ThreadID)
	}

	raw, err := base64.RawURLEncoding.DecodeString(got.Message.Raw)
	if err != nil {
		t.Fatalf("decode raw: %v", err)
	}
	text := string(raw)
	for _, want := range []string{
		"To: dana@example.com",
		"Subject: Re: please remove me",
		"In-Reply-To: <orig-1@example.com>",
		"Done.",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("raw reply missing %q:\n%s", want, text)
		}
	}
}

func TestModifyLabelsSendsRemoveList(t *testing.T) {
	var got modifyRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/users/me/messages/m1/modify", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		fmt.Fprint(w, `{"id":"m1","threadId":"t1"}`)
	})

	c, _ := newTestClient(t, mux)
	if err := c.ModifyLabels(context.Background(), "m1", []string{"INBOX"}); err != nil {
		t.Fatalf("ModifyLabels() failed: %v", err)
	}
	if len(got.RemoveLabelIDs) != 1 || got.RemoveLabelIDs[0] != "INBOX" {
		t.Errorf("RemoveLabelIDs = %v", got.RemoveLabelIDs)
	}
}

func TestAuthExpiredSurfaces401(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/me/profile", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
	})

	c, _ := newTestClient(t, mux)
	_, err := c.GetProfile(context.Background())
	if !provider.IsAuthExpired(err) {
		t.Errorf("IsAuthExpired(%v) = false, want true", err)
	}
}

func TestDecodeBase64URL(t *testing.T) {
	want := "hello?>"
	padded := base64.URLEncoding.EncodeToString([]byte(want))
	unpadded := base64.RawURLEncoding.EncodeToString([]byte(want))

	for _, in := range []string{padded, unpadded} {
		got, err := decodeBase64URL(in)
		if err != nil {
			t.Fatalf("decodeBase64URL(%q) failed: %v", in, err)
		}
		if string(got) != want {
			t.Errorf("decodeBase64URL(%q) = %q", in, got)
		}
	}
}
