package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/whall/draftpilot/internal/draft"
	"github.com/whall/draftpilot/internal/generator"
	"github.com/whall/draftpilot/internal/learning"
	"github.com/whall/draftpilot/internal/mail"
	"github.com/whall/draftpilot/internal/provider"
	"github.com/whall/draftpilot/internal/registry"
	"github.com/whall/draftpilot/internal/triage"
)

type fakeMailbox struct {
	messages []*mail.Message

	drafts   []provider.Reply
	sent     []provider.Reply
	archived []string

	failList    bool
	failDraft   bool
	failSend    bool
	failArchive bool
}

func (f *fakeMailbox) ListRecent(ctx context.Context, filter provider.ListFilter) ([]*mail.Message, error) {
	if f.failList {
		return nil, &provider.Error{StatusCode: 503, Op: "messages.list", Message: "down"}
	}
	return f.messages, nil
}

func (f *fakeMailbox) GetDetail(ctx context.Context, id string) (*mail.Message, error) {
	for _, m := range f.messages {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, &provider.Error{StatusCode: 404, Op: "messages.get", Message: "missing"}
}

func (f *fakeMailbox) CreateDraft(ctx context.Context, reply provider.Reply) (string, error) {
	if f.failDraft {
		return "", &provider.Error{StatusCode: 503, Op: "drafts.create", Message: "down"}
	}
	f.drafts = append(f.drafts, reply)
	return "draft-1", nil
}

func (f *fakeMailbox) Send(ctx context.Context, reply provider.Reply) (string, error) {
	if f.failSend {
		return "", &provider.Error{StatusCode: 503, Op: "messages.send", Message: "down"}
	}
	f.sent = append(f.sent, reply)
	return "sent-1", nil
}

func (f *fakeMailbox) ModifyLabels(ctx context.Context, id string, removeLabels []string) error {
	if f.failArchive {
		return &provider.Error{StatusCode: 503, Op: "messages.modify", Message: "down"}
	}
	f.archived = append(f.archived, id)
	return nil
}

func (f *fakeMailbox) Close() error { return nil }

type fakeGenerator struct {
	text string
	err  error
}

func (g *fakeGenerator) Generate(ctx context.Context, msg *mail.Message, account string) (generator.Draft, error) {
	if g.err != nil {
		return generator.Draft{}, g.err
	}
	return generator.Draft{Text: g.text}, nil
}

type fakeLedger struct {
	records    []learning.Record
	stats      map[string]learning.AccountStats
	failAppend bool
}

func (l *fakeLedger) Append(ctx context.Context, rec learning.Record) error {
	if l.failAppend {
		return errors.New("ledger down")
	}
	l.records = append(l.records, rec)
	return nil
}

func (l *fakeLedger) StatsFor(ctx context.Context, account string) (learning.AccountStats, error) {
	if s, ok := l.stats[account]; ok {
		return s, nil
	}
	return learning.AccountStats{Account: account}, nil
}

func (l *fakeLedger) CountForMessage(ctx context.Context, account, messageID string) (int64, error) {
	var n int64
	for _, rec := range l.records {
		if rec.Account == account && rec.MessageID == messageID {
			n++
		}
	}
	return n, nil
}

func testMessage(id string) *mail.Message {
	return &mail.Message{
		ID:              id,
		ThreadID:        "thread-" + id,
		Sender:          "Dana Smith",
		SenderEmail:     "dana@example.com",
		HeaderMessageID: "<" + id + "@example.com>",
		Subject:         "please google someone for me",
		Body:            "can you search for John Doe",
	}
}

type fixture struct {
	manager *Manager
	box     *fakeMailbox
	gen     *fakeGenerator
	ledger  *fakeLedger
	reg     *registry.Registry
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		box:    &fakeMailbox{},
		gen:    &fakeGenerator{text: "generated reply"},
		ledger: &fakeLedger{stats: map[string]learning.AccountStats{}},
	}
	f.reg = registry.New(nil)
	if err := f.reg.Add(registry.Account{Email: "me@example.com", Credential: "tok"}); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	open := func(ctx context.Context, acct registry.Account) (provider.Mailbox, error) {
		return f.box, nil
	}
	f.manager = New(f.reg, open, f.gen, f.ledger, opts...)
	return f
}

func TestLoadInboxAnnotates(t *testing.T) {
	f := newFixture(t)
	f.box.messages = []*mail.Message{testMessage("m1")}

	items, err := f.manager.LoadInbox(context.Background(), "me@example.com", provider.ListFilter{})
	if err != nil {
		t.Fatalf("LoadInbox() failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	if items[0].Annotation.Category != triage.CategorySearchRequest {
		t.Errorf("Category = %q", items[0].Annotation.Category)
	}
}

func TestExpiredCredentialRefused(t *testing.T) {
	f := newFixture(t)
	if err := f.reg.UpdateCredential("me@example.com", "tok", time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("UpdateCredential() failed: %v", err)
	}

	_, err := f.manager.LoadInbox(context.Background(), "me@example.com", provider.ListFilter{})
	if !errors.Is(err, registry.ErrCredentialExpired) {
		t.Errorf("LoadInbox() = %v, want ErrCredentialExpired", err)
	}
}

func TestOpenGeneratesDraft(t *testing.T) {
	f := newFixture(t)

	sess, err := f.manager.Open(context.Background(), "me@example.com", testMessage("m1"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if sess.State() != draft.StateEditable {
		t.Errorf("State() = %s, want editable", sess.State())
	}
	if sess.GeneratedDraft != "generated reply" {
		t.Errorf("GeneratedDraft = %q", sess.GeneratedDraft)
	}
}

func TestOpenGeneratorFailureLeavesNoSession(t *testing.T) {
	f := newFixture(t)
	f.gen.err = errors.New("backend down")

	_, err := f.manager.Open(context.Background(), "me@example.com", testMessage("m1"))
	if err == nil {
		t.Fatal("Open() should surface generator failure")
	}
	if f.manager.Session() != nil {
		t.Error("no session may survive a generation failure")
	}
}

func TestOpenImplicitlyCancelsPriorSession(t *testing.T) {
	f := newFixture(t)

	a, err := f.manager.Open(context.Background(), "me@example.com", testMessage("a"))
	if err != nil {
		t.Fatalf("Open(a) failed: %v", err)
	}
	if err := f.manager.Edit("heavily edited"); err != nil {
		t.Fatalf("Edit() failed: %v", err)
	}

	b, err := f.manager.Open(context.Background(), "me@example.com", testMessage("b"))
	if err != nil {
		t.Fatalf("Open(b) failed: %v", err)
	}

	if a.State() != draft.StateCancelled {
		t.Errorf("session a State() = %s, want cancelled", a.State())
	}
	if len(f.ledger.records) != 0 {
		t.Errorf("implicit cancel wrote %d records, want 0", len(f.ledger.records))
	}
	if b.Message.ID != "b" || b.State() != draft.StateEditable {
		t.Errorf("session b = %s for %q", b.State(), b.Message.ID)
	}
}

func TestSaveRecordsAndCreatesDraft(t *testing.T) {
	f := newFixture(t)

	if _, err := f.manager.Open(context.Background(), "me@example.com", testMessage("m1")); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := f.manager.Edit("final reply"); err != nil {
		t.Fatalf("Edit() failed: %v", err)
	}

	draftID, err := f.manager.Save(context.Background())
	if err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if draftID != "draft-1" {
		t.Errorf("draftID = %q", draftID)
	}

	if len(f.ledger.records) != 1 {
		t.Fatalf("records = %d, want 1", len(f.ledger.records))
	}
	rec := f.ledger.records[0]
	if rec.GeneratedDraft != "generated reply" || rec.FinalDraft != "final reply" {
		t.Errorf("record drafts = %q / %q", rec.GeneratedDraft, rec.FinalDraft)
	}
	if rec.ExactMatch {
		t.Error("edited draft must not be an exact match")
	}

	if len(f.box.drafts) != 1 {
		t.Fatalf("drafts = %d, want 1", len(f.box.drafts))
	}
	reply := f.box.drafts[0]
	if reply.To != "dana@example.com" || reply.ThreadID != "thread-m1" {
		t.Errorf("reply addressing = %+v", reply)
	}
	if reply.Body != "final reply" {
		t.Errorf("reply body = %q", reply.Body)
	}

	if f.manager.Session() != nil {
		t.Error("session should be cleared after save")
	}
}

func TestSaveProviderFailureKeepsSessionEditable(t *testing.T) {
	f := newFixture(t)
	f.box.failDraft = true

	sess, err := f.manager.Open(context.Background(), "me@example.com", testMessage("m1"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	if _, err := f.manager.Save(context.Background()); err == nil {
		t.Fatal("Save() should surface the provider failure")
	}
	if sess.State() != draft.StateEditable {
		t.Errorf("State() = %s, want editable after failed save", sess.State())
	}
	if f.manager.Session() != sess {
		t.Error("session must remain live after failed save")
	}
}

func TestSendArchivesAfterSuccess(t *testing.T) {
	f := newFixture(t)

	if _, err := f.manager.Open(context.Background(), "me@example.com", testMessage("m1")); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	outcome, err := f.manager.Send(context.Background())
	if err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	if outcome.SentID != "sent-1" || !outcome.Archived {
		t.Errorf("outcome = %+v", outcome)
	}
	if len(f.box.sent) != 1 || len(f.box.archived) != 1 {
		t.Errorf("sent=%d archived=%d", len(f.box.sent), len(f.box.archived))
	}
	if f.box.archived[0] != "m1" {
		t.Errorf("archived %q", f.box.archived[0])
	}
	// Unedited draft: the record is an exact match.
	if len(f.ledger.records) != 1 || !f.ledger.records[0].ExactMatch {
		t.Errorf("records = %+v", f.ledger.records)
	}
}

func TestSendArchiveFailureIsPartial(t *testing.T) {
	f := newFixture(t)
	f.box.failArchive = true

	if _, err := f.manager.Open(context.Background(), "me@example.com", testMessage("m1")); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	outcome, err := f.manager.Send(context.Background())
	if err != nil {
		t.Fatalf("Send() must not fail when only the archive fails: %v", err)
	}
	if outcome.Archived || outcome.ArchiveErr == nil {
		t.Errorf("outcome = %+v, want archive failure reported", outcome)
	}
	// The send is not repeated and the record is not duplicated.
	if len(f.box.sent) != 1 {
		t.Errorf("sent = %d, want 1", len(f.box.sent))
	}
	if len(f.ledger.records) != 1 {
		t.Errorf("records = %d, want 1", len(f.ledger.records))
	}
}

func TestSendFailureKeepsSessionEditable(t *testing.T) {
	f := newFixture(t)
	f.box.failSend = true

	sess, err := f.manager.Open(context.Background(), "me@example.com", testMessage("m1"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	if _, err := f.manager.Send(context.Background()); err == nil {
		t.Fatal("Send() should surface the provider failure")
	}
	if sess.State() != draft.StateEditable {
		t.Errorf("State() = %s, want editable", sess.State())
	}
	if len(f.box.archived) != 0 {
		t.Error("nothing may be archived after a failed send")
	}
}

func TestLedgerFailureDoesNotBlockSave(t *testing.T) {
	f := newFixture(t)
	f.ledger.failAppend = true

	if _, err := f.manager.Open(context.Background(), "me@example.com", testMessage("m1")); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if _, err := f.manager.Save(context.Background()); err != nil {
		t.Fatalf("Save() must succeed despite ledger failure: %v", err)
	}
	if len(f.box.drafts) != 1 {
		t.Errorf("drafts = %d, want 1", len(f.box.drafts))
	}
}

func TestArchiveAllCountsPartialFailure(t *testing.T) {
	f := newFixture(t)

	result, err := f.manager.ArchiveAll(context.Background(), "me@example.com", []string{"m1", "m2", "m3"})
	if err != nil {
		t.Fatalf("ArchiveAll() failed: %v", err)
	}
	if result.Archived != 3 || result.Failed != 0 {
		t.Errorf("result = %+v", result)
	}

	f.box.failArchive = true
	result, err = f.manager.ArchiveAll(context.Background(), "me@example.com", []string{"m4", "m5"})
	if err != nil {
		t.Fatalf("ArchiveAll() failed: %v", err)
	}
	if result.Archived != 0 || result.Failed != 2 {
		t.Errorf("result = %+v", result)
	}
}

func TestSweepSkipsRespondWithoutAutosend(t *testing.T) {
	f := newFixture(t)
	f.box.messages = []*mail.Message{testMessage("m1")} // search request, respond-eligible

	result, err := f.manager.Sweep(context.Background(), "me@example.com")
	if err != nil {
		t.Fatalf("Sweep() failed: %v", err)
	}
	if result.Responded != 0 || result.Skipped != 1 {
		t.Errorf("result = %+v", result)
	}
	if len(f.box.sent) != 0 {
		t.Error("nothing may be sent with autosend off")
	}
}

func TestSweepRespondsWhenReady(t *testing.T) {
	f := newFixture(t, WithAutosend(true))
	f.box.messages = []*mail.Message{testMessage("m1")}
	f.ledger.stats["me@example.com"] = learning.AccountStats{
		Account:          "me@example.com",
		TotalEdits:       25,
		AvgSimilarity:    0.97,
		ReadyForAutoSend: true,
	}

	result, err := f.manager.Sweep(context.Background(), "me@example.com")
	if err != nil {
		t.Fatalf("Sweep() failed: %v", err)
	}
	if result.Responded != 1 {
		t.Fatalf("result = %+v", result)
	}
	if len(f.box.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(f.box.sent))
	}
	if len(f.ledger.records) != 1 || !f.ledger.records[0].ExactMatch {
		t.Errorf("autosend record = %+v", f.ledger.records)
	}

	// A second sweep sees the existing record and does not resend.
	f.box.messages = []*mail.Message{testMessage("m1")}
	result, err = f.manager.Sweep(context.Background(), "me@example.com")
	if err != nil {
		t.Fatalf("second Sweep() failed: %v", err)
	}
	if result.Responded != 0 || result.Skipped != 1 {
		t.Errorf("second sweep result = %+v", result)
	}
	if len(f.box.sent) != 1 {
		t.Errorf("sent = %d after second sweep, want still 1", len(f.box.sent))
	}
}

func TestSweepNotReadyDoesNotRespond(t *testing.T) {
	f := newFixture(t, WithAutosend(true))
	f.box.messages = []*mail.Message{testMessage("m1")}
	// Stats present but below both thresholds.
	f.ledger.stats["me@example.com"] = learning.AccountStats{
		Account:       "me@example.com",
		TotalEdits:    3,
		AvgSimilarity: 1.0,
	}

	result, err := f.manager.Sweep(context.Background(), "me@example.com")
	if err != nil {
		t.Fatalf("Sweep() failed: %v", err)
	}
	if result.Responded != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestOpenByIDFetchesMessage(t *testing.T) {
	f := newFixture(t)
	f.box.messages = []*mail.Message{testMessage("m1")}

	sess, err := f.manager.OpenByID(context.Background(), "me@example.com", "m1")
	if err != nil {
		t.Fatalf("OpenByID() failed: %v", err)
	}
	if sess.Message.ID != "m1" {
		t.Errorf("Message.ID = %q, want m1", sess.Message.ID)
	}
	if sess.State() != draft.StateEditable {
		t.Errorf("State() = %s, want editable", sess.State())
	}
}

func TestOpenByIDUnknownMessage(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.OpenByID(context.Background(), "me@example.com", "nope")
	if !provider.IsNotFound(err) {
		t.Errorf("OpenByID() = %v, want not-found", err)
	}
	if f.manager.Session() != nil {
		t.Error("failed open left a session behind")
	}
}
