// Package learning defines the append-only draft-learning ledger.
//
// Every save-or-send action appends one Record comparing the generated draft
// with the text the user finalized. Per-account aggregates over those records
// form the accuracy signal that decides whether replies can eventually be
// sent without review.
package learning

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/whall/draftpilot/internal/mail"
	"github.com/whall/draftpilot/internal/textdiff"
	"github.com/whall/draftpilot/internal/triage"
)

// Record is one persisted comparison between a generated draft and the
// human-finalized text. Records are immutable once appended.
type Record struct {
	ID             string            `json:"id"`
	Timestamp      time.Time         `json:"timestamp"`
	Account        string            `json:"account"`
	MessageID      string            `json:"message_id"`
	Sender         string            `json:"sender"`
	Subject        string            `json:"subject"`
	OriginalBody   string            `json:"original_body"`
	GeneratedDraft string            `json:"generated_draft"`
	FinalDraft     string            `json:"final_draft"`
	Category       triage.Category   `json:"category"`
	Importance     triage.Importance `json:"importance"`
	EditDistance   int               `json:"edit_distance"`
	Similarity     float64           `json:"similarity"`
	ExactMatch     bool              `json:"exact_match"`
	LengthDelta    int               `json:"length_delta"`
}

// NewRecord builds a record for one draft decision, computing the edit
// distance, similarity, and length delta between the generated and final
// drafts.
func NewRecord(account string, msg *mail.Message, ann triage.Annotation, generated, final string) Record {
	dist := textdiff.EditDistance(generated, final)
	return Record{
		ID:             uuid.NewString(),
		Timestamp:      time.Now().UTC(),
		Account:        account,
		MessageID:      msg.ID,
		Sender:         msg.Sender,
		Subject:        msg.Subject,
		OriginalBody:   msg.Body,
		GeneratedDraft: generated,
		FinalDraft:     final,
		Category:       ann.Category,
		Importance:     ann.Importance,
		EditDistance:   dist,
		Similarity:     textdiff.Similarity(generated, final),
		ExactMatch:     dist == 0,
		LengthDelta:    len(final) - len(generated),
	}
}

// AccountStats is the derived learning signal for one account. It is
// recomputed from the account's records, never stored independently.
type AccountStats struct {
	Account          string  `json:"account"`
	TotalEdits       int64   `json:"total_edits"`
	AvgSimilarity    float64 `json:"avg_similarity"`
	ReadyForAutoSend bool    `json:"ready_for_auto_send"`
}

// Policy holds the tunable thresholds gating autonomous sending.
type Policy struct {
	// MinSamples is the minimum number of records before readiness can be
	// evaluated at all.
	MinSamples int64

	// MinAvgSimilarity is the minimum rolling average similarity, in [0,1].
	MinAvgSimilarity float64
}

// DefaultPolicy matches the thresholds asserted in the product copy:
// at least 20 reviewed drafts averaging 95% similarity.
func DefaultPolicy() Policy {
	return Policy{MinSamples: 20, MinAvgSimilarity: 0.95}
}

// Ready reports whether the given sample count and average similarity satisfy
// both thresholds simultaneously.
func (p Policy) Ready(samples int64, avgSimilarity float64) bool {
	return samples >= p.MinSamples && avgSimilarity >= p.MinAvgSimilarity
}

// Ledger is the append-only record sink and stats source. The ledger is the
// sole writer of records; nothing updates or deletes them.
type Ledger interface {
	// Append persists one record. Callers in the save/send path treat
	// failures as non-fatal: log and move on, never block the mail action.
	Append(ctx context.Context, rec Record) error

	// StatsFor aggregates the account's records against the ledger's
	// policy. An account with no records yields zero stats, not an error.
	StatsFor(ctx context.Context, account string) (AccountStats, error)
}
