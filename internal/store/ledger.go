package store

import (
	"context"
	"fmt"
	"time"

	"github.com/whall/draftpilot/internal/learning"
)

// LedgerStore implements learning.Ledger on top of the SQLite store,
// evaluating readiness against the configured policy.
type LedgerStore struct {
	store  *Store
	policy learning.Policy
}

// NewLedger wraps the store as a learning ledger with the given policy.
func NewLedger(s *Store, policy learning.Policy) *LedgerStore {
	return &LedgerStore{store: s, policy: policy}
}

// Append persists one learning record. Records are never updated or deleted.
func (l *LedgerStore) Append(ctx context.Context, rec learning.Record) error {
	_, err := l.store.db.ExecContext(ctx, `
		INSERT INTO learning_records (
			id, created_at, account, message_id, sender, subject,
			original_body, generated, final, category, importance,
			edit_distance, similarity, exact_match, length_delta
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.Timestamp, rec.Account, rec.MessageID, rec.Sender, rec.Subject,
		rec.OriginalBody, rec.GeneratedDraft, rec.FinalDraft, string(rec.Category),
		string(rec.Importance), rec.EditDistance, rec.Similarity,
		boolToInt(rec.ExactMatch), rec.LengthDelta,
	)
	if err != nil {
		return fmt.Errorf("append learning record: %w", err)
	}
	return nil
}

// StatsFor aggregates the account's records. An account with no records
// yields zero stats.
func (l *LedgerStore) StatsFor(ctx context.Context, account string) (learning.AccountStats, error) {
	stats := learning.AccountStats{Account: account}

	err := l.store.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(AVG(similarity), 0)
		FROM learning_records
		WHERE account = ?
	`, account).Scan(&stats.TotalEdits, &stats.AvgSimilarity)
	if err != nil {
		return learning.AccountStats{}, fmt.Errorf("aggregate learning records: %w", err)
	}

	stats.ReadyForAutoSend = l.policy.Ready(stats.TotalEdits, stats.AvgSimilarity)
	return stats, nil
}

// RecordSummary is one row of the record listing used by the CLI.
type RecordSummary struct {
	ID           string
	Timestamp    time.Time
	Account      string
	MessageID    string
	Subject      string
	Category     string
	Similarity   float64
	EditDistance int
	ExactMatch   bool
}

// ListRecords returns the most recent records for an account, newest first.
// Pass account == "" for all accounts.
func (l *LedgerStore) ListRecords(ctx context.Context, account string, limit int) ([]RecordSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, created_at, account, message_id, subject, category,
		       similarity, edit_distance, exact_match
		FROM learning_records
	`
	args := []interface{}{}
	if account != "" {
		query += " WHERE account = ?"
		args = append(args, account)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list learning records: %w", err)
	}
	defer rows.Close()

	var out []RecordSummary
	for rows.Next() {
		var r RecordSummary
		var exact int
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Account, &r.MessageID,
			&r.Subject, &r.Category, &r.Similarity, &r.EditDistance, &exact); err != nil {
			return nil, fmt.Errorf("scan learning record: %w", err)
		}
		r.ExactMatch = exact != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountForMessage reports how many records exist for a message on an
// account. Used to verify save/send flows never double-record.
func (l *LedgerStore) CountForMessage(ctx context.Context, account, messageID string) (int64, error) {
	var n int64
	err := l.store.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM learning_records WHERE account = ? AND message_id = ?
	`, account, messageID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records for message: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ learning.Ledger = (*LedgerStore)(nil)
