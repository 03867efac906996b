package transcript

import (
	"context"
	"time"
)

// Record is one archived conversation turn.
type Record struct {
	ID          string    `json:"id"`
	IssueID     string    `json:"issue_id"`
	Speaker     string    `json:"speaker"`
	Text        string    `json:"text"`
	Synthetic   bool      `json:"synthetic"`
	PIIRedacted bool      `json:"pii_redacted"`
	SentAt      time.Time `json:"sent_at"`
}

// Store archives turns locally so a conversation can be reviewed offline.
type Store interface {
	SaveTurn(ctx context.Context, record Record) error
	// Turns returns the newest limit records of an issue in chronological
	// order. limit <= 0 means all.
	Turns(ctx context.Context, issueID string, limit int) ([]Record, error)
	Close() error
}
