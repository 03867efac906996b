package transcript

import (
	"context"
	"strings"

	"github.com/ent0n29/lexclaim/internal/policy"
)

// NewStore picks the archive backend: postgres when databaseURL is set,
// otherwise badger under dir, otherwise in-memory. With redactPII set, turn
// text is scrubbed before it is stored.
func NewStore(ctx context.Context, databaseURL, dir string, redactPII bool) (Store, error) {
	var store Store
	switch {
	case strings.TrimSpace(databaseURL) != "":
		pg, err := NewPostgresStore(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		store = pg
	case strings.TrimSpace(dir) != "":
		b, err := NewBadgerStore(dir)
		if err != nil {
			return nil, err
		}
		store = b
	default:
		store = NewInMemoryStore()
	}
	if redactPII {
		store = redactingStore{Store: store}
	}
	return store, nil
}

type redactingStore struct {
	Store
}

func (s redactingStore) SaveTurn(ctx context.Context, record Record) error {
	text, changed := policy.RedactPII(record.Text)
	record.Text = text
	record.PIIRedacted = record.PIIRedacted || changed
	return s.Store.SaveTurn(ctx, record)
}
