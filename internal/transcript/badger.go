package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// BadgerStore keeps the archive in a local BadgerDB directory, so turns
// saved by one command are visible to the next.
//
// Keys:
//
//	turn/<issue>/<sent_at nanos>/<id>  JSON Record
//	id/<id>                            marker for duplicate detection
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(dirPath string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dirPath).
		WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open transcript database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func issuePrefix(issueID string) []byte {
	return []byte("turn/" + url.PathEscape(issueID) + "/")
}

func (s *BadgerStore) SaveTurn(_ context.Context, record Record) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.SentAt.IsZero() {
		record.SentAt = time.Now().UTC()
	}
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}
	marker := []byte("id/" + record.ID)
	key := append(issuePrefix(record.IssueID), fmt.Sprintf("%020d/%s", record.SentAt.UnixNano(), record.ID)...)

	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(marker)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check turn %s: %w", record.ID, err)
		}
		if err := txn.Set(key, value); err != nil {
			return fmt.Errorf("save turn %s: %w", record.ID, err)
		}
		return txn.Set(marker, nil)
	})
}

func (s *BadgerStore) Turns(_ context.Context, issueID string, limit int) ([]Record, error) {
	prefix := issuePrefix(issueID)
	var out []Record
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 64, Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			var rec Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("decode turn %s: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && limit < len(out) {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *BadgerStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
