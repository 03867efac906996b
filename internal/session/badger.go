package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

const keyPrefix = "session/"

// BadgerBackend persists the session in a local BadgerDB directory so it
// survives restarts.
type BadgerBackend struct {
	db *badger.DB
}

func NewBadgerBackend(dirPath string) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(dirPath).
		WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}
	return &BadgerBackend{db: db}, nil
}

func (b *BadgerBackend) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return out, nil
}

func (b *BadgerBackend) Apply(_ context.Context, puts map[string][]byte, deletes []string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		for _, k := range deletes {
			if err := txn.Delete([]byte(keyPrefix + k)); err != nil {
				return fmt.Errorf("delete %s: %w", k, err)
			}
		}
		for k, v := range puts {
			if err := txn.Set([]byte(keyPrefix+k), v); err != nil {
				return fmt.Errorf("set %s: %w", k, err)
			}
		}
		return nil
	})
}

func (b *BadgerBackend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}
