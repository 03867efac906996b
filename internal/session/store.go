package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ent0n29/lexclaim/internal/observability"
)

const (
	keyToken     = "auth_token"
	keyIdentity  = "user"
	keyAnonymous = "anonymous"
)

var allKeys = []string{keyToken, keyIdentity, keyAnonymous}

// Backend is durable key/value storage for the session. Apply must write puts
// and deletes as one atomic batch.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Apply(ctx context.Context, puts map[string][]byte, deletes []string) error
	Close() error
}

// Store owns the persisted session. No other component writes it directly.
type Store struct {
	backend Backend
	metrics *observability.Metrics
	logger  *slog.Logger
}

func NewStore(backend Backend, metrics *observability.Metrics, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{backend: backend, metrics: metrics, logger: logger}
}

// Load returns the persisted session, or the empty session when nothing usable
// is stored. Corrupt state is cleared.
func (s *Store) Load(ctx context.Context) Session {
	token, err := s.get(ctx, keyToken)
	if err != nil {
		s.logger.Warn("session load failed", "error", err)
		return Session{}
	}
	rawIdentity, err := s.get(ctx, keyIdentity)
	if err != nil {
		s.logger.Warn("session load failed", "error", err)
		return Session{}
	}
	rawAnonymous, err := s.get(ctx, keyAnonymous)
	if err != nil {
		s.logger.Warn("session load failed", "error", err)
		return Session{}
	}

	out := Session{
		Token:     strings.TrimSpace(string(token)),
		Anonymous: string(rawAnonymous) == "1",
	}
	if len(rawIdentity) > 0 {
		var id Identity
		if err := json.Unmarshal(rawIdentity, &id); err != nil {
			s.discardCorrupt(ctx, fmt.Errorf("decode identity: %w", err))
			return Session{}
		}
		out.Identity = &id
	}
	if err := out.Validate(); err != nil {
		s.discardCorrupt(ctx, err)
		return Session{}
	}
	return out
}

// Save overwrites the persisted session in one batch.
func (s *Store) Save(ctx context.Context, sess Session) error {
	sess.Token = strings.TrimSpace(sess.Token)
	if err := sess.Validate(); err != nil {
		return err
	}
	if !sess.HasToken() {
		return s.Clear(ctx)
	}

	puts := map[string][]byte{keyToken: []byte(sess.Token)}
	var deletes []string
	if sess.Identity != nil {
		raw, err := json.Marshal(sess.Identity)
		if err != nil {
			return fmt.Errorf("encode identity: %w", err)
		}
		puts[keyIdentity] = raw
	} else {
		deletes = append(deletes, keyIdentity)
	}
	if sess.Anonymous {
		puts[keyAnonymous] = []byte("1")
	} else {
		deletes = append(deletes, keyAnonymous)
	}

	if err := s.backend.Apply(ctx, puts, deletes); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	s.metrics.ObserveSessionEvent("saved")
	return nil
}

// Clear removes the persisted session.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.backend.Apply(ctx, nil, allKeys); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	s.metrics.ObserveSessionEvent("cleared")
	return nil
}

// PromoteAnonymous stores a guest token handed out by the backend. It only
// acts when no credential is held; an existing session always wins. The
// returned bool reports whether the token was stored.
func (s *Store) PromoteAnonymous(ctx context.Context, token string, anonymous bool) (bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return false, nil
	}
	current := s.Load(ctx)
	if current.HasToken() {
		if current.Token != token {
			s.logger.Info("guest token ignored, session already holds a credential",
				"authenticated", current.Authenticated())
		}
		return false, nil
	}
	if err := s.Save(ctx, Session{Token: token, Anonymous: anonymous}); err != nil {
		return false, err
	}
	s.metrics.ObserveSessionEvent("promoted")
	return true, nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.backend.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, nil
	}
	return v, err
}

func (s *Store) discardCorrupt(ctx context.Context, cause error) {
	s.logger.Warn("discarding corrupt session", "error", cause)
	s.metrics.ObserveSessionEvent("corrupt")
	if err := s.Clear(ctx); err != nil {
		s.logger.Warn("clear corrupt session failed", "error", err)
	}
}
