package session

import (
	"errors"
	"strings"
)

var (
	ErrInvalidSession = errors.New("invalid session")
	ErrKeyNotFound    = errors.New("key not found")
)

// Identity is the profile snapshot cached next to the credential.
type Identity struct {
	ID          string `json:"id,omitempty"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Session is the client's authentication state. The zero value is the
// anonymous session with no credential.
type Session struct {
	Token     string    `json:"-"`
	Identity  *Identity `json:"identity,omitempty"`
	Anonymous bool      `json:"anonymous"`
}

// HasToken reports whether a bearer credential is held.
func (s Session) HasToken() bool {
	return strings.TrimSpace(s.Token) != ""
}

// Authenticated reports whether the credential belongs to a signed-in user.
func (s Session) Authenticated() bool {
	return s.HasToken() && !s.Anonymous
}

// Validate enforces: no token means no identity; a guest identity has no
// stable id.
func (s Session) Validate() error {
	if !s.HasToken() && s.Identity != nil {
		return errors.Join(ErrInvalidSession, errors.New("identity without token"))
	}
	if !s.HasToken() && s.Anonymous {
		return errors.Join(ErrInvalidSession, errors.New("anonymous flag without token"))
	}
	if s.Anonymous && s.Identity != nil && s.Identity.ID != "" {
		return errors.Join(ErrInvalidSession, errors.New("anonymous session with stable identity id"))
	}
	return nil
}

func (s Session) clone() Session {
	c := s
	if s.Identity != nil {
		id := *s.Identity
		c.Identity = &id
	}
	return c
}
