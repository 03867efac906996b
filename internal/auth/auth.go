package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/ent0n29/lexclaim/internal/apiclient"
	"github.com/ent0n29/lexclaim/internal/session"
)

var (
	ErrProviderDenied    = errors.New("sign-in was refused by the provider")
	ErrMalformedCallback = errors.New("sign-in callback is malformed")
	ErrNoUser            = errors.New("sign-in callback carries no user")
	ErrInvalidToken      = errors.New("token was rejected by the server")
)

// Result is the payload the backend forwards to the callback page.
type Result struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	User        *User  `json:"user"`
}

type User struct {
	ID        apiclient.FlexID `json:"id"`
	Email     string           `json:"email"`
	FirstName string           `json:"first_name"`
	LastName  string           `json:"last_name"`
	Name      string           `json:"name"`
	AvatarURL string           `json:"avatar_url"`
	Picture   string           `json:"picture"`
}

func (u User) identity() *session.Identity {
	name := strings.TrimSpace(u.Name)
	if name == "" {
		name = strings.TrimSpace(u.FirstName + " " + u.LastName)
	}
	avatar := u.AvatarURL
	if avatar == "" {
		avatar = u.Picture
	}
	return &session.Identity{
		ID:          string(u.ID),
		Email:       u.Email,
		DisplayName: name,
		AvatarURL:   avatar,
	}
}

// ParseCallback reads ?data=<json> or ?error=<code> from the OAuth redirect.
func ParseCallback(q url.Values) (Result, error) {
	if code := strings.TrimSpace(q.Get("error")); code != "" {
		return Result{}, fmt.Errorf("%w: %s", ErrProviderDenied, code)
	}
	raw := q.Get("data")
	if strings.TrimSpace(raw) == "" {
		return Result{}, fmt.Errorf("%w: missing data", ErrMalformedCallback)
	}
	var res Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	return res, nil
}

type Sessions interface {
	Load(ctx context.Context) session.Session
	Save(ctx context.Context, sess session.Session) error
	Clear(ctx context.Context) error
}

type Verifier interface {
	VerifyToken(ctx context.Context, token string) (apiclient.TokenInfo, error)
	SignInURL() string
}

type Service struct {
	sessions Sessions
	api      Verifier
	logger   *slog.Logger
}

func NewService(sessions Sessions, api Verifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{sessions: sessions, api: api, logger: logger}
}

func (s *Service) SignInURL() string {
	return s.api.SignInURL()
}

// Complete stores the credential from an OAuth callback. Nothing is stored
// unless the payload names a user; a guest session is replaced outright.
func (s *Service) Complete(ctx context.Context, q url.Values) (session.Session, error) {
	res, err := ParseCallback(q)
	if err != nil {
		return session.Session{}, err
	}
	if res.User == nil {
		return session.Session{}, ErrNoUser
	}
	token := strings.TrimSpace(res.AccessToken)
	if token == "" {
		return session.Session{}, fmt.Errorf("%w: missing access_token", ErrMalformedCallback)
	}
	sess := session.Session{Token: token, Identity: res.User.identity()}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return session.Session{}, fmt.Errorf("save session: %w", err)
	}
	s.logger.Info("signed in", "user_id", sess.Identity.ID)
	return sess, nil
}

// CompleteURL accepts the full redirect URL, as pasted from a browser.
func (s *Service) CompleteURL(ctx context.Context, rawURL string) (session.Session, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return session.Session{}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	return s.Complete(ctx, u.Query())
}

// UseToken verifies a raw access token with the backend and stores it.
func (s *Service) UseToken(ctx context.Context, token string) (session.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return session.Session{}, ErrInvalidToken
	}
	info, err := s.api.VerifyToken(ctx, token)
	if err != nil {
		return session.Session{}, fmt.Errorf("verify token: %w", err)
	}
	if !info.Valid {
		return session.Session{}, ErrInvalidToken
	}
	sess := session.Session{Token: token, Identity: &session.Identity{ID: info.UserID, Email: info.Email}}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return session.Session{}, fmt.Errorf("save session: %w", err)
	}
	return sess, nil
}

func (s *Service) Current(ctx context.Context) session.Session {
	return s.sessions.Load(ctx)
}

func (s *Service) Logout(ctx context.Context) error {
	if err := s.sessions.Clear(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	s.logger.Info("signed out")
	return nil
}
