package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/lexclaim/internal/observability"
	"github.com/ent0n29/lexclaim/internal/policy"
	"github.com/ent0n29/lexclaim/internal/reliability"
	"github.com/ent0n29/lexclaim/internal/session"
)

const maxBodyBytes = 64 << 20

// Navigator sends the user to the sign-in surface after their session was
// rejected.
type Navigator interface {
	RedirectToSignIn(ctx context.Context, cause error)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, cause error)

func (f NavigatorFunc) RedirectToSignIn(ctx context.Context, cause error) { f(ctx, cause) }

// UnauthorizedAction is what the client does after a 401.
type UnauthorizedAction struct {
	ClearSession bool
	Redirect     bool
}

// UnauthorizedPolicy separates "session expired" from "never signed in": only
// a credential that was attached to the rejected call is discarded.
func UnauthorizedPolicy(hadToken bool) UnauthorizedAction {
	return UnauthorizedAction{ClearSession: hadToken, Redirect: hadToken}
}

// Options controls client construction.
type Options struct {
	BaseURL           string
	Timeout           time.Duration
	GuestTokenHeader  string
	AnonymousHeader   string
	OAuthProviderPath string
	HTTPClient        *http.Client
	Navigator         Navigator
	Metrics           *observability.Metrics
	Logger            *slog.Logger
}

// Client is the only component that talks to the backend. It attaches the
// session credential and turns every failure into a reliability.Error.
type Client struct {
	baseURL           string
	guestTokenHeader  string
	anonymousHeader   string
	oauthProviderPath string
	http              *http.Client
	sessions          *session.Store
	navigator         Navigator
	metrics           *observability.Metrics
	logger            *slog.Logger
}

func New(sessions *session.Store, opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:           strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		guestTokenHeader:  opts.GuestTokenHeader,
		anonymousHeader:   opts.AnonymousHeader,
		oauthProviderPath: opts.OAuthProviderPath,
		http:              hc,
		sessions:          sessions,
		navigator:         opts.Navigator,
		metrics:           opts.Metrics,
		logger:            logger,
	}
	if c.guestTokenHeader == "" {
		c.guestTokenHeader = "X-Guest-Token"
	}
	if c.anonymousHeader == "" {
		c.anonymousHeader = "X-Anonymous"
	}
	if c.oauthProviderPath == "" {
		c.oauthProviderPath = "/auth/google"
	}
	return c
}

// SetNavigator replaces the sign-in redirect target.
func (c *Client) SetNavigator(n Navigator) {
	c.navigator = n
}

// Request is one backend call.
type Request struct {
	Operation string
	Method    string
	Path      string
	Body      any
}

// Response is a successful (2xx) backend reply.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Do sends req with the current credential and classifies the outcome.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	started := time.Now()
	resp, err := c.do(ctx, req)
	outcome := ""
	if err != nil {
		outcome = string(reliability.KindOf(err))
	}
	c.metrics.ObserveRequest(req.Operation, outcome, time.Since(started))
	return resp, err
}

func (c *Client) do(ctx context.Context, req Request) (*Response, error) {
	sess := c.sessions.Load(ctx)
	hadToken := sess.HasToken()

	decision := policy.DecideRequest(req.Method, req.Path, hadToken)
	if decision.Blocked {
		return nil, reliability.New(reliability.KindUnauthorized, 0, decision.Reason, nil)
	}

	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, reliability.New(reliability.KindUnexpected, 0, "marshal request", err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, body)
	if err != nil {
		return nil, reliability.New(reliability.KindUnexpected, 0, "create request", err)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if hadToken {
		httpReq.Header.Set("Authorization", "Bearer "+sess.Token)
	}

	res, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Debug("backend unreachable", "operation", req.Operation, "error", policy.RedactSecrets(err.Error()))
		return nil, reliability.New(reliability.KindNetwork, 0, "", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, reliability.New(reliability.KindNetwork, res.StatusCode, "read response", err)
	}

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return &Response{Status: res.StatusCode, Header: res.Header, Body: data}, nil
	}

	kind := reliability.ClassifyStatus(res.StatusCode)
	apiErr := reliability.New(kind, res.StatusCode, serverMessage(data), nil)
	c.logger.Info("backend call failed",
		"operation", req.Operation,
		"status", res.StatusCode,
		"kind", kind)

	if kind == reliability.KindUnauthorized {
		c.applyUnauthorized(ctx, hadToken, apiErr)
	}
	return nil, apiErr
}

func (c *Client) applyUnauthorized(ctx context.Context, hadToken bool, cause error) {
	action := UnauthorizedPolicy(hadToken)
	if action.ClearSession {
		if err := c.sessions.Clear(ctx); err != nil {
			c.logger.Warn("clear rejected session failed", "error", err)
		}
	}
	if action.Redirect && c.navigator != nil {
		c.navigator.RedirectToSignIn(ctx, cause)
	}
}

// serverMessage pulls the human-readable reason out of an error body. The
// backend answers {"detail": "..."}; validation failures carry a list.
func serverMessage(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Detail) > 0 {
		var s string
		if err := json.Unmarshal(payload.Detail, &s); err == nil {
			return s
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(payload.Detail, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, it := range items {
				if it.Msg != "" {
					msgs = append(msgs, it.Msg)
				}
			}
			if len(msgs) > 0 {
				return strings.Join(msgs, "; ")
			}
		}
	}
	return "server error"
}

func decodeJSON(resp *Response, out any) error {
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return reliability.New(reliability.KindUnexpected, resp.Status, "decode response", err)
	}
	return nil
}

// FlexID accepts identifiers encoded either as JSON numbers or strings.
type FlexID string

func (f *FlexID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*f = FlexID(n.String())
	return nil
}

var errMissingIssueID = errors.New("response has no issue_id")
