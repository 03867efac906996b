package apiclient

import (
	"context"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ent0n29/lexclaim/internal/reliability"
)

// CreateIssueResult is the backend's answer to a new grievance.
type CreateIssueResult struct {
	IssueID   string
	CreatedAt time.Time
	// GuestToken is set when the backend issued a credential for an
	// anonymous caller.
	GuestToken string
	Anonymous  bool
}

// WireMessage is one turn as the backend sends it.
type WireMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// ChatUpdate is returned by both send and history calls.
type ChatUpdate struct {
	NewMessages []WireMessage `json:"new_messages"`
	IsEnded     bool          `json:"is_ended"`
	Success     *bool         `json:"success"`
}

// Document is a downloaded artifact. It is handed on, never cached.
type Document struct {
	Data        []byte
	ContentType string
	FileName    string
}

type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ProfileUpdate carries only the editable fields; nil means unchanged.
type ProfileUpdate struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Phone     *string `json:"phone,omitempty"`
}

type DocumentSummary struct {
	IssueID   string    `json:"issue_id"`
	Title     string    `json:"title"`
	Type      string    `json:"type"`
	Recipient string    `json:"recipient"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type TokenInfo struct {
	Valid  bool   `json:"valid"`
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

func issuePath(issueID, suffix string) string {
	return "/issue/" + url.PathEscape(issueID) + "/" + suffix
}

func (c *Client) CreateIssue(ctx context.Context, text string) (CreateIssueResult, error) {
	resp, err := c.Do(ctx, Request{
		Operation: "create_issue",
		Method:    http.MethodPost,
		Path:      "/issue/create/",
		Body:      map[string]string{"text": text},
	})
	if err != nil {
		return CreateIssueResult{}, err
	}
	var payload struct {
		IssueID   FlexID    `json:"issue_id"`
		CreatedAt time.Time `json:"created_at"`
	}
	if err := decodeJSON(resp, &payload); err != nil {
		return CreateIssueResult{}, err
	}
	if payload.IssueID == "" {
		return CreateIssueResult{}, reliability.New(reliability.KindUnexpected, resp.Status, "", errMissingIssueID)
	}
	return CreateIssueResult{
		IssueID:    string(payload.IssueID),
		CreatedAt:  payload.CreatedAt,
		GuestToken: strings.TrimSpace(resp.Header.Get(c.guestTokenHeader)),
		Anonymous:  parseFlag(resp.Header.Get(c.anonymousHeader)),
	}, nil
}

func (c *Client) SendMessage(ctx context.Context, issueID, text string) (ChatUpdate, error) {
	resp, err := c.Do(ctx, Request{
		Operation: "send_message",
		Method:    http.MethodPost,
		Path:      issuePath(issueID, "chat/"),
		Body:      map[string]string{"text": text},
	})
	if err != nil {
		return ChatUpdate{}, err
	}
	var out ChatUpdate
	return out, decodeJSON(resp, &out)
}

func (c *Client) ChatHistory(ctx context.Context, issueID string) (ChatUpdate, error) {
	resp, err := c.Do(ctx, Request{
		Operation: "chat_history",
		Method:    http.MethodGet,
		Path:      issuePath(issueID, "chat/"),
	})
	if err != nil {
		return ChatUpdate{}, err
	}
	var out ChatUpdate
	return out, decodeJSON(resp, &out)
}

func (c *Client) DownloadDocument(ctx context.Context, issueID string) (Document, error) {
	resp, err := c.Do(ctx, Request{
		Operation: "download_document",
		Method:    http.MethodGet,
		Path:      issuePath(issueID, "download/"),
	})
	if err != nil {
		return Document{}, err
	}
	return Document{
		Data:        resp.Body,
		ContentType: resp.Header.Get("Content-Type"),
		FileName:    attachmentName(resp.Header.Get("Content-Disposition")),
	}, nil
}

func (c *Client) Profile(ctx context.Context) (Profile, error) {
	resp, err := c.Do(ctx, Request{Operation: "profile", Method: http.MethodGet, Path: "/profile/me"})
	if err != nil {
		return Profile{}, err
	}
	return decodeProfile(resp)
}

func (c *Client) UpdateProfile(ctx context.Context, update ProfileUpdate) (Profile, error) {
	resp, err := c.Do(ctx, Request{Operation: "profile", Method: http.MethodPut, Path: "/profile/me", Body: update})
	if err != nil {
		return Profile{}, err
	}
	return decodeProfile(resp)
}

func decodeProfile(resp *Response) (Profile, error) {
	var raw struct {
		Profile
		ID FlexID `json:"id"`
	}
	if err := decodeJSON(resp, &raw); err != nil {
		return Profile{}, err
	}
	out := raw.Profile
	out.ID = string(raw.ID)
	return out, nil
}

func (c *Client) Documents(ctx context.Context) ([]DocumentSummary, error) {
	resp, err := c.Do(ctx, Request{Operation: "documents", Method: http.MethodGet, Path: "/profile/documents/"})
	if err != nil {
		return nil, err
	}
	var raw []struct {
		DocumentSummary
		IssueID FlexID `json:"issue_id"`
	}
	if err := decodeJSON(resp, &raw); err != nil {
		return nil, err
	}
	out := make([]DocumentSummary, 0, len(raw))
	for _, r := range raw {
		d := r.DocumentSummary
		d.IssueID = string(r.IssueID)
		out = append(out, d)
	}
	return out, nil
}

func (c *Client) VerifyToken(ctx context.Context, token string) (TokenInfo, error) {
	resp, err := c.Do(ctx, Request{
		Operation: "verify_token",
		Method:    http.MethodPost,
		Path:      "/auth/token/verify",
		Body:      map[string]string{"token": token},
	})
	if err != nil {
		return TokenInfo{}, err
	}
	var raw struct {
		Valid  bool   `json:"valid"`
		UserID FlexID `json:"user_id"`
		Email  string `json:"email"`
	}
	if err := decodeJSON(resp, &raw); err != nil {
		return TokenInfo{}, err
	}
	return TokenInfo{Valid: raw.Valid, UserID: string(raw.UserID), Email: raw.Email}, nil
}

// SignInURL is the backend's OAuth entry point.
func (c *Client) SignInURL() string {
	return c.baseURL + c.oauthProviderPath
}

func parseFlag(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func attachmentName(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}
