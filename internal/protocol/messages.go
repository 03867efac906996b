package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeCreateIssue          MessageType = "create_issue"
	TypeSendTurn             MessageType = "send_turn"
	TypeResume               MessageType = "resume"
	TypeDownload             MessageType = "download"
	TypeConversationSnapshot MessageType = "conversation_snapshot"
	TypeDownloadReady        MessageType = "download_ready"
	TypeSystemEvent          MessageType = "system_event"
	TypeErrorEvent           MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type CreateIssue struct {
	Type        MessageType `json:"type"`
	Description string      `json:"description"`
}

type SendTurn struct {
	Type    MessageType `json:"type"`
	IssueID string      `json:"issue_id"`
	Text    string      `json:"text"`
}

type Resume struct {
	Type    MessageType `json:"type"`
	IssueID string      `json:"issue_id"`
}

type Download struct {
	Type    MessageType `json:"type"`
	IssueID string      `json:"issue_id"`
}

type Turn struct {
	ID        string    `json:"id"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	SentAt    time.Time `json:"sent_at"`
	Synthetic bool      `json:"synthetic,omitempty"`
}

type ConversationSnapshot struct {
	Type         MessageType `json:"type"`
	IssueID      string      `json:"issue_id"`
	State        string      `json:"state"`
	Ended        bool        `json:"ended"`
	Outcome      string      `json:"outcome"`
	Downloadable bool        `json:"downloadable"`
	Turns        []Turn      `json:"turns"`
}

type DownloadReady struct {
	Type     MessageType `json:"type"`
	IssueID  string      `json:"issue_id"`
	FileName string      `json:"file_name"`
	Path     string      `json:"path"`
}

type SystemEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	IssueID   string      `json:"issue_id,omitempty"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeCreateIssue:
		var msg CreateIssue
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeSendTurn:
		var msg SendTurn
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.IssueID) == "" {
			return nil, errors.New("invalid send_turn")
		}
		return msg, nil
	case TypeResume:
		var msg Resume
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.IssueID) == "" {
			return nil, errors.New("invalid resume")
		}
		return msg, nil
	case TypeDownload:
		var msg Download
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.IssueID) == "" {
			return nil, errors.New("invalid download")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
