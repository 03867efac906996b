package issue

import (
	"errors"
	"time"
)

var (
	ErrConversationEnded = errors.New("conversation has ended")
	ErrTurnInFlight      = errors.New("a turn is already awaiting a reply")
	ErrControllerClosed  = errors.New("controller closed")
	ErrSignInRequired    = errors.New("sign-in required to file an issue")
	// ErrConversationNotLoaded is returned for sends on an issue this
	// controller has neither created nor resumed.
	ErrConversationNotLoaded = errors.New("conversation not loaded")
)

type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Outcome only has meaning once a conversation has ended.
type Outcome string

const (
	OutcomeUnresolved     Outcome = "unresolved"
	OutcomeSuccess        Outcome = "success"
	OutcomeNoActionNeeded Outcome = "no_action_needed"
)

type State string

const (
	StateCreated       State = "created"
	StateAwaitingReply State = "awaiting_reply"
	StateEnded         State = "ended"
)

type Turn struct {
	ID      string    `json:"id"`
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	SentAt  time.Time `json:"sent_at"`
	// Synthetic turns are produced locally to report a failed send.
	Synthetic bool `json:"synthetic,omitempty"`
}

// Conversation is a snapshot of one issue's chat.
type Conversation struct {
	IssueID string  `json:"issue_id"`
	Turns   []Turn  `json:"turns"`
	Ended   bool    `json:"ended"`
	Outcome Outcome `json:"outcome"`
	State   State   `json:"state"`
}

// Downloadable reports whether a generated document can be fetched.
func (c Conversation) Downloadable() bool {
	return c.Ended && c.Outcome == OutcomeSuccess
}

func outcomeFrom(ended bool, success *bool) Outcome {
	switch {
	case !ended:
		return OutcomeUnresolved
	case success != nil && *success:
		return OutcomeSuccess
	default:
		return OutcomeNoActionNeeded
	}
}

func speakerFromRole(role string) Speaker {
	if role == string(SpeakerUser) {
		return SpeakerUser
	}
	return SpeakerAssistant
}
