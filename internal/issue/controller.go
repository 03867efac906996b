package issue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/ent0n29/lexclaim/internal/apiclient"
	"github.com/ent0n29/lexclaim/internal/observability"
	"github.com/ent0n29/lexclaim/internal/reliability"
	"github.com/ent0n29/lexclaim/internal/session"
	"github.com/ent0n29/lexclaim/internal/transcript"
)

// Backend is the slice of the API client the controller drives.
type Backend interface {
	CreateIssue(ctx context.Context, text string) (apiclient.CreateIssueResult, error)
	SendMessage(ctx context.Context, issueID, text string) (apiclient.ChatUpdate, error)
	ChatHistory(ctx context.Context, issueID string) (apiclient.ChatUpdate, error)
}

// Sessions is the slice of the session store the controller needs.
type Sessions interface {
	Load(ctx context.Context) session.Session
	PromoteAnonymous(ctx context.Context, token string, anonymous bool) (bool, error)
}

type Options struct {
	AllowAnonymous bool
	// KickoffMessage opens every new conversation. Empty disables Kickoff.
	KickoffMessage string
	Transcript     transcript.Store
	Metrics        *observability.Metrics
	Logger         *slog.Logger
	// OnChange receives a snapshot after every mutation.
	OnChange func(Conversation)
	Now      func() time.Time
}

type conversation struct {
	Conversation
	inFlight bool
	loaded   bool
}

// Controller owns the conversations shown by one view. It is safe for
// concurrent use; Close drops any result that arrives afterwards.
type Controller struct {
	backend  Backend
	sessions Sessions
	opts     Options
	logger   *slog.Logger
	resume   singleflight.Group

	mu            sync.Mutex
	closed        bool
	conversations map[string]*conversation
}

func NewController(backend Backend, sessions Sessions, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		backend:       backend,
		sessions:      sessions,
		opts:          opts,
		logger:        opts.Logger,
		conversations: make(map[string]*conversation),
	}
}

// CreateIssue files a new grievance and starts an empty conversation for it.
func (c *Controller) CreateIssue(ctx context.Context, description string) (Conversation, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return Conversation{}, reliability.Validation("describe the problem before submitting")
	}
	if c.isClosed() {
		return Conversation{}, ErrControllerClosed
	}
	if !c.opts.AllowAnonymous && !c.sessions.Load(ctx).HasToken() {
		return Conversation{}, ErrSignInRequired
	}

	res, err := c.backend.CreateIssue(ctx, description)
	if err != nil {
		return Conversation{}, fmt.Errorf("create issue: %w", err)
	}
	if res.GuestToken != "" {
		if _, err := c.sessions.PromoteAnonymous(ctx, res.GuestToken, res.Anonymous); err != nil {
			c.logger.Warn("persist guest token failed", "issue_id", res.IssueID, "error", err)
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Conversation{}, ErrControllerClosed
	}
	conv := c.track(res.IssueID)
	conv.loaded = true
	snap := conv.snapshot()
	c.mu.Unlock()

	c.logger.Info("issue created", "issue_id", res.IssueID, "guest", res.GuestToken != "")
	c.notify(snap)
	return snap, nil
}

// Kickoff sends the opening message for a fresh issue. The message is not
// shown as a user turn; only the assistant's replies are appended.
func (c *Controller) Kickoff(ctx context.Context, issueID string) (Conversation, error) {
	if strings.TrimSpace(c.opts.KickoffMessage) == "" {
		snap, _ := c.Conversation(issueID)
		return snap, nil
	}
	return c.exchange(ctx, issueID, c.opts.KickoffMessage, false)
}

// SendTurn appends the user's message optimistically and then the backend's
// replies. A failed call leaves the user turn in place followed by one
// synthetic assistant turn describing the failure. The issue must have been
// created or resumed by this controller first, so its ended flag is known.
func (c *Controller) SendTurn(ctx context.Context, issueID, text string) (Conversation, error) {
	return c.exchange(ctx, issueID, text, true)
}

func (c *Controller) exchange(ctx context.Context, issueID, text string, showUserTurn bool) (Conversation, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Conversation{}, ErrControllerClosed
	}
	conv, ok := c.conversations[issueID]
	switch {
	case !ok || !conv.loaded:
		c.mu.Unlock()
		return Conversation{}, ErrConversationNotLoaded
	case conv.Ended:
		snap := conv.snapshot()
		c.mu.Unlock()
		return snap, ErrConversationEnded
	case strings.TrimSpace(text) == "":
		snap := conv.snapshot()
		c.mu.Unlock()
		return snap, reliability.Validation("message is empty")
	case conv.inFlight:
		snap := conv.snapshot()
		c.mu.Unlock()
		return snap, ErrTurnInFlight
	}
	conv.inFlight = true
	conv.State = StateAwaitingReply
	var appended []Turn
	if showUserTurn {
		appended = append(appended, c.appendTurn(conv, SpeakerUser, text, false))
	}
	snap := conv.snapshot()
	c.mu.Unlock()

	c.notify(snap)
	c.archive(ctx, issueID, appended)

	update, err := c.backend.SendMessage(ctx, issueID, text)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Debug("dropping late reply", "issue_id", issueID)
		return Conversation{}, ErrControllerClosed
	}
	conv.inFlight = false
	appended = nil
	if err != nil {
		conv.State = StateCreated
		appended = append(appended, c.appendTurn(conv, SpeakerAssistant, reliability.TurnFailureMessage(err), true))
	} else {
		for _, m := range update.NewMessages {
			appended = append(appended, c.appendTurn(conv, speakerFromRole(m.Role), m.Text, false))
		}
		c.applyStatus(conv, update)
	}
	snap = conv.snapshot()
	c.mu.Unlock()

	c.notify(snap)
	c.archive(ctx, issueID, appended)
	if err != nil {
		c.logger.Info("turn failed", "issue_id", issueID, "kind", reliability.KindOf(err))
		return snap, fmt.Errorf("send turn: %w", err)
	}
	if snap.Ended {
		c.logger.Info("conversation ended", "issue_id", issueID, "outcome", snap.Outcome)
	}
	return snap, nil
}

// ResumeConversation loads an issue's history. Concurrent callers share one
// fetch, and once loaded the cached conversation is returned without a call.
func (c *Controller) ResumeConversation(ctx context.Context, issueID string) (Conversation, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Conversation{}, ErrControllerClosed
	}
	if conv, ok := c.conversations[issueID]; ok && conv.loaded {
		snap := conv.snapshot()
		c.mu.Unlock()
		return snap, nil
	}
	c.mu.Unlock()

	v, err, shared := c.resume.Do(issueID, func() (any, error) {
		c.mu.Lock()
		if conv, ok := c.conversations[issueID]; ok && conv.loaded {
			snap := conv.snapshot()
			c.mu.Unlock()
			return snap, nil
		}
		c.mu.Unlock()

		update, err := c.backend.ChatHistory(ctx, issueID)
		if err != nil {
			return Conversation{}, fmt.Errorf("resume conversation: %w", err)
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return Conversation{}, ErrControllerClosed
		}
		conv := c.track(issueID)
		if !conv.loaded {
			c.loadHistory(conv, update)
		}
		snap := conv.snapshot()
		c.mu.Unlock()

		c.notify(snap)
		return snap, nil
	})
	if shared {
		c.opts.Metrics.ObserveIndicator("resume_shared")
	}
	return v.(Conversation), err
}

// Conversation returns the current snapshot of an issue.
func (c *Controller) Conversation(issueID string) (Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.conversations[issueID]
	if !ok {
		return Conversation{}, false
	}
	return conv.snapshot(), true
}

// Close tears the controller down. Calls in flight finish with
// ErrControllerClosed and their results are discarded.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.opts.Metrics != nil {
		c.opts.Metrics.OpenConversation.Sub(float64(len(c.conversations)))
	}
	return nil
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// track returns the conversation for issueID, creating it if needed.
// Caller holds c.mu.
func (c *Controller) track(issueID string) *conversation {
	if conv, ok := c.conversations[issueID]; ok {
		return conv
	}
	conv := &conversation{Conversation: Conversation{
		IssueID: issueID,
		Outcome: OutcomeUnresolved,
		State:   StateCreated,
	}}
	c.conversations[issueID] = conv
	if c.opts.Metrics != nil {
		c.opts.Metrics.OpenConversation.Inc()
	}
	return conv
}

// Caller holds c.mu.
func (c *Controller) appendTurn(conv *conversation, speaker Speaker, text string, synthetic bool) Turn {
	turn := Turn{
		ID:        uuid.NewString(),
		Speaker:   speaker,
		Text:      text,
		SentAt:    c.opts.Now().UTC(),
		Synthetic: synthetic,
	}
	conv.Turns = append(conv.Turns, turn)
	c.opts.Metrics.ObserveTurn(string(speaker), synthetic)
	return turn
}

// loadHistory replaces the local turns with the server's history. Sends are
// refused until it has run, so no optimistic turn can be dropped here.
// Caller holds c.mu.
func (c *Controller) loadHistory(conv *conversation, update apiclient.ChatUpdate) {
	conv.Turns = make([]Turn, 0, len(update.NewMessages))
	for _, m := range update.NewMessages {
		c.appendTurn(conv, speakerFromRole(m.Role), m.Text, false)
	}
	c.applyStatus(conv, update)
	conv.loaded = true
}

// Caller holds c.mu.
func (c *Controller) applyStatus(conv *conversation, update apiclient.ChatUpdate) {
	conv.Ended = update.IsEnded
	conv.Outcome = outcomeFrom(update.IsEnded, update.Success)
	if conv.Ended {
		conv.State = StateEnded
	} else {
		conv.State = StateCreated
	}
}

func (c *conversation) snapshot() Conversation {
	out := c.Conversation
	out.Turns = append([]Turn(nil), c.Turns...)
	return out
}

func (c *Controller) notify(snap Conversation) {
	if c.opts.OnChange != nil {
		c.opts.OnChange(snap)
	}
}

func (c *Controller) archive(ctx context.Context, issueID string, turns []Turn) {
	if c.opts.Transcript == nil || len(turns) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, t := range turns {
		err := c.opts.Transcript.SaveTurn(ctx, transcript.Record{
			ID:        t.ID,
			IssueID:   issueID,
			Speaker:   string(t.Speaker),
			Text:      t.Text,
			Synthetic: t.Synthetic,
			SentAt:    t.SentAt,
		})
		if err != nil {
			c.logger.Warn("archive turn failed", "issue_id", issueID, "error", err)
			return
		}
	}
}
