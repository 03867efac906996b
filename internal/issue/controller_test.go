package issue

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/lexclaim/internal/apiclient"
	"github.com/ent0n29/lexclaim/internal/reliability"
	"github.com/ent0n29/lexclaim/internal/session"
	"github.com/ent0n29/lexclaim/internal/transcript"
)

type fakeBackend struct {
	createCalls  atomic.Int32
	sendCalls    atomic.Int32
	historyCalls atomic.Int32

	createResult apiclient.CreateIssueResult
	createErr    error

	sendFn    func(ctx context.Context, issueID, text string) (apiclient.ChatUpdate, error)
	historyFn func(ctx context.Context, issueID string) (apiclient.ChatUpdate, error)
}

func (f *fakeBackend) CreateIssue(_ context.Context, _ string) (apiclient.CreateIssueResult, error) {
	f.createCalls.Add(1)
	return f.createResult, f.createErr
}

func (f *fakeBackend) SendMessage(ctx context.Context, issueID, text string) (apiclient.ChatUpdate, error) {
	f.sendCalls.Add(1)
	if f.sendFn == nil {
		return apiclient.ChatUpdate{}, nil
	}
	return f.sendFn(ctx, issueID, text)
}

func (f *fakeBackend) ChatHistory(ctx context.Context, issueID string) (apiclient.ChatUpdate, error) {
	f.historyCalls.Add(1)
	if f.historyFn == nil {
		return apiclient.ChatUpdate{}, nil
	}
	return f.historyFn(ctx, issueID)
}

func newController(t *testing.T, backend Backend, opts Options) (*Controller, *session.Store) {
	t.Helper()
	store := session.NewStore(session.NewMemoryBackend(), nil, nil)
	c := NewController(backend, store, opts)
	t.Cleanup(func() { _ = c.Close() })
	return c, store
}

func boolPtr(v bool) *bool { return &v }

// openIssue loads issueID through the backend's history so sends are allowed.
func openIssue(t *testing.T, c *Controller, issueID string) {
	t.Helper()
	_, err := c.ResumeConversation(context.Background(), issueID)
	require.NoError(t, err)
}

func TestSendTurnAppendsUserThenAssistant(t *testing.T) {
	backend := &fakeBackend{
		sendFn: func(_ context.Context, issueID, text string) (apiclient.ChatUpdate, error) {
			assert.Equal(t, "42", issueID)
			assert.Equal(t, "More detail", text)
			return apiclient.ChatUpdate{
				NewMessages: []apiclient.WireMessage{{Role: "assistant", Text: "When did it happen?"}},
			}, nil
		},
	}
	c, _ := newController(t, backend, Options{AllowAnonymous: true})
	openIssue(t, c, "42")

	conv, err := c.SendTurn(context.Background(), "42", "More detail")
	require.NoError(t, err)
	require.Len(t, conv.Turns, 2)
	assert.Equal(t, SpeakerUser, conv.Turns[0].Speaker)
	assert.Equal(t, "More detail", conv.Turns[0].Text)
	assert.Equal(t, SpeakerAssistant, conv.Turns[1].Speaker)
	assert.Equal(t, "When did it happen?", conv.Turns[1].Text)
	assert.False(t, conv.Ended)
	assert.Equal(t, StateCreated, conv.State)
	assert.Equal(t, OutcomeUnresolved, conv.Outcome)
}

func TestEndedSuccessAllowsDownloadAndRejectsSend(t *testing.T) {
	backend := &fakeBackend{
		sendFn: func(context.Context, string, string) (apiclient.ChatUpdate, error) {
			return apiclient.ChatUpdate{
				NewMessages: []apiclient.WireMessage{{Role: "assistant", Text: "Your claim is ready."}},
				IsEnded:     true,
				Success:     boolPtr(true),
			}, nil
		},
	}
	c, _ := newController(t, backend, Options{AllowAnonymous: true})
	openIssue(t, c, "42")
	ctx := context.Background()

	conv, err := c.SendTurn(ctx, "42", "That is all")
	require.NoError(t, err)
	assert.True(t, conv.Ended)
	assert.Equal(t, OutcomeSuccess, conv.Outcome)
	assert.Equal(t, StateEnded, conv.State)
	assert.True(t, conv.Downloadable())

	_, err = c.SendTurn(ctx, "42", "one more thing")
	assert.ErrorIs(t, err, ErrConversationEnded)
	assert.EqualValues(t, 1, backend.sendCalls.Load(), "ended conversation must not reach the backend")

	snap, ok := c.Conversation("42")
	require.True(t, ok)
	assert.Len(t, snap.Turns, 2)
}

func TestEndedWithoutSuccessIsNoActionNeeded(t *testing.T) {
	for name, success := range map[string]*bool{"false": boolPtr(false), "null": nil} {
		t.Run(name, func(t *testing.T) {
			backend := &fakeBackend{
				sendFn: func(context.Context, string, string) (apiclient.ChatUpdate, error) {
					return apiclient.ChatUpdate{IsEnded: true, Success: success}, nil
				},
			}
			c, _ := newController(t, backend, Options{})
			openIssue(t, c, "9")
			conv, err := c.SendTurn(context.Background(), "9", "hi")
			require.NoError(t, err)
			assert.Equal(t, OutcomeNoActionNeeded, conv.Outcome)
			assert.False(t, conv.Downloadable())
		})
	}
}

func TestRateLimitedSendAppendsOneSyntheticTurn(t *testing.T) {
	backend := &fakeBackend{
		sendFn: func(context.Context, string, string) (apiclient.ChatUpdate, error) {
			return apiclient.ChatUpdate{}, reliability.New(reliability.KindRateLimited, http.StatusTooManyRequests, "slow down", nil)
		},
	}
	c, _ := newController(t, backend, Options{})
	openIssue(t, c, "42")

	conv, err := c.SendTurn(context.Background(), "42", "hello?")
	require.Error(t, err)
	assert.ErrorIs(t, err, reliability.ErrRateLimited)
	require.Len(t, conv.Turns, 2)
	assert.Equal(t, SpeakerUser, conv.Turns[0].Speaker)
	last := conv.Turns[1]
	assert.Equal(t, SpeakerAssistant, last.Speaker)
	assert.True(t, last.Synthetic)
	assert.Equal(t, reliability.TurnFailureMessage(err), last.Text)
	assert.False(t, conv.Ended)
	assert.Equal(t, StateCreated, conv.State)
}

func TestFailureMessagesDifferByKind(t *testing.T) {
	kinds := []reliability.Kind{reliability.KindRateLimited, reliability.KindNetwork, reliability.KindUnauthorized, reliability.KindServer}
	seen := make(map[string]reliability.Kind)
	for _, k := range kinds {
		msg := reliability.TurnFailureMessage(reliability.New(k, 0, "", nil))
		prev, dup := seen[msg]
		assert.False(t, dup, "%s and %s share a message", k, prev)
		seen[msg] = k
	}
}

func TestSendTurnRetryAfterFailure(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	backend := &fakeBackend{
		sendFn: func(context.Context, string, string) (apiclient.ChatUpdate, error) {
			if fail.Load() {
				return apiclient.ChatUpdate{}, reliability.New(reliability.KindNetwork, 0, "", errors.New("dial tcp: refused"))
			}
			return apiclient.ChatUpdate{NewMessages: []apiclient.WireMessage{{Role: "assistant", Text: "ok"}}}, nil
		},
	}
	c, _ := newController(t, backend, Options{})
	openIssue(t, c, "42")
	ctx := context.Background()

	_, err := c.SendTurn(ctx, "42", "first")
	require.ErrorIs(t, err, reliability.ErrNetwork)

	fail.Store(false)
	conv, err := c.SendTurn(ctx, "42", "first")
	require.NoError(t, err)
	assert.Len(t, conv.Turns, 4)
	assert.EqualValues(t, 2, backend.sendCalls.Load(), "no automatic retries")
}

func TestSendTurnRejectsBlankText(t *testing.T) {
	backend := &fakeBackend{}
	c, _ := newController(t, backend, Options{})
	openIssue(t, c, "42")

	_, err := c.SendTurn(context.Background(), "42", "   ")
	assert.ErrorIs(t, err, reliability.ErrValidation)
	assert.Zero(t, backend.sendCalls.Load())
}

func TestSendTurnRejectsConcurrentSend(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	backend := &fakeBackend{
		sendFn: func(context.Context, string, string) (apiclient.ChatUpdate, error) {
			close(entered)
			<-release
			return apiclient.ChatUpdate{}, nil
		},
	}
	c, _ := newController(t, backend, Options{})
	openIssue(t, c, "42")
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := c.SendTurn(ctx, "42", "first")
		done <- err
	}()
	<-entered

	snap, _ := c.Conversation("42")
	assert.Equal(t, StateAwaitingReply, snap.State)

	_, err := c.SendTurn(ctx, "42", "second")
	assert.ErrorIs(t, err, ErrTurnInFlight)

	close(release)
	require.NoError(t, <-done)
	assert.EqualValues(t, 1, backend.sendCalls.Load())
}

func TestCreateIssueRejectsEmptyDescription(t *testing.T) {
	backend := &fakeBackend{}
	c, _ := newController(t, backend, Options{AllowAnonymous: true})

	_, err := c.CreateIssue(context.Background(), " \n\t ")
	assert.ErrorIs(t, err, reliability.ErrValidation)
	assert.Zero(t, backend.createCalls.Load())
}

func TestCreateIssueRequiresSignInWhenAnonymousDisabled(t *testing.T) {
	backend := &fakeBackend{}
	c, _ := newController(t, backend, Options{AllowAnonymous: false})

	_, err := c.CreateIssue(context.Background(), "Unpaid overtime")
	assert.ErrorIs(t, err, ErrSignInRequired)
	assert.Zero(t, backend.createCalls.Load())
}

func TestCreateIssuePromotesGuestToken(t *testing.T) {
	backend := &fakeBackend{createResult: apiclient.CreateIssueResult{IssueID: "42", GuestToken: "guest-1", Anonymous: true}}
	var changes []Conversation
	c, store := newController(t, backend, Options{
		AllowAnonymous: true,
		OnChange:       func(conv Conversation) { changes = append(changes, conv) },
	})

	conv, err := c.CreateIssue(context.Background(), "Unpaid overtime")
	require.NoError(t, err)
	assert.Equal(t, "42", conv.IssueID)
	assert.Equal(t, StateCreated, conv.State)
	assert.Empty(t, conv.Turns)

	sess := store.Load(context.Background())
	assert.Equal(t, "guest-1", sess.Token)
	assert.True(t, sess.Anonymous)
	assert.Len(t, changes, 1)
}

func TestKickoffAppendsOnlyAssistantTurns(t *testing.T) {
	backend := &fakeBackend{
		createResult: apiclient.CreateIssueResult{IssueID: "42"},
		sendFn: func(_ context.Context, _, text string) (apiclient.ChatUpdate, error) {
			assert.Equal(t, "Let's begin", text)
			return apiclient.ChatUpdate{NewMessages: []apiclient.WireMessage{{Role: "assistant", Text: "Tell me what happened."}}}, nil
		},
	}
	c, _ := newController(t, backend, Options{AllowAnonymous: true, KickoffMessage: "Let's begin"})
	ctx := context.Background()

	_, err := c.CreateIssue(ctx, "Deposit not returned")
	require.NoError(t, err)
	conv, err := c.Kickoff(ctx, "42")
	require.NoError(t, err)
	require.Len(t, conv.Turns, 1)
	assert.Equal(t, SpeakerAssistant, conv.Turns[0].Speaker)
}

func TestResumeConversationSharesInFlightFetch(t *testing.T) {
	release := make(chan struct{})
	backend := &fakeBackend{
		historyFn: func(context.Context, string) (apiclient.ChatUpdate, error) {
			<-release
			return apiclient.ChatUpdate{
				NewMessages: []apiclient.WireMessage{
					{Role: "user", Text: "My landlord kept the deposit"},
					{Role: "assistant", Text: "How much was it?"},
				},
			}, nil
		},
	}
	c, _ := newController(t, backend, Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]Conversation, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, err := c.ResumeConversation(ctx, "42")
			assert.NoError(t, err)
			results[i] = conv
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, backend.historyCalls.Load())
	for _, conv := range results {
		assert.Len(t, conv.Turns, 2)
	}

	conv, err := c.ResumeConversation(ctx, "42")
	require.NoError(t, err)
	assert.Len(t, conv.Turns, 2)
	assert.EqualValues(t, 1, backend.historyCalls.Load(), "loaded conversation is served from cache")
}

func TestResumeConversationFailureAllowsRetry(t *testing.T) {
	var calls atomic.Int32
	backend := &fakeBackend{
		historyFn: func(context.Context, string) (apiclient.ChatUpdate, error) {
			if calls.Add(1) == 1 {
				return apiclient.ChatUpdate{}, reliability.New(reliability.KindServer, 500, "", nil)
			}
			return apiclient.ChatUpdate{IsEnded: true, Success: boolPtr(true)}, nil
		},
	}
	c, _ := newController(t, backend, Options{})
	ctx := context.Background()

	_, err := c.ResumeConversation(ctx, "42")
	require.ErrorIs(t, err, reliability.ErrServer)

	conv, err := c.ResumeConversation(ctx, "42")
	require.NoError(t, err)
	assert.True(t, conv.Downloadable())
}

func TestCloseDropsLateReply(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	backend := &fakeBackend{
		sendFn: func(context.Context, string, string) (apiclient.ChatUpdate, error) {
			close(entered)
			<-release
			return apiclient.ChatUpdate{NewMessages: []apiclient.WireMessage{{Role: "assistant", Text: "late"}}}, nil
		},
	}
	var notified atomic.Int32
	c, _ := newController(t, backend, Options{OnChange: func(Conversation) { notified.Add(1) }})
	openIssue(t, c, "42")

	done := make(chan error, 1)
	go func() {
		_, err := c.SendTurn(context.Background(), "42", "hello")
		done <- err
	}()
	<-entered
	require.NoError(t, c.Close())
	before := notified.Load()
	close(release)

	assert.ErrorIs(t, <-done, ErrControllerClosed)
	assert.Equal(t, before, notified.Load(), "no change after close")

	snap, ok := c.Conversation("42")
	require.True(t, ok)
	assert.Len(t, snap.Turns, 1)
}

func TestTurnsAreArchived(t *testing.T) {
	archive := transcript.NewInMemoryStore()
	backend := &fakeBackend{
		sendFn: func(context.Context, string, string) (apiclient.ChatUpdate, error) {
			return apiclient.ChatUpdate{NewMessages: []apiclient.WireMessage{{Role: "assistant", Text: "noted"}}}, nil
		},
	}
	c, _ := newController(t, backend, Options{Transcript: archive})
	openIssue(t, c, "42")

	_, err := c.SendTurn(context.Background(), "42", "hello")
	require.NoError(t, err)

	records, err := archive.Turns(context.Background(), "42", 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "user", records[0].Speaker)
	assert.Equal(t, "noted", records[1].Text)
}

func TestSendTurnRequiresLoadedConversation(t *testing.T) {
	backend := &fakeBackend{
		historyFn: func(context.Context, string) (apiclient.ChatUpdate, error) {
			return apiclient.ChatUpdate{IsEnded: true, Success: boolPtr(true)}, nil
		},
	}
	c, _ := newController(t, backend, Options{})
	ctx := context.Background()

	_, err := c.SendTurn(ctx, "42", "x")
	assert.ErrorIs(t, err, ErrConversationNotLoaded)
	assert.Zero(t, backend.sendCalls.Load())
	assert.Zero(t, backend.historyCalls.Load())

	openIssue(t, c, "42")
	_, err = c.SendTurn(ctx, "42", "x")
	assert.ErrorIs(t, err, ErrConversationEnded)
	assert.Zero(t, backend.sendCalls.Load(), "server-ended issue must not reach the backend")
}

func TestKickoffRequiresLoadedConversation(t *testing.T) {
	backend := &fakeBackend{}
	c, _ := newController(t, backend, Options{KickoffMessage: "Let's begin"})

	_, err := c.Kickoff(context.Background(), "42")
	assert.ErrorIs(t, err, ErrConversationNotLoaded)
	assert.Zero(t, backend.sendCalls.Load())
}

func TestResumeDuringSendKeepsServerHistory(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	backend := &fakeBackend{
		historyFn: func(context.Context, string) (apiclient.ChatUpdate, error) {
			return apiclient.ChatUpdate{NewMessages: []apiclient.WireMessage{
				{Role: "user", Text: "My landlord kept the deposit"},
				{Role: "assistant", Text: "When did it happen?"},
			}}, nil
		},
		sendFn: func(context.Context, string, string) (apiclient.ChatUpdate, error) {
			close(entered)
			<-release
			return apiclient.ChatUpdate{NewMessages: []apiclient.WireMessage{{Role: "assistant", Text: "Thanks"}}}, nil
		},
	}
	c, _ := newController(t, backend, Options{})
	ctx := context.Background()
	openIssue(t, c, "42")

	done := make(chan error, 1)
	go func() {
		_, err := c.SendTurn(ctx, "42", "Last week")
		done <- err
	}()
	<-entered

	conv, err := c.ResumeConversation(ctx, "42")
	require.NoError(t, err)
	require.Len(t, conv.Turns, 3)
	assert.Equal(t, "My landlord kept the deposit", conv.Turns[0].Text)
	assert.Equal(t, "Last week", conv.Turns[2].Text)

	close(release)
	require.NoError(t, <-done)

	conv, err = c.ResumeConversation(ctx, "42")
	require.NoError(t, err)
	texts := make([]string, 0, len(conv.Turns))
	for _, turn := range conv.Turns {
		texts = append(texts, turn.Text)
	}
	assert.Equal(t, []string{"My landlord kept the deposit", "When did it happen?", "Last week", "Thanks"}, texts)
	assert.EqualValues(t, 1, backend.historyCalls.Load())
}
