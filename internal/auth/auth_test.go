package auth

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/lexclaim/internal/apiclient"
	"github.com/ent0n29/lexclaim/internal/session"
)

type fakeVerifier struct {
	info apiclient.TokenInfo
	err  error
}

func (f fakeVerifier) VerifyToken(context.Context, string) (apiclient.TokenInfo, error) {
	return f.info, f.err
}

func (f fakeVerifier) SignInURL() string { return "http://api.test/auth/google" }

func newService(v fakeVerifier) (*Service, *session.Store) {
	store := session.NewStore(session.NewMemoryBackend(), nil, nil)
	return NewService(store, v, nil), store
}

func TestParseCallbackError(t *testing.T) {
	_, err := ParseCallback(url.Values{"error": {"access_denied"}})
	assert.ErrorIs(t, err, ErrProviderDenied)

	_, err = ParseCallback(url.Values{})
	assert.ErrorIs(t, err, ErrMalformedCallback)

	_, err = ParseCallback(url.Values{"data": {"{nope"}})
	assert.ErrorIs(t, err, ErrMalformedCallback)
}

func TestCompleteSavesUserSession(t *testing.T) {
	svc, store := newService(fakeVerifier{})
	data := `{"access_token":"jwt-1","token_type":"bearer","expires_in":3600,"user":{"id":17,"email":"anna@example.com","first_name":"Anna","last_name":"P"}}`

	sess, err := svc.Complete(context.Background(), url.Values{"data": {data}})
	require.NoError(t, err)
	assert.Equal(t, "jwt-1", sess.Token)

	got := store.Load(context.Background())
	require.NotNil(t, got.Identity)
	assert.Equal(t, "17", got.Identity.ID)
	assert.Equal(t, "Anna P", got.Identity.DisplayName)
	assert.False(t, got.Anonymous)
}

func TestCompleteWithoutUserStoresNothing(t *testing.T) {
	svc, store := newService(fakeVerifier{})

	_, err := svc.Complete(context.Background(), url.Values{"data": {`{"access_token":"jwt-1"}`}})
	assert.ErrorIs(t, err, ErrNoUser)
	assert.Equal(t, session.Session{}, store.Load(context.Background()))
}

func TestCompleteReplacesGuestSession(t *testing.T) {
	svc, store := newService(fakeVerifier{})
	ctx := context.Background()
	_, err := store.PromoteAnonymous(ctx, "guest", true)
	require.NoError(t, err)

	data := url.QueryEscape(`{"access_token":"jwt-2","user":{"id":"u2","email":"b@c.d"}}`)
	sess, err := svc.CompleteURL(ctx, "http://127.0.0.1:8787/auth/callback?data="+data)
	require.NoError(t, err)
	assert.Equal(t, "jwt-2", sess.Token)
	assert.False(t, store.Load(ctx).Anonymous)
}

func TestUseToken(t *testing.T) {
	svc, store := newService(fakeVerifier{info: apiclient.TokenInfo{Valid: true, UserID: "9", Email: "x@y.z"}})
	_, err := svc.UseToken(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "tok", store.Load(context.Background()).Token)

	svc, _ = newService(fakeVerifier{info: apiclient.TokenInfo{Valid: false}})
	_, err = svc.UseToken(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogoutClearsSession(t *testing.T) {
	svc, store := newService(fakeVerifier{})
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, session.Session{Token: "t", Identity: &session.Identity{ID: "1"}}))

	require.NoError(t, svc.Logout(ctx))
	assert.Equal(t, session.Session{}, store.Load(ctx))
	assert.Equal(t, "http://api.test/auth/google", svc.SignInURL())
}
