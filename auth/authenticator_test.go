package auth

import (
	"context"
	"testing"
	"time"

	apiError "collaborative-table-editor/internal/errors"
	"collaborative-table-editor/redis"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthenticator(ttl time.Duration) *Authenticator {
	return NewAuthenticator("test-secret", ttl, redis.NewSessionStore(nil))
}

func kindOf(t *testing.T, err error) apiError.Kind {
	t.Helper()
	var apiErr *apiError.APIError
	require.ErrorAs(t, err, &apiErr)
	return apiErr.Kind
}

func TestIssueResolve_Roundtrip(t *testing.T) {
	a := newTestAuthenticator(time.Hour)

	token, err := a.Issue(context.Background(), 7, "carol", Admin)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	resolved, err := a.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), resolved.UserID)
	assert.Equal(t, "carol", resolved.UserName)
	assert.Equal(t, Admin, resolved.Authority)
	assert.Equal(t, token, resolved.Token)
}

func TestResolve_GarbageToken(t *testing.T) {
	a := newTestAuthenticator(time.Hour)

	_, err := a.Resolve(context.Background(), "not-a-token")
	assert.Equal(t, apiError.KindAuthenticationNotFound, kindOf(t, err))
}

func TestResolve_WrongSecret(t *testing.T) {
	issuer := NewAuthenticator("secret-a", time.Hour, redis.NewSessionStore(nil))
	token, err := issuer.Issue(context.Background(), 1, "alice", Member)
	require.NoError(t, err)

	verifier := NewAuthenticator("secret-b", time.Hour, redis.NewSessionStore(nil))
	_, err = verifier.Resolve(context.Background(), token)
	assert.Equal(t, apiError.KindAuthenticationNotFound, kindOf(t, err))
}

func TestRevoke_ExpiresSession(t *testing.T) {
	a := newTestAuthenticator(time.Hour)

	expired := make(chan Authentication, 1)
	a.OnExpired(func(auth Authentication) {
		expired <- auth
	})

	token, err := a.Issue(context.Background(), 7, "carol", Member)
	require.NoError(t, err)

	require.NoError(t, a.Revoke(context.Background(), token))

	select {
	case auth := <-expired:
		assert.Equal(t, uint64(7), auth.UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("expired handler never fired")
	}

	_, err = a.Resolve(context.Background(), token)
	assert.Equal(t, apiError.KindAuthenticationExpired, kindOf(t, err))
}

func TestResolve_LapsedToken(t *testing.T) {
	// Negative TTL makes the token lapsed the instant it is issued. The
	// signature still checks out, so this must read as expired, not unknown.
	a := newTestAuthenticator(-time.Minute)

	expired := make(chan Authentication, 1)
	a.OnExpired(func(auth Authentication) {
		expired <- auth
	})

	token, err := a.Issue(context.Background(), 9, "dave", Guest)
	require.NoError(t, err)

	_, err = a.Resolve(context.Background(), token)
	assert.Equal(t, apiError.KindAuthenticationExpired, kindOf(t, err))

	select {
	case auth := <-expired:
		assert.Equal(t, uint64(9), auth.UserID)
		assert.Equal(t, Guest, auth.Authority)
	case <-time.After(2 * time.Second):
		t.Fatal("expired handler never fired")
	}
}

func TestAuthority_Ordering(t *testing.T) {
	assert.True(t, Authentication{Authority: Admin}.IsAtLeast(Member))
	assert.True(t, Authentication{Authority: Member}.IsAtLeast(Member))
	assert.False(t, Authentication{Authority: Guest}.IsAtLeast(Member))
	assert.Equal(t, Guest, ParseAuthority("nonsense"))
}
