package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/session"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/token"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/userstore"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func newRegistry() (Service, *clock) {
	c := &clock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return NewService(userstore.NewMemoryStore(), WithClock(c.Now)), c
}

func TestRegistry_Lifecycle(t *testing.T) {
	reg, c := newRegistry()
	ctx := context.Background()

	s, err := reg.Create(ctx, "user-1", "access-token", c.t.Add(15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, token.HashToken("access-token"), s.TokenHash)
	assert.NotContains(t, s.TokenHash, "access-token")

	ok, err := reg.IsValid(ctx, s.TokenHash)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, reg.Revoke(ctx, s.TokenHash))
	require.NoError(t, reg.Revoke(ctx, s.TokenHash), "revocation is idempotent")

	ok, err = reg.IsValid(ctx, s.TokenHash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistry_UnknownIsInvalid(t *testing.T) {
	reg, _ := newRegistry()

	ok, err := reg.IsValid(context.Background(), token.HashToken("never-issued"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistry_Expiry(t *testing.T) {
	reg, c := newRegistry()
	ctx := context.Background()

	s, err := reg.Create(ctx, "user-1", "tok", c.t.Add(time.Minute))
	require.NoError(t, err)

	c.t = c.t.Add(time.Minute)
	ok, err := reg.IsValid(ctx, s.TokenHash)
	require.NoError(t, err)
	assert.False(t, ok, "a session is invalid at its expiry instant")
}

func TestRegistry_RevokeAllForUser(t *testing.T) {
	reg, c := newRegistry()
	ctx := context.Background()

	a, err := reg.Create(ctx, "user-1", "a", c.t.Add(time.Hour))
	require.NoError(t, err)
	_, err = reg.Create(ctx, "user-1", "b", c.t.Add(time.Hour))
	require.NoError(t, err)
	other, err := reg.Create(ctx, "user-2", "c", c.t.Add(time.Hour))
	require.NoError(t, err)

	n, err := reg.RevokeAllForUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ok, err := reg.IsValid(ctx, a.TokenHash)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = reg.IsValid(ctx, other.TokenHash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRegistry_PairRevokedTogether(t *testing.T) {
	reg, c := newRegistry()
	ctx := context.Background()

	pair := &token.Pair{
		AccessToken:      "access",
		RefreshToken:     "refresh",
		AccessExpiresAt:  c.t.Add(15 * time.Minute),
		RefreshExpiresAt: c.t.Add(7 * 24 * time.Hour),
	}
	require.NoError(t, reg.CreatePair(ctx, "user-1", pair))

	for _, h := range []string{token.HashToken("access"), token.HashToken("refresh")} {
		ok, err := reg.IsValid(ctx, h)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	require.NoError(t, reg.Revoke(ctx, token.HashToken("access")))

	ok, err := reg.IsValid(ctx, token.HashToken("refresh"))
	require.NoError(t, err)
	assert.False(t, ok, "logging out the access token revokes its refresh token")
}

func TestRegistry_ConsumeOnce(t *testing.T) {
	reg, c := newRegistry()
	ctx := context.Background()

	pair := &token.Pair{
		AccessToken:      "access",
		RefreshToken:     "refresh",
		AccessExpiresAt:  c.t.Add(15 * time.Minute),
		RefreshExpiresAt: c.t.Add(time.Hour),
	}
	require.NoError(t, reg.CreatePair(ctx, "user-1", pair))

	ok, err := reg.Consume(ctx, token.HashToken("refresh"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = reg.Consume(ctx, token.HashToken("refresh"))
	require.NoError(t, err)
	assert.False(t, ok, "a consumed refresh session cannot be used again")

	ok, err = reg.IsValid(ctx, token.HashToken("access"))
	require.NoError(t, err)
	assert.False(t, ok, "consuming the refresh token retires its access token")

	ok, err = reg.Consume(ctx, token.HashToken("never-issued"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistry_RevokeAllForUserCoversRefresh(t *testing.T) {
	reg, c := newRegistry()
	ctx := context.Background()

	require.NoError(t, reg.CreatePair(ctx, "user-1", &token.Pair{
		AccessToken:      "access",
		RefreshToken:     "refresh",
		AccessExpiresAt:  c.t.Add(15 * time.Minute),
		RefreshExpiresAt: c.t.Add(time.Hour),
	}))

	n, err := reg.RevokeAllForUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ok, err := reg.Consume(ctx, token.HashToken("refresh"))
	require.NoError(t, err)
	assert.False(t, ok)
}

type failingStore struct {
	userstore.Store
}

func (failingStore) GetSession(context.Context, string) (*session.Session, error) {
	return nil, errors.New("connection reset")
}

func TestRegistry_StoreFailureSurfaces(t *testing.T) {
	reg := NewService(failingStore{userstore.NewMemoryStore()})

	_, err := reg.IsValid(context.Background(), "hash")
	require.Error(t, err)
}
