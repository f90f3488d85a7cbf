package userstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/identity"
)

func TestOrderChain_FollowsLinksNotTimestamps(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	first, err := identity.NewEvent("u", identity.EventUserCreated, nil, nil, now)
	require.NoError(t, err)
	// same timestamp: created_at alone cannot order these
	second, err := identity.NewEvent("u", identity.EventUserLogin, nil, first, now)
	require.NoError(t, err)
	third, err := identity.NewEvent("u", identity.EventUserLogin, nil, second, now)
	require.NoError(t, err)

	got := orderChain([]*identity.Event{third, first, second})
	require.Len(t, got, 3)
	assert.Equal(t, []string{first.ID, second.ID, third.ID}, []string{got[0].ID, got[1].ID, got[2].ID})
	require.NoError(t, identity.VerifyChain(got))
}

func TestOrderChain_OrphansAppended(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	first, err := identity.NewEvent("u", identity.EventUserCreated, nil, nil, now)
	require.NoError(t, err)
	orphan, err := identity.NewEvent("u", identity.EventUserLogin, nil, &identity.Event{Hash: "deadbeef"}, now)
	require.NoError(t, err)

	got := orderChain([]*identity.Event{orphan, first})
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, orphan.ID, got[1].ID)
	assert.Error(t, identity.VerifyChain(got))
}
