package userstore_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/identity"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/userstore"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(*testing.T) userstore.Store {
		return userstore.NewMemoryStore()
	})
}

func TestMemoryStore_ConcurrentAppendsKeepOneChain(t *testing.T) {
	s := userstore.NewMemoryStore()
	ctx := context.Background()
	a := createAccount(t, s, "kaizen")

	const writers = 16
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				head, err := s.LatestEvent(ctx, a.user.ID)
				if !assert.NoError(t, err) {
					return
				}
				e, err := identity.NewEvent(a.user.ID, identity.EventUserLogin, map[string]any{"writer": i}, head, base.Add(time.Duration(i+1)*time.Millisecond))
				if !assert.NoError(t, err) {
					return
				}
				if err := s.AppendEvent(ctx, e); err == nil {
					return
				}
			}
		}()
	}
	wg.Wait()

	events, err := s.ListEvents(ctx, a.user.ID)
	require.NoError(t, err)
	assert.Len(t, events, writers+1)
	require.NoError(t, identity.VerifyChain(events))
}
