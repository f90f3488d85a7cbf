package userstore_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/founder"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/identity"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/ledger"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/magiclink"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/session"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/token"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/user"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/userstore"
)

var base = time.Date(2025, 3, 14, 9, 26, 53, 589793000, time.UTC)

type account struct {
	user   *user.User
	wallet *user.Wallet
	first  *identity.Event
}

func newAccount(t *testing.T, handle string) account {
	t.Helper()
	usr := user.New(handle, handle+"@mobius.test", "", base)
	w := user.NewWallet(usr.ID, "02"+fmt.Sprintf("%064x", len(handle)), "0x0000000000000000000000000000000000000001", "enc", base)
	first, err := identity.NewEvent(usr.ID, identity.EventUserCreated, map[string]any{"handle": usr.Handle}, nil, base)
	require.NoError(t, err)
	return account{user: usr, wallet: w, first: first}
}

func createAccount(t *testing.T, s userstore.Store, handle string) account {
	t.Helper()
	a := newAccount(t, handle)
	require.NoError(t, s.CreateAccount(context.Background(), a.user, a.wallet, a.first))
	return a
}

// runStoreSuite exercises behavior every Store implementation must share
func runStoreSuite(t *testing.T, newStore func(t *testing.T) userstore.Store) {
	t.Run("CreateAccount", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := createAccount(t, s, "kaizen")

		for _, opt := range []userstore.QueryOption{
			userstore.WithID(a.user.ID),
			userstore.WithHandle("@Kaizen"),
			userstore.WithEmail(" KAIZEN@mobius.test "),
		} {
			got, err := s.GetUser(ctx, opt)
			require.NoError(t, err)
			assert.Equal(t, a.user.ID, got.ID)
			assert.Equal(t, "kaizen", got.Handle)
		}

		w, err := s.GetWalletByUserID(ctx, a.user.ID)
		require.NoError(t, err)
		assert.Equal(t, a.wallet.ID, w.ID)
		assert.True(t, w.CachedBalance.IsZero())

		latest, err := s.LatestEvent(ctx, a.user.ID)
		require.NoError(t, err)
		assert.Equal(t, a.first.Hash, latest.Hash)
		assert.Empty(t, latest.PreviousHash)
	})

	t.Run("CreateAccountDuplicate", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		createAccount(t, s, "kaizen")

		dupHandle := newAccount(t, "kaizen")
		dupHandle.user.Email = "other@mobius.test"
		err := s.CreateAccount(ctx, dupHandle.user, dupHandle.wallet, dupHandle.first)
		require.ErrorIs(t, err, userstore.ErrUserExists)

		dupEmail := newAccount(t, "other")
		dupEmail.user.Email = "kaizen@mobius.test"
		err = s.CreateAccount(ctx, dupEmail.user, dupEmail.wallet, dupEmail.first)
		require.ErrorIs(t, err, userstore.ErrUserExists)

		// nothing of the failed accounts was kept
		_, err = s.GetWalletByUserID(ctx, dupHandle.user.ID)
		require.ErrorIs(t, err, userstore.ErrWalletNotFound)
		events, err := s.ListEvents(ctx, dupEmail.user.ID)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("CreateAccountRollsBackUser", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		existing := createAccount(t, s, "kaizen")

		walletClash := newAccount(t, "echo")
		walletClash.wallet.ID = existing.wallet.ID
		err := s.CreateAccount(ctx, walletClash.user, walletClash.wallet, walletClash.first)
		require.ErrorIs(t, err, userstore.ErrWalletExists)
		_, err = s.GetUser(ctx, userstore.WithID(walletClash.user.ID))
		require.ErrorIs(t, err, userstore.ErrUserNotFound)
		_, err = s.GetUser(ctx, userstore.WithHandle("echo"))
		require.ErrorIs(t, err, userstore.ErrUserNotFound)

		eventClash := newAccount(t, "atlas")
		err = s.CreateAccount(ctx, eventClash.user, eventClash.wallet, existing.first)
		require.ErrorIs(t, err, userstore.ErrChainConflict)
		_, err = s.GetUser(ctx, userstore.WithID(eventClash.user.ID))
		require.ErrorIs(t, err, userstore.ErrUserNotFound)
		_, err = s.GetWalletByUserID(ctx, eventClash.user.ID)
		require.ErrorIs(t, err, userstore.ErrWalletNotFound)

		// the names are free again
		createAccount(t, s, "echo")
		createAccount(t, s, "atlas")
	})

	t.Run("GetUserNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetUser(context.Background(), userstore.WithHandle("nobody"))
		require.ErrorIs(t, err, userstore.ErrUserNotFound)

		_, err = s.GetUser(context.Background())
		require.Error(t, err)
	})

	t.Run("UserUpdates", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := createAccount(t, s, "kaizen")

		login := base.Add(time.Hour)
		require.NoError(t, s.UpdateLastLogin(ctx, a.user.ID, login))
		require.NoError(t, s.MarkEmailVerified(ctx, a.user.ID, user.TrustLevelVerified))
		require.NoError(t, s.UpdatePasswordHash(ctx, a.user.ID, "$argon2id$stub"))

		got, err := s.GetUser(ctx, userstore.WithID(a.user.ID))
		require.NoError(t, err)
		require.NotNil(t, got.LastLoginAt)
		assert.True(t, login.Equal(*got.LastLoginAt))
		assert.True(t, got.EmailVerified)
		assert.Equal(t, user.TrustLevelVerified, got.TrustLevel)
		assert.Equal(t, "$argon2id$stub", got.PasswordHash)

		// trust level never decreases
		require.NoError(t, s.MarkEmailVerified(ctx, a.user.ID, user.TrustLevelNew))
		got, err = s.GetUser(ctx, userstore.WithID(a.user.ID))
		require.NoError(t, err)
		assert.Equal(t, user.TrustLevelVerified, got.TrustLevel)

		missing := "00000000-0000-0000-0000-000000000000"
		require.ErrorIs(t, s.UpdateLastLogin(ctx, missing, login), userstore.ErrUserNotFound)
		require.ErrorIs(t, s.MarkEmailVerified(ctx, missing, 1), userstore.ErrUserNotFound)
	})

	t.Run("CachedBalance", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := createAccount(t, s, "kaizen")

		at := base.Add(time.Minute)
		require.NoError(t, s.UpdateCachedBalance(ctx, a.wallet.ID, decimal.RequireFromString("12.50"), at))
		w, err := s.GetWallet(ctx, a.wallet.ID)
		require.NoError(t, err)
		assert.True(t, w.CachedBalance.Equal(decimal.RequireFromString("12.5")))
		require.NotNil(t, w.BalanceUpdatedAt)

		err = s.UpdateCachedBalance(ctx, "00000000-0000-0000-0000-000000000000", decimal.Zero, at)
		require.ErrorIs(t, err, userstore.ErrWalletNotFound)
	})

	t.Run("ListWallets", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		wallets, err := s.ListWallets(ctx)
		require.NoError(t, err)
		assert.Empty(t, wallets)

		a := createAccount(t, s, "kaizen")
		b := createAccount(t, s, "echo")
		wallets, err = s.ListWallets(ctx)
		require.NoError(t, err)
		require.Len(t, wallets, 2)
		ids := []string{wallets[0].ID, wallets[1].ID}
		assert.ElementsMatch(t, []string{a.wallet.ID, b.wallet.ID}, ids)
	})

	t.Run("Sessions", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := createAccount(t, s, "kaizen")

		live := &session.Session{TokenHash: token.HashToken("a"), UserID: a.user.ID, ExpiresAt: base.Add(time.Hour), CreatedAt: base}
		other := &session.Session{TokenHash: token.HashToken("b"), UserID: a.user.ID, ExpiresAt: base.Add(time.Hour), CreatedAt: base}
		require.NoError(t, s.CreateSession(ctx, live))
		require.NoError(t, s.CreateSession(ctx, other))

		got, err := s.GetSession(ctx, live.TokenHash)
		require.NoError(t, err)
		assert.True(t, session.IsValid(got, base))

		revokedAt := base.Add(time.Minute)
		revoked, err := s.RevokeSession(ctx, live.TokenHash, revokedAt)
		require.NoError(t, err)
		assert.True(t, revoked)
		revoked, err = s.RevokeSession(ctx, live.TokenHash, revokedAt.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, revoked, "only the first revocation counts")
		revoked, err = s.RevokeSession(ctx, token.HashToken("unknown"), revokedAt)
		require.NoError(t, err)
		assert.False(t, revoked)

		got, err = s.GetSession(ctx, live.TokenHash)
		require.NoError(t, err)
		require.NotNil(t, got.RevokedAt)
		assert.True(t, revokedAt.Equal(*got.RevokedAt), "second revoke keeps the first timestamp")

		n, err := s.RevokeUserSessions(ctx, a.user.ID, revokedAt)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		paired := &session.Session{TokenHash: token.HashToken("c"), PairHash: token.HashToken("d"), UserID: a.user.ID, ExpiresAt: base.Add(time.Minute), CreatedAt: base}
		require.NoError(t, s.CreateSession(ctx, paired))
		got, err = s.GetSession(ctx, paired.TokenHash)
		require.NoError(t, err)
		assert.Equal(t, paired.PairHash, got.PairHash)

		revoked, err = s.RevokeSession(ctx, paired.TokenHash, base.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, revoked, "an expired session is not revoked")

		_, err = s.GetSession(ctx, token.HashToken("unknown"))
		require.ErrorIs(t, err, userstore.ErrSessionNotFound)
	})

	t.Run("EventChainCAS", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := createAccount(t, s, "kaizen")

		second, err := identity.NewEvent(a.user.ID, identity.EventUserLogin, map[string]any{"method": "password"}, a.first, base.Add(time.Second))
		require.NoError(t, err)
		require.NoError(t, s.AppendEvent(ctx, second))

		// a writer that still believes a.first is the head loses
		stale, err := identity.NewEvent(a.user.ID, identity.EventUserLogin, map[string]any{"method": "magic_link"}, a.first, base.Add(2*time.Second))
		require.NoError(t, err)
		require.ErrorIs(t, s.AppendEvent(ctx, stale), userstore.ErrChainConflict)

		// a second genesis is a conflict too
		genesis, err := identity.NewEvent(a.user.ID, identity.EventUserCreated, nil, nil, base.Add(3*time.Second))
		require.NoError(t, err)
		require.ErrorIs(t, s.AppendEvent(ctx, genesis), userstore.ErrChainConflict)

		events, err := s.ListEvents(ctx, a.user.ID)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, a.first.ID, events[0].ID)
		assert.Equal(t, second.ID, events[1].ID)
		require.NoError(t, identity.VerifyChain(events))

		latest, err := s.LatestEvent(ctx, a.user.ID)
		require.NoError(t, err)
		assert.Equal(t, second.Hash, latest.Hash)

		_, err = s.LatestEvent(ctx, "00000000-0000-0000-0000-000000000000")
		require.ErrorIs(t, err, userstore.ErrEventNotFound)
	})

	t.Run("MagicLinkSingleUse", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := createAccount(t, s, "kaizen")

		link := &magiclink.Token{
			TokenHash: token.HashToken("magic"),
			UserID:    a.user.ID,
			Type:      token.LinkLogin,
			ExpiresAt: base.Add(15 * time.Minute),
			CreatedAt: base,
		}
		require.NoError(t, s.CreateMagicLink(ctx, link))

		used, err := s.ConsumeMagicLink(ctx, link.TokenHash, base.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, a.user.ID, used.UserID)
		assert.Equal(t, token.LinkLogin, used.Type)
		require.NotNil(t, used.UsedAt)

		_, err = s.ConsumeMagicLink(ctx, link.TokenHash, base.Add(2*time.Minute))
		require.ErrorIs(t, err, userstore.ErrMagicLinkNotConsumable)

		_, err = s.ConsumeMagicLink(ctx, token.HashToken("never-issued"), base)
		require.ErrorIs(t, err, userstore.ErrMagicLinkNotConsumable)

		stored, err := s.GetMagicLink(ctx, link.TokenHash)
		require.NoError(t, err)
		assert.NotNil(t, stored.UsedAt)
	})

	t.Run("MagicLinkExpired", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := createAccount(t, s, "kaizen")

		link := &magiclink.Token{
			TokenHash: token.HashToken("late"),
			UserID:    a.user.ID,
			Type:      token.LinkVerifyEmail,
			ExpiresAt: base.Add(15 * time.Minute),
			CreatedAt: base,
		}
		require.NoError(t, s.CreateMagicLink(ctx, link))

		_, err := s.ConsumeMagicLink(ctx, link.TokenHash, base.Add(16*time.Minute))
		require.ErrorIs(t, err, userstore.ErrMagicLinkNotConsumable)

		stored, err := s.GetMagicLink(ctx, link.TokenHash)
		require.NoError(t, err)
		assert.Nil(t, stored.UsedAt)
	})

	t.Run("MagicLinkConcurrentConsume", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := createAccount(t, s, "kaizen")

		link := &magiclink.Token{
			TokenHash: token.HashToken("race"),
			UserID:    a.user.ID,
			Type:      token.LinkLogin,
			ExpiresAt: base.Add(15 * time.Minute),
			CreatedAt: base,
		}
		require.NoError(t, s.CreateMagicLink(ctx, link))

		const workers = 8
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.ConsumeMagicLink(ctx, link.TokenHash, base.Add(time.Minute)); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("Ledger", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := createAccount(t, s, "kaizen")
		b := createAccount(t, s, "sensei")

		amounts := []string{"10", "5.5", "-3"}
		reasons := []ledger.Reason{ledger.ReasonLearn, ledger.ReasonLearn, ledger.ReasonSpend}
		for i, amt := range amounts {
			e := ledger.NewEntry(a.wallet.ID, decimal.RequireFromString(amt), reasons[i], "test", map[string]any{"i": i}, base.Add(time.Duration(i)*time.Second))
			require.NoError(t, s.InsertLedgerEntry(ctx, e))
		}
		require.NoError(t, s.InsertLedgerEntry(ctx, ledger.NewEntry(b.wallet.ID, decimal.NewFromInt(7), ledger.ReasonCivic, "civic_radar_action_taken", nil, base)))

		err := s.InsertLedgerEntry(ctx, ledger.NewEntry("00000000-0000-0000-0000-000000000000", decimal.NewFromInt(1), ledger.ReasonEarn, "x", nil, base))
		require.ErrorIs(t, err, userstore.ErrWalletNotFound)

		entries, err := s.ListLedgerEntries(ctx, a.wallet.ID)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		bal := ledger.Summarize(entries)
		assert.True(t, bal.Balance.Equal(decimal.RequireFromString("12.5")))
		require.NoError(t, bal.Check())

		page, total, err := s.ListLedgerEntriesPage(ctx, a.wallet.ID, ledger.Page{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, page, 2)
		assert.True(t, page[0].Amount.Equal(decimal.NewFromInt(-3)), "newest first")

		page, _, err = s.ListLedgerEntriesPage(ctx, a.wallet.ID, ledger.Page{Limit: 2, Offset: 2})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.True(t, page[0].Amount.Equal(decimal.NewFromInt(10)))

		stats, err := s.LedgerStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, stats.TotalEntries)
		assert.Equal(t, 2, stats.UniqueWallets)
		assert.True(t, stats.TotalEarned.Equal(decimal.RequireFromString("22.5")))
		assert.True(t, stats.TotalSpent.Equal(decimal.NewFromInt(3)))
		assert.True(t, stats.NetSupply().Equal(decimal.RequireFromString("19.5")))
		assert.Equal(t, 2, stats.ByReason[ledger.ReasonLearn].Count)
		assert.True(t, stats.ByReason[ledger.ReasonSpend].Spent.Equal(decimal.NewFromInt(3)))
		assert.Equal(t, map[string]int{"test": 3, "civic_radar_action_taken": 1}, stats.BySource)
	})

	t.Run("SingleFounder", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.GetVerifiedFounder(ctx)
		require.ErrorIs(t, err, userstore.ErrFounderNotFound)

		g, err := founder.GenerateFounderWallet(decimal.Zero)
		require.NoError(t, err)
		rec, err := founder.NewRecord(g, base)
		require.NoError(t, err)
		require.NoError(t, s.InsertFounder(ctx, rec))

		got, err := s.GetVerifiedFounder(ctx)
		require.NoError(t, err)
		assert.Equal(t, rec.PublicKey, got.PublicKey)
		assert.True(t, got.InitialBalance.Equal(founder.DefaultInitialBalance))
		assert.True(t, founder.VerifyFounderSeal(got, rec.SealHash))

		g2, err := founder.GenerateFounderWallet(decimal.Zero)
		require.NoError(t, err)
		rec2, err := founder.NewRecord(g2, base.Add(time.Second))
		require.NoError(t, err)
		require.ErrorIs(t, s.InsertFounder(ctx, rec2), userstore.ErrFounderExists)
	})
}
