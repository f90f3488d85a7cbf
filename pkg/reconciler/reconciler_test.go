package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/identity"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/ledger"
	ledgersvc "github.com/kaizencycle/mobius-browser-shell-sub002/pkg/ledger/service"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/user"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/userstore"
)

var base = time.Date(2025, 5, 5, 12, 0, 0, 0, time.UTC)

func seedWallet(t *testing.T, store userstore.Store, handle string) *user.Wallet {
	t.Helper()
	usr := user.New(handle, handle+"@mobius.test", "", base)
	w := user.NewWallet(usr.ID, "02ab", "0x0000000000000000000000000000000000000003", "enc", base)
	first, err := identity.NewEvent(usr.ID, identity.EventUserCreated, nil, nil, base)
	require.NoError(t, err)
	require.NoError(t, store.CreateAccount(context.Background(), usr, w, first))
	return w
}

func TestReconcileAll_RepairsDriftedCaches(t *testing.T) {
	ctx := context.Background()
	store := userstore.NewMemoryStore()
	kaizen := seedWallet(t, store, "kaizen")
	echo := seedWallet(t, store, "echo")

	balances := ledgersvc.NewService(store,
		ledger.CircuitBreaker{Thresholds: ledger.DefaultThresholds, GII: 0.95},
		ledger.NewRewardTable(nil, 5), zap.NewNop())
	_, err := balances.RecordEntry(ctx, kaizen.ID, 7, ledger.ReasonEarn, "test", nil)
	require.NoError(t, err)

	require.NoError(t, store.UpdateCachedBalance(ctx, kaizen.ID, decimal.NewFromInt(999), base))
	require.NoError(t, store.UpdateCachedBalance(ctx, echo.ID, decimal.NewFromInt(-1), base))

	r := New(store, balances, zap.NewNop())
	res, err := r.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Result{Wallets: 2, Drifted: 2}, res)

	w, err := store.GetWallet(ctx, kaizen.ID)
	require.NoError(t, err)
	assert.True(t, w.CachedBalance.Equal(decimal.NewFromInt(7)), w.CachedBalance.String())
	w, err = store.GetWallet(ctx, echo.ID)
	require.NoError(t, err)
	assert.True(t, w.CachedBalance.IsZero())

	res, err = r.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Result{Wallets: 2}, res)
}

type failingBalances struct {
	failFor string
	inner   Balances
}

func (f failingBalances) ComputeBalance(ctx context.Context, walletID string) (*ledger.Balance, error) {
	if walletID == f.failFor {
		return nil, errors.New("ledger unavailable")
	}
	return f.inner.ComputeBalance(ctx, walletID)
}

func TestReconcileAll_SkipsFailingWallets(t *testing.T) {
	ctx := context.Background()
	store := userstore.NewMemoryStore()
	kaizen := seedWallet(t, store, "kaizen")
	seedWallet(t, store, "echo")

	balances := ledgersvc.NewService(store,
		ledger.CircuitBreaker{Thresholds: ledger.DefaultThresholds, GII: 0.95},
		ledger.NewRewardTable(nil, 5), zap.NewNop())

	r := New(store, failingBalances{failFor: kaizen.ID, inner: balances}, zap.NewNop())
	res, err := r.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Wallets)
	assert.Equal(t, 1, res.Failed)
}

func TestPeriodicReconciliation_StopsCleanly(t *testing.T) {
	store := userstore.NewMemoryStore()
	balances := ledgersvc.NewService(store,
		ledger.CircuitBreaker{Thresholds: ledger.DefaultThresholds, GII: 0.95},
		ledger.NewRewardTable(nil, 5), zap.NewNop())

	r := New(store, balances, zap.NewNop())
	r.StartPeriodicReconciliation(10 * time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	r.Stop()
	r.Stop()
}
