// Package reconciler keeps cached wallet balances in line with the ledger.
package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kaizencycle/mobius-browser-shell-sub002/internal/metrics"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/ledger"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/user"
)

const periodicTimeout = 2 * time.Minute

// WalletStore lists the wallets whose caches are reconciled
type WalletStore interface {
	ListWallets(ctx context.Context) ([]*user.Wallet, error)
}

// Balances recomputes a wallet balance from its ledger and refreshes the cache
type Balances interface {
	ComputeBalance(ctx context.Context, walletID string) (*ledger.Balance, error)
}

// Result summarizes one reconciliation pass
type Result struct {
	Wallets int
	Drifted int
	Failed  int
}

// Reconciler rewrites cached balances that drifted from the ledger sum
type Reconciler struct {
	wallets  WalletStore
	balances Balances
	logger   *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a new Reconciler
func New(wallets WalletStore, balances Balances, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		wallets:  wallets,
		balances: balances,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// ReconcileAll recomputes the balance of every wallet. A wallet that fails is
// logged and skipped so one bad ledger does not block the rest.
func (r *Reconciler) ReconcileAll(ctx context.Context) (*Result, error) {
	start := time.Now()

	wallets, err := r.wallets.ListWallets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}

	res := &Result{Wallets: len(wallets)}
	for _, w := range wallets {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		bal, err := r.balances.ComputeBalance(ctx, w.ID)
		if err != nil {
			res.Failed++
			r.logger.Warn("Failed to reconcile wallet balance",
				zap.String("wallet_id", w.ID),
				zap.Error(err))
			continue
		}
		if !w.CachedBalance.Equal(bal.Balance) {
			res.Drifted++
			metrics.BalanceCacheDrift.Inc()
			r.logger.Debug("Cached balance drifted from ledger",
				zap.String("wallet_id", w.ID),
				zap.String("cached", w.CachedBalance.StringFixed(ledger.AmountScale)),
				zap.String("ledger", bal.Balance.StringFixed(ledger.AmountScale)))
		}
	}

	r.logger.Info("Balance reconciliation completed",
		zap.Int("wallets", res.Wallets),
		zap.Int("drifted", res.Drifted),
		zap.Int("failed", res.Failed),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}

// StartPeriodicReconciliation starts a background goroutine that reconciles periodically
func (r *Reconciler) StartPeriodicReconciliation(interval time.Duration) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		r.logger.Info("Started periodic reconciliation", zap.Duration("interval", interval))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), periodicTimeout)
				if _, err := r.ReconcileAll(ctx); err != nil {
					r.logger.Error("Periodic reconciliation failed", zap.Error(err))
				}
				cancel()
			case <-r.stopCh:
				r.logger.Info("Stopping periodic reconciliation")
				return
			}
		}
	}()
}

// Stop stops the periodic reconciliation. It is safe to call more than once.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}
