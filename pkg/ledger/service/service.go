// Package service records MIC ledger entries and derives wallet balances from them.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kaizencycle/mobius-browser-shell-sub002/internal/metrics"
	apperrors "github.com/kaizencycle/mobius-browser-shell-sub002/pkg/app/errors"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/ledger"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/user"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/userstore"
)

// Page sizes for listings
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// Store is the narrow data-access interface for the ledger.
//
//go:generate mockery --name Store --output mocks --outpkg mocks --filename mock_store.go --with-expecter
type Store interface {
	GetWallet(ctx context.Context, walletID string) (*user.Wallet, error)
	GetWalletByUserID(ctx context.Context, userID string) (*user.Wallet, error)
	UpdateCachedBalance(ctx context.Context, walletID string, balance decimal.Decimal, at time.Time) error
	InsertLedgerEntry(ctx context.Context, e *ledger.Entry) error
	ListLedgerEntries(ctx context.Context, walletID string) ([]*ledger.Entry, error)
	ListLedgerEntriesPage(ctx context.Context, walletID string, page ledger.Page) ([]*ledger.Entry, int, error)
	LedgerStats(ctx context.Context) (*ledger.Stats, error)
}

// EntryPage is one newest-first window of a wallet's entries
type EntryPage struct {
	Entries []*ledger.Entry `json:"entries"`
	Total   int             `json:"totalEntries"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
	HasMore bool            `json:"hasMore"`
}

// EarnResult is the entry minted by Earn and the wallet balance after it
type EarnResult struct {
	Entry      *ledger.Entry    `json:"entry"`
	NewBalance *decimal.Decimal `json:"newBalance,omitempty"`
	Multiplier float64          `json:"giiMultiplier"`
}

// Health describes the minting circuit breaker
type Health struct {
	Status         string            `json:"status"`
	GII            float64           `json:"gii"`
	Multiplier     float64           `json:"giiMultiplier"`
	MintingHalted  bool              `json:"circuitBreakerActive"`
	Thresholds     ledger.Thresholds `json:"thresholds"`
	TotalEntries   int               `json:"totalLedgerEntries"`
	UniqueWallets  int               `json:"uniqueWallets"`
	NetSupply      decimal.Decimal   `json:"netSupply"`
	StatsAvailable bool              `json:"statsAvailable"`
}

// Service defines the wallet ledger operations
type Service interface {
	// RecordEntry appends an entry of any sign. An empty reason is derived from source.
	RecordEntry(ctx context.Context, walletID string, amount float64, reason ledger.Reason, source string, meta map[string]any) (*ledger.Entry, error)
	// ComputeBalance sums every entry of the wallet and refreshes its cached balance
	ComputeBalance(ctx context.Context, walletID string) (*ledger.Balance, error)
	ListEntries(ctx context.Context, walletID string, page ledger.Page) (*EntryPage, error)
	Stats(ctx context.Context) (*ledger.Stats, error)
	// Earn mints the reward for source, scaled by the circuit breaker
	Earn(ctx context.Context, walletID, source string, meta map[string]any) (*EarnResult, error)
	Health(ctx context.Context) *Health
	WalletForUser(ctx context.Context, userID string) (*user.Wallet, error)
}

// Option configures the ledger service
type Option func(*walletLedger)

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(l *walletLedger) {
		l.now = now
	}
}

type walletLedger struct {
	store   Store
	breaker ledger.CircuitBreaker
	rewards ledger.RewardTable
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates the ledger service
func NewService(store Store, breaker ledger.CircuitBreaker, rewards ledger.RewardTable, logger *zap.Logger, opts ...Option) Service {
	l := &walletLedger{
		store:   store,
		breaker: breaker,
		rewards: rewards,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	metrics.GlobalIntegrityIndex.Set(breaker.GII)
	return l
}

func (l *walletLedger) RecordEntry(
	ctx context.Context,
	walletID string,
	amount float64,
	reason ledger.Reason,
	source string,
	meta map[string]any,
) (*ledger.Entry, error) {
	d, err := ledger.ParseAmount(amount)
	if err != nil {
		return nil, apperrors.BadRequestError(err, "amount must be a finite non-zero number")
	}
	e, err := l.record(ctx, walletID, d, reason, source, meta)
	if err != nil {
		return nil, err
	}
	l.balanceAfterAppend(ctx, walletID)
	return e, nil
}

func (l *walletLedger) record(
	ctx context.Context,
	walletID string,
	amount decimal.Decimal,
	reason ledger.Reason,
	source string,
	meta map[string]any,
) (*ledger.Entry, error) {
	if reason == "" {
		reason = ledger.ReasonFromSource(source)
	}
	if !reason.Valid() {
		return nil, apperrors.BadRequestError(ledger.ErrUnknownReason, fmt.Sprintf("unknown reason %q", reason))
	}

	e := ledger.NewEntry(walletID, amount, reason, source, meta, l.now())
	e.GII = l.breaker.GII
	if err := l.store.InsertLedgerEntry(ctx, e); err != nil {
		if errors.Is(err, userstore.ErrWalletNotFound) {
			return nil, apperrors.ResourceNotFoundError(err, "wallet not found")
		}
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	direction := "credit"
	if amount.IsNegative() {
		direction = "debit"
	}
	metrics.LedgerEntries.WithLabelValues(string(reason)).Inc()
	metrics.MICAmount.WithLabelValues(direction).Observe(amount.Abs().InexactFloat64())
	return e, nil
}

// balanceAfterAppend recomputes the balance once an entry is committed.
// The entry stands even when this fails, so the error is only logged.
func (l *walletLedger) balanceAfterAppend(ctx context.Context, walletID string) *ledger.Balance {
	bal, err := l.ComputeBalance(ctx, walletID)
	if err != nil {
		l.logger.Warn("balance refresh after ledger append failed",
			zap.String("wallet_id", walletID),
			zap.Error(err))
		return nil
	}
	return bal
}

func (l *walletLedger) ComputeBalance(ctx context.Context, walletID string) (*ledger.Balance, error) {
	w, err := l.store.GetWallet(ctx, walletID)
	if err != nil {
		if errors.Is(err, userstore.ErrWalletNotFound) {
			return nil, apperrors.ResourceNotFoundError(err, "wallet not found")
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}

	entries, err := l.store.ListLedgerEntries(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	bal := ledger.Summarize(entries)
	if err := bal.Check(); err != nil {
		return nil, apperrors.GeneralError(err)
	}

	if !w.CachedBalance.Equal(bal.Balance) {
		l.refreshCache(ctx, walletID, bal.Balance)
	}
	return bal, nil
}

// refreshCache never fails the read that triggered it
func (l *walletLedger) refreshCache(ctx context.Context, walletID string, balance decimal.Decimal) {
	if err := l.store.UpdateCachedBalance(ctx, walletID, balance, l.now()); err != nil {
		metrics.BalanceCacheRefreshFailures.Inc()
		l.logger.Warn("failed to refresh cached balance",
			zap.String("wallet_id", walletID),
			zap.String("balance", balance.StringFixed(ledger.AmountScale)),
			zap.Error(err))
	}
}

func (l *walletLedger) ListEntries(ctx context.Context, walletID string, page ledger.Page) (*EntryPage, error) {
	page = page.Clamp(DefaultPageLimit, MaxPageLimit)
	entries, total, err := l.store.ListLedgerEntriesPage(ctx, walletID, page)
	if err != nil {
		return nil, fmt.Errorf("list ledger page: %w", err)
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	return &EntryPage{
		Entries: entries,
		Total:   total,
		Limit:   page.Limit,
		Offset:  page.Offset,
		HasMore: page.Offset+len(entries) < total,
	}, nil
}

func (l *walletLedger) Stats(ctx context.Context) (*ledger.Stats, error) {
	stats, err := l.store.LedgerStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger stats: %w", err)
	}
	return stats, nil
}

func (l *walletLedger) Earn(ctx context.Context, walletID, source string, meta map[string]any) (*EarnResult, error) {
	if source == "" {
		return nil, apperrors.BadRequestError(nil, "source is required")
	}
	if l.breaker.Halted() {
		metrics.MintingRefused.Inc()
		return nil, apperrors.UnavailableError(ledger.ErrMintingHalted, ledger.ErrMintingHalted.Error())
	}

	multiplier := l.breaker.Multiplier()
	base := l.rewards.Base(source, meta)
	amount := ledger.Scale(base, multiplier)
	if _, ok := meta["mic_earned"]; ok && source == ledger.SourceLearningModule {
		// the learning module reports an already-scored reward
		amount = ledger.Scale(base, 1)
	} else if multiplier == 0 && base > 0 {
		metrics.MintingRefused.Inc()
		return nil, apperrors.ForbiddenError(ledger.ErrRewardSuspended, ledger.ErrRewardSuspended.Error())
	}
	if !amount.IsPositive() {
		return nil, apperrors.BadRequestError(ledger.ErrInvalidAmount, "reward for source is zero")
	}

	e, err := l.record(ctx, walletID, amount, "", source, meta)
	if err != nil {
		return nil, err
	}
	res := &EarnResult{Entry: e, Multiplier: multiplier}
	if bal := l.balanceAfterAppend(ctx, walletID); bal != nil {
		res.NewBalance = &bal.Balance
	}
	return res, nil
}

func (l *walletLedger) Health(ctx context.Context) *Health {
	h := &Health{
		Status:        l.breaker.Status(),
		GII:           l.breaker.GII,
		Multiplier:    l.breaker.Multiplier(),
		MintingHalted: l.breaker.Halted(),
		Thresholds:    l.breaker.Thresholds,
		NetSupply:     decimal.Zero,
	}
	stats, err := l.Stats(ctx)
	if err != nil {
		l.logger.Warn("ledger stats unavailable for health check", zap.Error(err))
		return h
	}
	h.StatsAvailable = true
	h.TotalEntries = stats.TotalEntries
	h.UniqueWallets = stats.UniqueWallets
	h.NetSupply = stats.NetSupply()
	return h
}

func (l *walletLedger) WalletForUser(ctx context.Context, userID string) (*user.Wallet, error) {
	w, err := l.store.GetWalletByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, userstore.ErrWalletNotFound) {
			return nil, apperrors.ResourceNotFoundError(err, "wallet not found")
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return w, nil
}
