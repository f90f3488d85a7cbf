package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts counts authentication attempts by flow and outcome
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mobius_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"flow", "status"},
	)

	// AccountsCreated counts registered accounts
	AccountsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mobius_accounts_created_total",
			Help: "Total number of registered accounts",
		},
	)

	// SessionsRevoked counts revoked sessions
	SessionsRevoked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mobius_sessions_revoked_total",
			Help: "Total number of revoked sessions",
		},
	)

	// MagicLinks counts magic link operations by link type and outcome
	MagicLinks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mobius_magic_links_total",
			Help: "Total number of magic link operations",
		},
		[]string{"operation", "type", "status"},
	)

	// IdentityEvents counts identity events appended by type
	IdentityEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mobius_identity_events_total",
			Help: "Total number of identity events appended",
		},
		[]string{"event_type"},
	)

	// IdentityChainConflicts counts compare-and-swap retries on identity chains
	IdentityChainConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mobius_identity_chain_conflicts_total",
			Help: "Total number of concurrent identity appends that had to retry",
		},
	)

	// LedgerEntries counts ledger entries by reason
	LedgerEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mobius_ledger_entries_total",
			Help: "Total number of ledger entries recorded",
		},
		[]string{"reason"},
	)

	// MICAmount tracks the size of ledger entries
	MICAmount = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mobius_ledger_entry_amount",
			Help:    "Absolute MIC amount per ledger entry",
			Buckets: []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 1000},
		},
		[]string{"direction"},
	)

	// MintingRefused counts earn requests refused by the circuit breaker
	MintingRefused = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mobius_minting_refused_total",
			Help: "Total number of earn requests refused by the circuit breaker",
		},
	)

	// GlobalIntegrityIndex is the GII currently fed to the minting circuit breaker
	GlobalIntegrityIndex = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mobius_global_integrity_index",
			Help: "Current Global Integrity Index",
		},
	)

	// BalanceCacheRefreshFailures counts failed cached-balance writes
	BalanceCacheRefreshFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mobius_balance_cache_refresh_failures_total",
			Help: "Total number of cached balance refreshes that failed",
		},
	)

	// BalanceCacheDrift counts cached balances the reconciler found out of date
	BalanceCacheDrift = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mobius_balance_cache_drift_total",
			Help: "Total number of cached balances that differed from the ledger sum",
		},
	)

	// FounderSeals counts founder seal attempts by outcome
	FounderSeals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mobius_founder_seals_total",
			Help: "Total number of founder seal attempts",
		},
		[]string{"status"},
	)
)
