package userstore

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/founder"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/identity"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/ledger"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/magiclink"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/session"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/user"
)

var (
	// ErrUserNotFound is returned when a user lookup finds no matching record.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when the handle or email is already registered.
	ErrUserExists = errors.New("handle or email already registered")
	// ErrWalletNotFound is returned when a wallet lookup finds no matching record.
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrWalletExists is returned when a wallet ID is already taken.
	ErrWalletExists = errors.New("wallet already exists")
	// ErrSessionNotFound is returned when no session exists for a token hash.
	ErrSessionNotFound = errors.New("session not found")
	// ErrEventNotFound is returned when a user has no identity events.
	ErrEventNotFound = errors.New("identity event not found")
	// ErrChainConflict is returned when another event already extends the given previous hash.
	ErrChainConflict = errors.New("identity chain conflict")
	// ErrMagicLinkNotFound is returned when no magic link exists for a token hash.
	ErrMagicLinkNotFound = errors.New("magic link not found")
	// ErrMagicLinkNotConsumable is returned when a link is unknown, used or expired.
	ErrMagicLinkNotConsumable = errors.New("magic link not consumable")
	// ErrFounderNotFound is returned when no verified founder record exists.
	ErrFounderNotFound = errors.New("founder record not found")
	// ErrFounderExists is returned when a verified founder record already exists.
	ErrFounderExists = errors.New("verified founder record already exists")
)

// AccountStore persists users and their wallets
type AccountStore interface {
	// CreateAccount atomically inserts the user, its wallet and its first identity event.
	CreateAccount(ctx context.Context, usr *user.User, wallet *user.Wallet, first *identity.Event) error
	GetUser(ctx context.Context, opts ...QueryOption) (*user.User, error)
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
	MarkEmailVerified(ctx context.Context, userID string, trustLevel int) error
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error
	GetWallet(ctx context.Context, walletID string) (*user.Wallet, error)
	GetWalletByUserID(ctx context.Context, userID string) (*user.Wallet, error)
	// ListWallets returns every wallet ordered by creation time
	ListWallets(ctx context.Context) ([]*user.Wallet, error)
	UpdateCachedBalance(ctx context.Context, walletID string, balance decimal.Decimal, at time.Time) error
}

// SessionStore persists hashed access-token sessions
type SessionStore interface {
	CreateSession(ctx context.Context, s *session.Session) error
	GetSession(ctx context.Context, tokenHash string) (*session.Session, error)
	// RevokeSession marks a live session revoked and reports whether it did.
	// Revoking twice or revoking an unknown hash is not an error.
	RevokeSession(ctx context.Context, tokenHash string, at time.Time) (bool, error)
	RevokeUserSessions(ctx context.Context, userID string, at time.Time) (int, error)
}

// EventStore persists identity hash chains
type EventStore interface {
	LatestEvent(ctx context.Context, userID string) (*identity.Event, error)
	// AppendEvent inserts e if no other event already extends e.PreviousHash, else ErrChainConflict.
	AppendEvent(ctx context.Context, e *identity.Event) error
	ListEvents(ctx context.Context, userID string) ([]*identity.Event, error)
}

// MagicLinkStore persists issued magic links
type MagicLinkStore interface {
	CreateMagicLink(ctx context.Context, t *magiclink.Token) error
	GetMagicLink(ctx context.Context, tokenHash string) (*magiclink.Token, error)
	// ConsumeMagicLink marks an unused, unexpired link used at now in one atomic step.
	ConsumeMagicLink(ctx context.Context, tokenHash string, now time.Time) (*magiclink.Token, error)
}

// LedgerStore persists append-only ledger entries
type LedgerStore interface {
	InsertLedgerEntry(ctx context.Context, e *ledger.Entry) error
	ListLedgerEntries(ctx context.Context, walletID string) ([]*ledger.Entry, error)
	ListLedgerEntriesPage(ctx context.Context, walletID string, page ledger.Page) ([]*ledger.Entry, int, error)
	LedgerStats(ctx context.Context) (*ledger.Stats, error)
}

// FounderStore persists the founder registry
type FounderStore interface {
	GetVerifiedFounder(ctx context.Context) (*founder.Record, error)
	// InsertFounder fails with ErrFounderExists when a verified record already exists.
	InsertFounder(ctx context.Context, r *founder.Record) error
}

// Store is the full persistence port of the API server
type Store interface {
	AccountStore
	SessionStore
	EventStore
	MagicLinkStore
	LedgerStore
	FounderStore
}

// QueryOptions defines options for querying users
type QueryOptions struct {
	ID     *string
	Handle *string
	Email  *string
}

// QueryOption is a functional option for querying users
type QueryOption func(*QueryOptions)

// WithID sets the user ID filter
func WithID(id string) QueryOption {
	return func(opts *QueryOptions) {
		opts.ID = &id
	}
}

// WithHandle sets the handle filter. The value is normalized.
func WithHandle(handle string) QueryOption {
	return func(opts *QueryOptions) {
		h := user.NormalizeHandle(handle)
		opts.Handle = &h
	}
}

// WithEmail sets the email filter. The value is normalized.
func WithEmail(email string) QueryOption {
	return func(opts *QueryOptions) {
		e := user.NormalizeEmail(email)
		opts.Email = &e
	}
}

func buildOptions(opts []QueryOption) (*QueryOptions, error) {
	options := &QueryOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if options.ID == nil && options.Handle == nil && options.Email == nil {
		return nil, errors.New("user query requires at least one filter")
	}
	return options, nil
}

// orderChain returns events in link order starting from the event without a
// previous hash. Events that are not reachable that way keep their relative
// order and are appended at the end, so chain verification reports them.
func orderChain(events []*identity.Event) []*identity.Event {
	next := make(map[string]*identity.Event, len(events))
	for _, e := range events {
		if _, taken := next[e.PreviousHash]; !taken {
			next[e.PreviousHash] = e
		}
	}

	ordered := make([]*identity.Event, 0, len(events))
	seen := make(map[string]bool, len(events))
	for e, ok := next[""]; ok && !seen[e.ID]; e, ok = next[e.Hash] {
		ordered = append(ordered, e)
		seen[e.ID] = true
	}
	for _, e := range events {
		if !seen[e.ID] {
			ordered = append(ordered, e)
		}
	}
	return ordered
}
