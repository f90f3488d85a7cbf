package userstore

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/founder"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/identity"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/ledger"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/magiclink"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/session"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/user"
)

// memoryStore keeps everything in process. It enforces the same uniqueness
// rules as the postgres schema and is used for development and tests.
type memoryStore struct {
	mu sync.RWMutex

	users        map[string]*user.User
	userByHandle map[string]string
	userByEmail  map[string]string

	wallets      map[string]*user.Wallet
	walletByUser map[string]string
	entries      map[string][]*ledger.Entry

	sessions    map[string]*session.Session
	events      map[string][]*identity.Event
	eventHashes map[string]struct{}
	magicLinks  map[string]*magiclink.Token
	founders    []*founder.Record
}

// NewMemoryStore creates an in-process store
func NewMemoryStore() Store {
	return &memoryStore{
		users:        make(map[string]*user.User),
		userByHandle: make(map[string]string),
		userByEmail:  make(map[string]string),
		wallets:      make(map[string]*user.Wallet),
		walletByUser: make(map[string]string),
		entries:      make(map[string][]*ledger.Entry),
		sessions:     make(map[string]*session.Session),
		events:       make(map[string][]*identity.Event),
		eventHashes:  make(map[string]struct{}),
		magicLinks:   make(map[string]*magiclink.Token),
	}
}

func (m *memoryStore) CreateAccount(_ context.Context, usr *user.User, wallet *user.Wallet, first *identity.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[usr.ID]; ok {
		return ErrUserExists
	}
	if _, ok := m.userByHandle[usr.Handle]; ok {
		return ErrUserExists
	}
	if _, ok := m.userByEmail[usr.Email]; ok {
		return ErrUserExists
	}
	if _, ok := m.wallets[wallet.ID]; ok {
		return ErrWalletExists
	}
	if first != nil {
		if _, ok := m.eventHashes[first.Hash]; ok {
			return ErrChainConflict
		}
	}

	u := *usr
	w := *wallet
	m.users[u.ID] = &u
	m.userByHandle[u.Handle] = u.ID
	m.userByEmail[u.Email] = u.ID
	m.wallets[w.ID] = &w
	m.walletByUser[u.ID] = w.ID

	if first != nil {
		e := cloneEvent(first)
		m.events[u.ID] = append(m.events[u.ID], e)
		m.eventHashes[e.Hash] = struct{}{}
	}
	return nil
}

func (m *memoryStore) GetUser(_ context.Context, opts ...QueryOption) (*user.User, error) {
	options, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if options.ID != nil && u.ID != *options.ID {
			continue
		}
		if options.Handle != nil && u.Handle != *options.Handle {
			continue
		}
		if options.Email != nil && u.Email != *options.Email {
			continue
		}
		c := *u
		return &c, nil
	}
	return nil, ErrUserNotFound
}

func (m *memoryStore) updateUser(userID string, fn func(*user.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	fn(u)
	return nil
}

func (m *memoryStore) UpdateLastLogin(_ context.Context, userID string, at time.Time) error {
	return m.updateUser(userID, func(u *user.User) {
		u.LastLoginAt = &at
	})
}

func (m *memoryStore) MarkEmailVerified(_ context.Context, userID string, trustLevel int) error {
	return m.updateUser(userID, func(u *user.User) {
		u.EmailVerified = true
		u.TrustLevel = max(u.TrustLevel, trustLevel)
	})
}

func (m *memoryStore) UpdatePasswordHash(_ context.Context, userID, passwordHash string) error {
	return m.updateUser(userID, func(u *user.User) {
		u.PasswordHash = passwordHash
	})
}

func (m *memoryStore) GetWallet(_ context.Context, walletID string) (*user.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.wallets[walletID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	c := *w
	return &c, nil
}

func (m *memoryStore) GetWalletByUserID(ctx context.Context, userID string) (*user.Wallet, error) {
	m.mu.RLock()
	walletID, ok := m.walletByUser[userID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrWalletNotFound
	}
	return m.GetWallet(ctx, walletID)
}

func (m *memoryStore) ListWallets(_ context.Context) ([]*user.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wallets := make([]*user.Wallet, 0, len(m.wallets))
	for _, w := range m.wallets {
		c := *w
		wallets = append(wallets, &c)
	}
	sort.Slice(wallets, func(i, j int) bool {
		if wallets[i].CreatedAt.Equal(wallets[j].CreatedAt) {
			return wallets[i].ID < wallets[j].ID
		}
		return wallets[i].CreatedAt.Before(wallets[j].CreatedAt)
	})
	return wallets, nil
}

func (m *memoryStore) UpdateCachedBalance(_ context.Context, walletID string, balance decimal.Decimal, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[walletID]
	if !ok {
		return ErrWalletNotFound
	}
	w.CachedBalance = balance
	w.BalanceUpdatedAt = &at
	return nil
}

func (m *memoryStore) CreateSession(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *s
	m.sessions[c.TokenHash] = &c
	return nil
}

func (m *memoryStore) GetSession(_ context.Context, tokenHash string) (*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[tokenHash]
	if !ok {
		return nil, ErrSessionNotFound
	}
	c := *s
	return &c, nil
}

func (m *memoryStore) RevokeSession(_ context.Context, tokenHash string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[tokenHash]
	if !ok || s.RevokedAt != nil || !s.ExpiresAt.After(at) {
		return false, nil
	}
	s.RevokedAt = &at
	return true, nil
}

func (m *memoryStore) RevokeUserSessions(_ context.Context, userID string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, s := range m.sessions {
		if s.UserID == userID && s.RevokedAt == nil && s.ExpiresAt.After(at) {
			s.RevokedAt = &at
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) LatestEvent(_ context.Context, userID string) (*identity.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.events[userID]
	if len(chain) == 0 {
		return nil, ErrEventNotFound
	}
	return cloneEvent(chain[len(chain)-1]), nil
}

func (m *memoryStore) AppendEvent(_ context.Context, e *identity.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chain := m.events[e.UserID]
	head := ""
	if len(chain) > 0 {
		head = chain[len(chain)-1].Hash
	}
	if e.PreviousHash != head {
		return ErrChainConflict
	}
	if _, ok := m.eventHashes[e.Hash]; ok {
		return ErrChainConflict
	}

	c := cloneEvent(e)
	m.events[e.UserID] = append(chain, c)
	m.eventHashes[c.Hash] = struct{}{}
	return nil
}

func (m *memoryStore) ListEvents(_ context.Context, userID string) ([]*identity.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.events[userID]
	out := make([]*identity.Event, len(chain))
	for i, e := range chain {
		out[i] = cloneEvent(e)
	}
	return out, nil
}

func (m *memoryStore) CreateMagicLink(_ context.Context, t *magiclink.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *t
	m.magicLinks[c.TokenHash] = &c
	return nil
}

func (m *memoryStore) GetMagicLink(_ context.Context, tokenHash string) (*magiclink.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.magicLinks[tokenHash]
	if !ok {
		return nil, ErrMagicLinkNotFound
	}
	c := *t
	return &c, nil
}

func (m *memoryStore) ConsumeMagicLink(_ context.Context, tokenHash string, now time.Time) (*magiclink.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.magicLinks[tokenHash]
	if !ok || !t.Consumable(now) {
		return nil, ErrMagicLinkNotConsumable
	}
	t.UsedAt = &now
	c := *t
	return &c, nil
}

func (m *memoryStore) InsertLedgerEntry(_ context.Context, e *ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.wallets[e.WalletID]; !ok {
		return ErrWalletNotFound
	}
	m.entries[e.WalletID] = append(m.entries[e.WalletID], cloneEntry(e))
	return nil
}

func (m *memoryStore) ListLedgerEntries(_ context.Context, walletID string) ([]*ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.entries[walletID]
	out := make([]*ledger.Entry, len(src))
	for i, e := range src {
		out[i] = cloneEntry(e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *memoryStore) ListLedgerEntriesPage(ctx context.Context, walletID string, page ledger.Page) ([]*ledger.Entry, int, error) {
	all, err := m.ListLedgerEntries(ctx, walletID)
	if err != nil {
		return nil, 0, err
	}

	total := len(all)
	out := make([]*ledger.Entry, 0, page.Limit)
	for i := total - 1 - page.Offset; i >= 0 && len(out) < page.Limit; i-- {
		out = append(out, all[i])
	}
	return out, total, nil
}

func (m *memoryStore) LedgerStats(_ context.Context) (*ledger.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &ledger.Stats{
		TotalEarned: decimal.Zero,
		TotalSpent:  decimal.Zero,
		ByReason:    make(map[ledger.Reason]ledger.ReasonTotals),
		BySource:    make(map[string]int),
	}
	for _, entries := range m.entries {
		if len(entries) > 0 {
			stats.UniqueWallets++
		}
		for _, e := range entries {
			rt, ok := stats.ByReason[e.Reason]
			if !ok {
				rt = ledger.ReasonTotals{Earned: decimal.Zero, Spent: decimal.Zero}
			}
			rt.Count++
			if e.Amount.IsPositive() {
				rt.Earned = rt.Earned.Add(e.Amount)
				stats.TotalEarned = stats.TotalEarned.Add(e.Amount)
			} else {
				rt.Spent = rt.Spent.Add(e.Amount.Abs())
				stats.TotalSpent = stats.TotalSpent.Add(e.Amount.Abs())
			}
			stats.ByReason[e.Reason] = rt
			stats.BySource[e.Source]++
			stats.TotalEntries++
		}
	}
	return stats, nil
}

func (m *memoryStore) GetVerifiedFounder(_ context.Context) (*founder.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.founders {
		if r.Verified {
			c := *r
			return &c, nil
		}
	}
	return nil, ErrFounderNotFound
}

func (m *memoryStore) InsertFounder(_ context.Context, r *founder.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.Verified {
		for _, existing := range m.founders {
			if existing.Verified {
				return ErrFounderExists
			}
		}
	}
	c := *r
	m.founders = append(m.founders, &c)
	return nil
}

func cloneEvent(e *identity.Event) *identity.Event {
	c := *e
	c.Data = maps.Clone(e.Data)
	return &c
}

func cloneEntry(e *ledger.Entry) *ledger.Entry {
	c := *e
	c.Meta = maps.Clone(e.Meta)
	return &c
}
