package userstore

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/founder"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/identity"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/ledger"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/magiclink"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/session"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/token"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/user"
)

// UserDao is a data access object that maps directly to the 'users' table in PostgreSQL.
type UserDao struct {
	bun.BaseModel `bun:"table:users,alias:u"`
	ID            string     `bun:"id,pk,type:uuid"`
	Handle        string     `bun:"handle,unique,notnull,type:varchar(32)"`
	Email         string     `bun:"email,unique,notnull,type:varchar(320)"`
	PasswordHash  *string    `bun:"password_hash,type:text"`
	TrustLevel    int        `bun:"trust_level,notnull,default:0"`
	IsFounder     bool       `bun:"is_founder,notnull,default:false"`
	EmailVerified bool       `bun:"email_verified,notnull,default:false"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	LastLoginAt   *time.Time `bun:"last_login_at"`
}

// WalletDao maps to the 'wallets' table. One wallet per user.
type WalletDao struct {
	bun.BaseModel       `bun:"table:wallets,alias:w"`
	ID                  string          `bun:"id,pk,type:uuid"`
	UserID              string          `bun:"user_id,unique,notnull,type:uuid"`
	PublicKey           string          `bun:"public_key,notnull,type:varchar(66)"`
	Address             string          `bun:"address,notnull,type:varchar(42)"`
	EncryptedPrivateKey string          `bun:"encrypted_private_key,notnull,type:text"`
	CachedBalance       decimal.Decimal `bun:"cached_balance,notnull,type:numeric(20,2),default:0"`
	IsFounderWallet     bool            `bun:"is_founder_wallet,notnull,default:false"`
	BalanceUpdatedAt    *time.Time      `bun:"balance_updated_at"`
	CreatedAt           time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// LedgerEntryDao maps to the append-only 'ledger_entries' table
type LedgerEntryDao struct {
	bun.BaseModel  `bun:"table:ledger_entries,alias:le"`
	ID             string          `bun:"id,pk,type:uuid"`
	WalletID       string          `bun:"wallet_id,notnull,type:uuid"`
	Amount         decimal.Decimal `bun:"amount,notnull,type:numeric(20,2)"`
	Reason         string          `bun:"reason,notnull,type:varchar(32)"`
	Source         string          `bun:"source,notnull,type:varchar(128)"`
	Meta           map[string]any  `bun:"meta,type:jsonb,notnull"`
	IntegrityScore float64         `bun:"integrity_score,notnull,default:1"`
	GII            float64         `bun:"gii,notnull,default:0"`
	CreatedAt      time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// SessionDao maps to the 'sessions' table. Only the token hash is stored.
type SessionDao struct {
	bun.BaseModel `bun:"table:sessions,alias:s"`
	TokenHash     string     `bun:"token_hash,pk,type:varchar(64)"`
	PairHash      *string    `bun:"pair_hash,type:varchar(64)"`
	UserID        string     `bun:"user_id,notnull,type:uuid"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull"`
	RevokedAt     *time.Time `bun:"revoked_at"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// IdentityEventDao maps to the 'identity_events' table
type IdentityEventDao struct {
	bun.BaseModel `bun:"table:identity_events,alias:ie"`
	ID            string         `bun:"id,pk,type:uuid"`
	UserID        string         `bun:"user_id,notnull,type:uuid"`
	EventType     string         `bun:"event_type,notnull,type:varchar(64)"`
	EventData     map[string]any `bun:"event_data,type:jsonb,notnull"`
	EventHash     string         `bun:"event_hash,unique,notnull,type:varchar(64)"`
	PreviousHash  *string        `bun:"previous_hash,type:varchar(64)"`
	CreatedAt     time.Time      `bun:"created_at,notnull"`
}

// MagicLinkDao maps to the 'magic_link_tokens' table
type MagicLinkDao struct {
	bun.BaseModel `bun:"table:magic_link_tokens,alias:ml"`
	TokenHash     string     `bun:"token_hash,pk,type:varchar(64)"`
	UserID        string     `bun:"user_id,notnull,type:uuid"`
	Type          string     `bun:"type,notnull,type:varchar(32)"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull"`
	UsedAt        *time.Time `bun:"used_at"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// FounderWalletDao maps to the 'founder_wallets' table.
// At most one row may have verified = true.
type FounderWalletDao struct {
	bun.BaseModel  `bun:"table:founder_wallets,alias:fw"`
	ID             string          `bun:"id,pk,type:uuid"`
	PublicKey      string          `bun:"public_key,notnull,type:varchar(66)"`
	Address        string          `bun:"address,notnull,type:varchar(42)"`
	InitialBalance decimal.Decimal `bun:"initial_balance,notnull,type:numeric(20,2)"`
	SealedAt       time.Time       `bun:"sealed_at,notnull"`
	SealHash       string          `bun:"seal_hash,notnull,type:varchar(64)"`
	Verified       bool            `bun:"verified,notnull,default:false"`
}

func toUserDao(usr *user.User) *UserDao {
	dao := &UserDao{
		ID:            usr.ID,
		Handle:        usr.Handle,
		Email:         usr.Email,
		TrustLevel:    usr.TrustLevel,
		IsFounder:     usr.IsFounder,
		EmailVerified: usr.EmailVerified,
		CreatedAt:     usr.CreatedAt,
		LastLoginAt:   usr.LastLoginAt,
	}
	if usr.PasswordHash != "" {
		dao.PasswordHash = &usr.PasswordHash
	}
	return dao
}

func toUser(dao *UserDao) *user.User {
	usr := &user.User{
		ID:            dao.ID,
		Handle:        dao.Handle,
		Email:         dao.Email,
		TrustLevel:    dao.TrustLevel,
		IsFounder:     dao.IsFounder,
		EmailVerified: dao.EmailVerified,
		CreatedAt:     dao.CreatedAt,
		LastLoginAt:   dao.LastLoginAt,
	}
	if dao.PasswordHash != nil {
		usr.PasswordHash = *dao.PasswordHash
	}
	return usr
}

func toWalletDao(w *user.Wallet) *WalletDao {
	return &WalletDao{
		ID:                  w.ID,
		UserID:              w.UserID,
		PublicKey:           w.PublicKey,
		Address:             w.Address,
		EncryptedPrivateKey: w.EncryptedPrivateKey,
		CachedBalance:       w.CachedBalance,
		IsFounderWallet:     w.IsFounderWallet,
		BalanceUpdatedAt:    w.BalanceUpdatedAt,
		CreatedAt:           w.CreatedAt,
	}
}

func toWallet(dao *WalletDao) *user.Wallet {
	return &user.Wallet{
		ID:                  dao.ID,
		UserID:              dao.UserID,
		PublicKey:           dao.PublicKey,
		Address:             dao.Address,
		EncryptedPrivateKey: dao.EncryptedPrivateKey,
		CachedBalance:       dao.CachedBalance,
		IsFounderWallet:     dao.IsFounderWallet,
		BalanceUpdatedAt:    dao.BalanceUpdatedAt,
		CreatedAt:           dao.CreatedAt,
	}
}

func toLedgerEntryDao(e *ledger.Entry) *LedgerEntryDao {
	meta := e.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	return &LedgerEntryDao{
		ID:             e.ID,
		WalletID:       e.WalletID,
		Amount:         e.Amount,
		Reason:         string(e.Reason),
		Source:         e.Source,
		Meta:           meta,
		IntegrityScore: e.IntegrityScore,
		GII:            e.GII,
		CreatedAt:      e.CreatedAt,
	}
}

func toLedgerEntry(dao *LedgerEntryDao) *ledger.Entry {
	return &ledger.Entry{
		ID:             dao.ID,
		WalletID:       dao.WalletID,
		Amount:         dao.Amount,
		Reason:         ledger.Reason(dao.Reason),
		Source:         dao.Source,
		Meta:           dao.Meta,
		IntegrityScore: dao.IntegrityScore,
		GII:            dao.GII,
		CreatedAt:      dao.CreatedAt,
	}
}

func toSessionDao(s *session.Session) *SessionDao {
	dao := &SessionDao{
		TokenHash: s.TokenHash,
		UserID:    s.UserID,
		ExpiresAt: s.ExpiresAt,
		RevokedAt: s.RevokedAt,
		CreatedAt: s.CreatedAt,
	}
	if s.PairHash != "" {
		dao.PairHash = &s.PairHash
	}
	return dao
}

func toSession(dao *SessionDao) *session.Session {
	s := &session.Session{
		TokenHash: dao.TokenHash,
		UserID:    dao.UserID,
		ExpiresAt: dao.ExpiresAt,
		RevokedAt: dao.RevokedAt,
		CreatedAt: dao.CreatedAt,
	}
	if dao.PairHash != nil {
		s.PairHash = *dao.PairHash
	}
	return s
}

func toIdentityEventDao(e *identity.Event) *IdentityEventDao {
	data := e.Data
	if data == nil {
		data = map[string]any{}
	}
	dao := &IdentityEventDao{
		ID:        e.ID,
		UserID:    e.UserID,
		EventType: string(e.Type),
		EventData: data,
		EventHash: e.Hash,
		CreatedAt: e.CreatedAt,
	}
	if e.PreviousHash != "" {
		dao.PreviousHash = &e.PreviousHash
	}
	return dao
}

func toIdentityEvent(dao *IdentityEventDao) *identity.Event {
	e := &identity.Event{
		ID:        dao.ID,
		UserID:    dao.UserID,
		Type:      identity.EventType(dao.EventType),
		Data:      dao.EventData,
		Hash:      dao.EventHash,
		CreatedAt: dao.CreatedAt.UTC(),
	}
	if dao.PreviousHash != nil {
		e.PreviousHash = *dao.PreviousHash
	}
	return e
}

func toMagicLinkDao(t *magiclink.Token) *MagicLinkDao {
	return &MagicLinkDao{
		TokenHash: t.TokenHash,
		UserID:    t.UserID,
		Type:      string(t.Type),
		ExpiresAt: t.ExpiresAt,
		UsedAt:    t.UsedAt,
		CreatedAt: t.CreatedAt,
	}
}

func toMagicLink(dao *MagicLinkDao) *magiclink.Token {
	return &magiclink.Token{
		TokenHash: dao.TokenHash,
		UserID:    dao.UserID,
		Type:      token.LinkType(dao.Type),
		ExpiresAt: dao.ExpiresAt,
		UsedAt:    dao.UsedAt,
		CreatedAt: dao.CreatedAt,
	}
}

func toFounderWalletDao(r *founder.Record) *FounderWalletDao {
	return &FounderWalletDao{
		ID:             r.ID,
		PublicKey:      r.PublicKey,
		Address:        r.Address,
		InitialBalance: r.InitialBalance,
		SealedAt:       r.SealedAt,
		SealHash:       r.SealHash,
		Verified:       r.Verified,
	}
}

func toFounderRecord(dao *FounderWalletDao) *founder.Record {
	return &founder.Record{
		ID:             dao.ID,
		PublicKey:      dao.PublicKey,
		Address:        dao.Address,
		InitialBalance: dao.InitialBalance,
		SealedAt:       dao.SealedAt.UTC(),
		SealHash:       dao.SealHash,
		Verified:       dao.Verified,
	}
}
