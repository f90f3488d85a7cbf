package userstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/identity"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/user"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

type pgStore struct {
	db *bun.DB
}

// NewStore creates a new postgres implementation of the store
func NewStore(db *bun.DB) Store {
	return &pgStore{db: db}
}

// pgCode returns the SQLSTATE of a postgres error, "" for anything else
func pgCode(err error) string {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C')
	}
	return ""
}

func (s *pgStore) CreateAccount(ctx context.Context, usr *user.User, wallet *user.Wallet, first *identity.Event) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(toUserDao(usr)).Exec(ctx); err != nil {
			if pgCode(err) == codeUniqueViolation {
				return ErrUserExists
			}
			return fmt.Errorf("failed to create user: %w", err)
		}

		if _, err := tx.NewInsert().Model(toWalletDao(wallet)).Exec(ctx); err != nil {
			if pgCode(err) == codeUniqueViolation {
				return ErrWalletExists
			}
			return fmt.Errorf("failed to create wallet: %w", err)
		}

		if first != nil {
			if _, err := tx.NewInsert().Model(toIdentityEventDao(first)).Exec(ctx); err != nil {
				if pgCode(err) == codeUniqueViolation {
					return ErrChainConflict
				}
				return fmt.Errorf("failed to append first identity event: %w", err)
			}
		}
		return nil
	})
}

func (s *pgStore) GetUser(ctx context.Context, opts ...QueryOption) (*user.User, error) {
	options, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}

	dao := new(UserDao)
	query := s.db.NewSelect().Model(dao)

	if options.ID != nil {
		query = query.Where("id = ?", *options.ID)
	}
	if options.Handle != nil {
		query = query.Where("handle = ?", *options.Handle)
	}
	if options.Email != nil {
		query = query.Where("email = ?", *options.Email)
	}

	err = query.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return toUser(dao), nil
}

func (s *pgStore) updateUser(ctx context.Context, userID string, set func(*bun.UpdateQuery) *bun.UpdateQuery) error {
	res, err := set(s.db.NewUpdate().Model((*UserDao)(nil))).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *pgStore) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	err := s.updateUser(ctx, userID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("last_login_at = ?", at)
	})
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return err
}

func (s *pgStore) MarkEmailVerified(ctx context.Context, userID string, trustLevel int) error {
	err := s.updateUser(ctx, userID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("email_verified = TRUE").
			Set("trust_level = GREATEST(trust_level, ?)", trustLevel)
	})
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return fmt.Errorf("failed to mark email verified: %w", err)
	}
	return err
}

func (s *pgStore) UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error {
	err := s.updateUser(ctx, userID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("password_hash = ?", passwordHash)
	})
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return fmt.Errorf("failed to update password hash: %w", err)
	}
	return err
}

func (s *pgStore) getWallet(ctx context.Context, column, value string) (*user.Wallet, error) {
	dao := new(WalletDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("? = ?", bun.Ident(column), value).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return toWallet(dao), nil
}

func (s *pgStore) GetWallet(ctx context.Context, walletID string) (*user.Wallet, error) {
	return s.getWallet(ctx, "id", walletID)
}

func (s *pgStore) GetWalletByUserID(ctx context.Context, userID string) (*user.Wallet, error) {
	return s.getWallet(ctx, "user_id", userID)
}

func (s *pgStore) ListWallets(ctx context.Context) ([]*user.Wallet, error) {
	var daos []WalletDao
	err := s.db.NewSelect().
		Model(&daos).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	wallets := make([]*user.Wallet, 0, len(daos))
	for i := range daos {
		wallets = append(wallets, toWallet(&daos[i]))
	}
	return wallets, nil
}

func (s *pgStore) UpdateCachedBalance(ctx context.Context, walletID string, balance decimal.Decimal, at time.Time) error {
	res, err := s.db.NewUpdate().
		Model((*WalletDao)(nil)).
		Set("cached_balance = ?", balance).
		Set("balance_updated_at = ?", at).
		Where("id = ?", walletID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update cached balance: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrWalletNotFound
	}
	return nil
}
