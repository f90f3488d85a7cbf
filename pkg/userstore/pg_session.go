package userstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/identity"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/magiclink"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/session"
)

func (s *pgStore) CreateSession(ctx context.Context, sess *session.Session) error {
	if _, err := s.db.NewInsert().Model(toSessionDao(sess)).Exec(ctx); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *pgStore) GetSession(ctx context.Context, tokenHash string) (*session.Session, error) {
	dao := new(SessionDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("token_hash = ?", tokenHash).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return toSession(dao), nil
}

// RevokeSession is a single conditional UPDATE so that two concurrent
// revocations of the same live session cannot both report success.
func (s *pgStore) RevokeSession(ctx context.Context, tokenHash string, at time.Time) (bool, error) {
	res, err := s.db.NewUpdate().
		Model((*SessionDao)(nil)).
		Set("revoked_at = ?", at).
		Where("token_hash = ?", tokenHash).
		Where("revoked_at IS NULL").
		Where("expires_at > ?", at).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to revoke session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to count revoked sessions: %w", err)
	}
	return n > 0, nil
}

func (s *pgStore) RevokeUserSessions(ctx context.Context, userID string, at time.Time) (int, error) {
	res, err := s.db.NewUpdate().
		Model((*SessionDao)(nil)).
		Set("revoked_at = ?", at).
		Where("user_id = ?", userID).
		Where("revoked_at IS NULL").
		Where("expires_at > ?", at).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke user sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count revoked sessions: %w", err)
	}
	return int(n), nil
}

func (s *pgStore) LatestEvent(ctx context.Context, userID string) (*identity.Event, error) {
	dao := new(IdentityEventDao)
	// the head is the only event no other event points back to
	err := s.db.NewSelect().
		Model(dao).
		Where("ie.user_id = ?", userID).
		Where("NOT EXISTS (SELECT 1 FROM identity_events AS n WHERE n.user_id = ie.user_id AND n.previous_hash = ie.event_hash)").
		OrderExpr("ie.created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get latest identity event: %w", err)
	}
	return toIdentityEvent(dao), nil
}

// AppendEvent relies on the unique index over (user_id, COALESCE(previous_hash, ''))
// so that only one writer can extend a given chain head.
func (s *pgStore) AppendEvent(ctx context.Context, e *identity.Event) error {
	if _, err := s.db.NewInsert().Model(toIdentityEventDao(e)).Exec(ctx); err != nil {
		if pgCode(err) == codeUniqueViolation {
			return ErrChainConflict
		}
		return fmt.Errorf("failed to append identity event: %w", err)
	}
	return nil
}

func (s *pgStore) ListEvents(ctx context.Context, userID string) ([]*identity.Event, error) {
	var daos []IdentityEventDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("user_id = ?", userID).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list identity events: %w", err)
	}
	events := make([]*identity.Event, len(daos))
	for i := range daos {
		events[i] = toIdentityEvent(&daos[i])
	}
	return orderChain(events), nil
}

func (s *pgStore) CreateMagicLink(ctx context.Context, t *magiclink.Token) error {
	if _, err := s.db.NewInsert().Model(toMagicLinkDao(t)).Exec(ctx); err != nil {
		return fmt.Errorf("failed to create magic link: %w", err)
	}
	return nil
}

func (s *pgStore) GetMagicLink(ctx context.Context, tokenHash string) (*magiclink.Token, error) {
	dao := new(MagicLinkDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("token_hash = ?", tokenHash).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMagicLinkNotFound
		}
		return nil, fmt.Errorf("failed to get magic link: %w", err)
	}
	return toMagicLink(dao), nil
}

func (s *pgStore) ConsumeMagicLink(ctx context.Context, tokenHash string, now time.Time) (*magiclink.Token, error) {
	dao := new(MagicLinkDao)
	res, err := s.db.NewUpdate().
		Model(dao).
		Set("used_at = ?", now).
		Where("token_hash = ?", tokenHash).
		Where("used_at IS NULL").
		Where("expires_at > ?", now).
		Returning("*").
		Exec(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMagicLinkNotConsumable
		}
		return nil, fmt.Errorf("failed to consume magic link: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrMagicLinkNotConsumable
	}
	return toMagicLink(dao), nil
}
