package userstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/founder"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/ledger"
)

func (s *pgStore) InsertLedgerEntry(ctx context.Context, e *ledger.Entry) error {
	if _, err := s.db.NewInsert().Model(toLedgerEntryDao(e)).Exec(ctx); err != nil {
		if pgCode(err) == codeForeignKeyViolation {
			return ErrWalletNotFound
		}
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

func (s *pgStore) ListLedgerEntries(ctx context.Context, walletID string) ([]*ledger.Entry, error) {
	var daos []LedgerEntryDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("wallet_id = ?", walletID).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return toLedgerEntries(daos), nil
}

func (s *pgStore) ListLedgerEntriesPage(ctx context.Context, walletID string, page ledger.Page) ([]*ledger.Entry, int, error) {
	var daos []LedgerEntryDao
	total, err := s.db.NewSelect().
		Model(&daos).
		Where("wallet_id = ?", walletID).
		OrderExpr("created_at DESC, id DESC").
		Limit(page.Limit).
		Offset(page.Offset).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to page ledger entries: %w", err)
	}
	return toLedgerEntries(daos), total, nil
}

func (s *pgStore) LedgerStats(ctx context.Context) (*ledger.Stats, error) {
	var rows []struct {
		Reason string          `bun:"reason"`
		Count  int             `bun:"count"`
		Earned decimal.Decimal `bun:"earned"`
		Spent  decimal.Decimal `bun:"spent"`
	}
	err := s.db.NewSelect().
		Model((*LedgerEntryDao)(nil)).
		ColumnExpr("reason").
		ColumnExpr("COUNT(*) AS count").
		ColumnExpr("COALESCE(SUM(CASE WHEN amount > 0 THEN amount ELSE 0 END), 0) AS earned").
		ColumnExpr("COALESCE(SUM(CASE WHEN amount < 0 THEN -amount ELSE 0 END), 0) AS spent").
		Group("reason").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate ledger: %w", err)
	}

	var wallets int
	err = s.db.NewSelect().
		Model((*LedgerEntryDao)(nil)).
		ColumnExpr("COUNT(DISTINCT wallet_id)").
		Scan(ctx, &wallets)
	if err != nil {
		return nil, fmt.Errorf("failed to count ledger wallets: %w", err)
	}

	var sources []struct {
		Source string `bun:"source"`
		Count  int    `bun:"count"`
	}
	err = s.db.NewSelect().
		Model((*LedgerEntryDao)(nil)).
		ColumnExpr("source").
		ColumnExpr("COUNT(*) AS count").
		Group("source").
		Scan(ctx, &sources)
	if err != nil {
		return nil, fmt.Errorf("failed to count ledger sources: %w", err)
	}

	stats := &ledger.Stats{
		UniqueWallets: wallets,
		TotalEarned:   decimal.Zero,
		TotalSpent:    decimal.Zero,
		ByReason:      make(map[ledger.Reason]ledger.ReasonTotals, len(rows)),
		BySource:      make(map[string]int, len(sources)),
	}
	for _, row := range sources {
		stats.BySource[row.Source] = row.Count
	}
	for _, row := range rows {
		stats.TotalEntries += row.Count
		stats.TotalEarned = stats.TotalEarned.Add(row.Earned)
		stats.TotalSpent = stats.TotalSpent.Add(row.Spent)
		stats.ByReason[ledger.Reason(row.Reason)] = ledger.ReasonTotals{
			Count:  row.Count,
			Earned: row.Earned,
			Spent:  row.Spent,
		}
	}
	return stats, nil
}

func (s *pgStore) GetVerifiedFounder(ctx context.Context) (*founder.Record, error) {
	dao := new(FounderWalletDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("verified = TRUE").
		OrderExpr("sealed_at ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFounderNotFound
		}
		return nil, fmt.Errorf("failed to get founder record: %w", err)
	}
	return toFounderRecord(dao), nil
}

// InsertFounder relies on the partial unique index over verified founder rows.
func (s *pgStore) InsertFounder(ctx context.Context, r *founder.Record) error {
	if _, err := s.db.NewInsert().Model(toFounderWalletDao(r)).Exec(ctx); err != nil {
		if pgCode(err) == codeUniqueViolation {
			return ErrFounderExists
		}
		return fmt.Errorf("failed to insert founder record: %w", err)
	}
	return nil
}

func toLedgerEntries(daos []LedgerEntryDao) []*ledger.Entry {
	entries := make([]*ledger.Entry, len(daos))
	for i := range daos {
		entries[i] = toLedgerEntry(&daos[i])
	}
	return entries
}
