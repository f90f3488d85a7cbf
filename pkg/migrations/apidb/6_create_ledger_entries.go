package apidb

import (
	"context"

	"github.com/uptrace/bun"

	mghelper "github.com/kaizencycle/mobius-browser-shell-sub002/pkg/pgutil/migrations"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/userstore"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		if err := mghelper.CreateTable(ctx, db, &userstore.LedgerEntryDao{},
			"(wallet_id) REFERENCES wallets (id) ON DELETE RESTRICT"); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &userstore.LedgerEntryDao{}, "wallet_id", "reason", "created_at")
	}, func(ctx context.Context, db *bun.DB) error {
		return mghelper.DropTables(ctx, db, &userstore.LedgerEntryDao{})
	})
}
