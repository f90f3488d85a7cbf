package apidb

import (
	"context"

	"github.com/uptrace/bun"

	mghelper "github.com/kaizencycle/mobius-browser-shell-sub002/pkg/pgutil/migrations"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/userstore"
)

// FounderVerifiedIndex allows at most one verified founder record.
const FounderVerifiedIndex = "idx_founder_wallets_verified"

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		if err := mghelper.CreateSchema(ctx, db, &userstore.FounderWalletDao{}); err != nil {
			return err
		}
		return mghelper.CreateUniqueExprIndex(ctx, db, &userstore.FounderWalletDao{},
			FounderVerifiedIndex, "verified", "verified")
	}, func(ctx context.Context, db *bun.DB) error {
		return mghelper.DropTables(ctx, db, &userstore.FounderWalletDao{})
	})
}
