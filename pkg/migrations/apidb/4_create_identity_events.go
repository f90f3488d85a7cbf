package apidb

import (
	"context"

	"github.com/uptrace/bun"

	mghelper "github.com/kaizencycle/mobius-browser-shell-sub002/pkg/pgutil/migrations"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/userstore"
)

// ChainHeadIndex lets exactly one event extend a given previous hash per user.
// The first event of a chain has a NULL previous hash, hence the COALESCE.
const ChainHeadIndex = "idx_identity_events_chain_head"

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		if err := mghelper.CreateTable(ctx, db, &userstore.IdentityEventDao{},
			"(user_id) REFERENCES users (id) ON DELETE CASCADE"); err != nil {
			return err
		}
		if err := mghelper.CreateModelIndexes(ctx, db, &userstore.IdentityEventDao{}, "user_id"); err != nil {
			return err
		}
		return mghelper.CreateUniqueExprIndex(ctx, db, &userstore.IdentityEventDao{},
			ChainHeadIndex, "user_id, COALESCE(previous_hash, '')", "")
	}, func(ctx context.Context, db *bun.DB) error {
		return mghelper.DropTables(ctx, db, &userstore.IdentityEventDao{})
	})
}
