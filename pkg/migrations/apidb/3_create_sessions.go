package apidb

import (
	"context"

	"github.com/uptrace/bun"

	mghelper "github.com/kaizencycle/mobius-browser-shell-sub002/pkg/pgutil/migrations"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/userstore"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		if err := mghelper.CreateTable(ctx, db, &userstore.SessionDao{},
			"(user_id) REFERENCES users (id) ON DELETE CASCADE"); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &userstore.SessionDao{}, "user_id", "expires_at")
	}, func(ctx context.Context, db *bun.DB) error {
		return mghelper.DropTables(ctx, db, &userstore.SessionDao{})
	})
}
