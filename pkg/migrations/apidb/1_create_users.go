package apidb

import (
	"context"

	"github.com/uptrace/bun"

	mghelper "github.com/kaizencycle/mobius-browser-shell-sub002/pkg/pgutil/migrations"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/userstore"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		return mghelper.CreateSchema(ctx, db, &userstore.UserDao{})
	}, func(ctx context.Context, db *bun.DB) error {
		return mghelper.DropTables(ctx, db, &userstore.UserDao{})
	})
}
