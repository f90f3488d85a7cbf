package userstore_test

import (
	"context"
	"testing"

	"github.com/uptrace/bun/migrate"

	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/migrations/apidb"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/pgutil"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/userstore"
)

const truncateAll = `TRUNCATE users, wallets, sessions, identity_events,
	magic_link_tokens, ledger_entries, founder_wallets CASCADE`

func TestPGStore(t *testing.T) {
	ctx := context.Background()
	db, cleanup := pgutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	migrator := migrate.NewMigrator(db, apidb.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("failed to init migrations: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	runStoreSuite(t, func(t *testing.T) userstore.Store {
		t.Helper()
		if _, err := db.ExecContext(ctx, truncateAll); err != nil {
			t.Fatalf("failed to truncate tables: %v", err)
		}
		return userstore.NewStore(db)
	})
}
