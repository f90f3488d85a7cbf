package main

import (
	"context"
	"flag"
	"log"

	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"

	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/config"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/migrations/apidb"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/pgutil"
	mghelper "github.com/kaizencycle/mobius-browser-shell-sub002/pkg/pgutil/migrations"
)

func main() {
	cfgPath := flag.String("config", "config.example.yaml", "Path to configuration file")
	flag.Usage = mghelper.Usage
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("error reading configuration file: %s", err.Error())
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("error creating logger: %s", err.Error())
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	// Connect to database
	db, err := pgutil.ConnectDB(&cfg.Database)
	if err != nil {
		log.Fatalf("error connecting to database: %s", err.Error())
	}
	defer db.Close()

	logger.Info("running migrations for identity database", zap.String("database", cfg.Database.Database))

	migrator := migrate.NewMigrator(db, apidb.Migrations)
	if err := mghelper.RunMigrations(context.Background(), migrator, logger, flag.Args()...); err != nil {
		mghelper.Exitf(err.Error())
	}
}
