// Command founder-ceremony seals the founder wallet once and prints its private key.
// The key is not stored anywhere; running the ceremony again fails.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/config"
	foundersvc "github.com/kaizencycle/mobius-browser-shell-sub002/pkg/founder/service"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/pgutil"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/userstore"
)

const ceremonyTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	balance := flag.String("initial-balance", "", "Genesis MIC allocation (defaults to founder.initial_balance)")
	flag.Parse()

	if err := run(*configPath, *balance); err != nil {
		fmt.Fprintf(os.Stderr, "Founder ceremony failed: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, balance string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if cfg.Storage.Driver != config.StorageDriverPostgres {
		return fmt.Errorf("the founder ceremony requires postgres storage, got %q", cfg.Storage.Driver)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	defaultBalance, err := decimal.NewFromString(cfg.Founder.InitialBalance)
	if err != nil {
		return fmt.Errorf("invalid founder.initial_balance: %w", err)
	}
	var req foundersvc.SealRequest
	if balance != "" {
		if req.InitialBalance, err = decimal.NewFromString(balance); err != nil {
			return fmt.Errorf("invalid -initial-balance: %w", err)
		}
	}

	db, err := pgutil.ConnectDB(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), ceremonyTimeout)
	defer cancel()

	svc := foundersvc.NewService(userstore.NewStore(db), defaultBalance, logger)
	ceremony, err := svc.Seal(ctx, req)
	if err != nil {
		return err
	}
	logger.Info("Founder wallet sealed",
		zap.String("address", ceremony.Record.Address),
		zap.String("seal_hash", ceremony.Record.SealHash))

	out, err := json.MarshalIndent(ceremony.Record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	fmt.Println(string(out))
	fmt.Println()
	fmt.Println("FOUNDER PRIVATE KEY (shown once, store it offline):")
	fmt.Println(ceremony.PrivateKeyHex)
	return nil
}
