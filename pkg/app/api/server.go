// Package api implements app.Runner for the API server process.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	apphttp "github.com/kaizencycle/mobius-browser-shell-sub002/pkg/app/http"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/auth"
	authsvc "github.com/kaizencycle/mobius-browser-shell-sub002/pkg/auth/service"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/config"
	foundersvc "github.com/kaizencycle/mobius-browser-shell-sub002/pkg/founder/service"
	identitysvc "github.com/kaizencycle/mobius-browser-shell-sub002/pkg/identity/service"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/keys"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/ledger"
	ledgersvc "github.com/kaizencycle/mobius-browser-shell-sub002/pkg/ledger/service"
	magiclinksvc "github.com/kaizencycle/mobius-browser-shell-sub002/pkg/magiclink/service"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/pgutil"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/reconciler"
	sessionsvc "github.com/kaizencycle/mobius-browser-shell-sub002/pkg/session/service"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/token"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/userstore"
)

// Server holds cfg to init the api server.
type Server struct {
	cfg *config.Config
}

// NewServer initializes new api server.
func NewServer(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

func (s *Server) Run() error {
	if s.cfg == nil {
		return fmt.Errorf("api server config is nil")
	}
	cfg := s.cfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting API server",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Driver),
	)

	store, closeStore, err := s.openStore(logger)
	if err != nil {
		return err
	}
	defer closeStore()

	router, wallets, err := s.newRouter(store, logger)
	if err != nil {
		return err
	}

	rec := reconciler.New(store, wallets, logger)
	s.runInitialReconcile(ctx, rec, logger)

	stopReconcile := s.startPeriodicReconcile(rec, logger)
	// Called explicitly after ServeAndWait so background work stops before the store closes.
	defer stopReconcile()

	err = apphttp.ServeAndWait(ctx, router, logger, &cfg.Server)

	stopReconcile()

	return err
}

func (s *Server) runInitialReconcile(ctx context.Context, rec *reconciler.Reconciler, logger *zap.Logger) {
	if s.cfg.Reconcile.InitialTimeout <= 0 {
		return
	}

	logger.Info("Running initial balance reconciliation",
		zap.Duration("timeout", s.cfg.Reconcile.InitialTimeout),
	)

	startupCtx, cancel := context.WithTimeout(ctx, s.cfg.Reconcile.InitialTimeout)
	defer cancel()

	if _, err := rec.ReconcileAll(startupCtx); err != nil {
		logger.Warn("Initial reconciliation failed (will retry periodically)", zap.Error(err))
	}
}

func (s *Server) startPeriodicReconcile(rec *reconciler.Reconciler, logger *zap.Logger) func() {
	if s.cfg.Reconcile.Interval <= 0 {
		return func() {}
	}

	logger.Info("Starting periodic reconciliation", zap.Duration("interval", s.cfg.Reconcile.Interval))
	rec.StartPeriodicReconciliation(s.cfg.Reconcile.Interval)

	return rec.Stop
}

func (s *Server) openStore(logger *zap.Logger) (userstore.Store, func(), error) {
	if s.cfg.Storage.Driver == config.StorageDriverMemory {
		logger.Warn("Using in-memory storage; all data is lost on restart")
		return userstore.NewMemoryStore(), func() {}, nil
	}

	db, err := pgutil.ConnectDB(&s.cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Connected to database",
		zap.String("host", s.cfg.Database.Host),
		zap.String("database", s.cfg.Database.Database),
	)
	return userstore.NewStore(db), func() { _ = db.Close() }, nil
}

func (s *Server) getMasterKey() ([]byte, error) {
	masterKeyStr := os.Getenv(s.cfg.KeyManagement.MasterKeyEnv)
	if masterKeyStr == "" {
		return nil, fmt.Errorf(
			"wallet master key not set: env=%s (hint: openssl rand -base64 32)",
			s.cfg.KeyManagement.MasterKeyEnv,
		)
	}

	masterKey, err := keys.MasterKeyFromBase64(masterKeyStr)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet master key: %w", err)
	}
	return masterKey, nil
}

func (s *Server) newTokenService() (*token.Service, error) {
	cfg := s.cfg
	secret := os.Getenv(cfg.Auth.JWTSecretEnv)
	if secret == "" {
		return nil, fmt.Errorf("%w: env %s is empty", token.ErrNotConfigured, cfg.Auth.JWTSecretEnv)
	}
	var refreshSecret []byte
	if cfg.Auth.RefreshSecretEnv != "" {
		refreshSecret = []byte(os.Getenv(cfg.Auth.RefreshSecretEnv))
	}

	return token.NewService(token.Config{
		Secret:        []byte(secret),
		RefreshSecret: refreshSecret,
		Issuer:        cfg.Auth.Issuer,
		Audience:      cfg.Auth.Audience,
		AccessTTL:     cfg.Auth.AccessTokenTTL,
		RefreshTTL:    cfg.Auth.RefreshTokenTTL,
		MagicLinkTTL:  cfg.MagicLink.TTL,
	})
}

// newRouter builds every service on top of store and mounts their routes.
// The wallet ledger is returned for background reconciliation.
func (s *Server) newRouter(store userstore.Store, logger *zap.Logger) (chi.Router, ledgersvc.Service, error) {
	cfg := s.cfg

	tokens, err := s.newTokenService()
	if err != nil {
		return nil, nil, err
	}
	masterKey, err := s.getMasterKey()
	if err != nil {
		return nil, nil, err
	}
	cipher, err := keys.NewMasterKeyCipher(masterKey)
	if err != nil {
		return nil, nil, fmt.Errorf("create key cipher: %w", err)
	}
	hasher, err := auth.NewArgon2Hasher(auth.Argon2Params{
		Memory:      cfg.Auth.Password.MemoryKiB,
		Iterations:  cfg.Auth.Password.Iterations,
		Parallelism: cfg.Auth.Password.Parallelism,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create password hasher: %w", err)
	}
	initialBalance, err := decimal.NewFromString(cfg.Founder.InitialBalance)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid founder initial balance: %w", err)
	}

	links, err := magiclinksvc.NewService(store, tokens, cfg.MagicLink.BaseURL, logger)
	if err != nil {
		return nil, nil, err
	}
	events := identitysvc.NewService(store, logger)
	breaker := ledger.CircuitBreaker{
		Thresholds: ledger.Thresholds{
			Healthy:  cfg.Ledger.Thresholds.Healthy,
			Warning:  cfg.Ledger.Thresholds.Warning,
			Critical: cfg.Ledger.Thresholds.Critical,
			Halt:     cfg.Ledger.Thresholds.Halt,
		},
		GII: cfg.Ledger.GII,
	}
	wallets := ledgersvc.NewService(store, breaker,
		ledger.NewRewardTable(cfg.Ledger.SourceRewards, cfg.Ledger.DefaultReward), logger)
	founders := foundersvc.NewService(store, initialBalance, logger)

	authService := authsvc.NewLog(authsvc.NewService(authsvc.Dependencies{
		Store:      store,
		Tokens:     tokens,
		Sessions:   sessionsvc.NewService(store),
		Events:     events,
		MagicLinks: links,
		Sender:     magiclinksvc.NewLogSender(logger),
		Balances:   wallets,
		Hasher:     hasher,
		Cipher:     cipher,
	}, logger, authsvc.WithSessionCheck(cfg.Auth.SessionCheckEnabled)), logger)

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, promhttp.Handler())
	}

	authsvc.RegisterRoutes(r, authService, authsvc.CookieConfig{
		Secure: cfg.Server.CookieSecure,
		MaxAge: cfg.Auth.RefreshTokenTTL,
	}, logger)
	identitysvc.RegisterRoutes(r, events, authService, logger)
	ledgersvc.RegisterRoutes(r, wallets, authService, logger)
	foundersvc.RegisterRoutes(r, founders, logger)

	return r, wallets, nil
}
