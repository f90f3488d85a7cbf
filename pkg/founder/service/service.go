// Package service runs the one-time founder seal ceremony and serves the public record.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kaizencycle/mobius-browser-shell-sub002/internal/metrics"
	apperrors "github.com/kaizencycle/mobius-browser-shell-sub002/pkg/app/errors"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/founder"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/userstore"
)

// Store is the narrow data-access interface for the founder registry.
//
//go:generate mockery --name Store --output mocks --outpkg mocks --filename mock_store.go --with-expecter
type Store interface {
	GetVerifiedFounder(ctx context.Context) (*founder.Record, error)
	InsertFounder(ctx context.Context, r *founder.Record) error
}

// SealRequest parameterizes the ceremony. A zero InitialBalance uses the configured default.
type SealRequest struct {
	InitialBalance decimal.Decimal
}

// Ceremony is the outcome of a successful seal. PrivateKeyHex is shown once and never stored.
type Ceremony struct {
	Record        *founder.Record
	PrivateKeyHex string
}

// Verification reports whether the stored record still matches its seal
type Verification struct {
	Valid  bool            `json:"valid"`
	Record *founder.Record `json:"record"`
}

// Service defines the founder registry operations
type Service interface {
	Seal(ctx context.Context, req SealRequest) (*Ceremony, error)
	Get(ctx context.Context) (*founder.Record, error)
	Verify(ctx context.Context) (*Verification, error)
}

// Option configures the founder service
type Option func(*sealService)

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *sealService) {
		s.now = now
	}
}

type sealService struct {
	store          Store
	initialBalance decimal.Decimal
	logger         *zap.Logger
	now            func() time.Time
}

// NewService creates the founder service. initialBalance is the default genesis allocation.
func NewService(store Store, initialBalance decimal.Decimal, logger *zap.Logger, opts ...Option) Service {
	s := &sealService{
		store:          store,
		initialBalance: initialBalance,
		logger:         logger,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *sealService) Seal(ctx context.Context, req SealRequest) (*Ceremony, error) {
	existing, err := s.store.GetVerifiedFounder(ctx)
	switch {
	case err == nil:
		metrics.FounderSeals.WithLabelValues("already_sealed").Inc()
		s.logger.Warn("founder seal refused, registry already sealed",
			zap.String("address", existing.Address),
			zap.Time("sealed_at", existing.SealedAt))
		return nil, apperrors.ConflictError(founder.ErrAlreadySealed, founder.ErrAlreadySealed.Error())
	case !errors.Is(err, userstore.ErrFounderNotFound):
		metrics.FounderSeals.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("check founder registry: %w", err)
	}

	balance := req.InitialBalance
	if balance.IsZero() {
		balance = s.initialBalance
	}
	genesis, err := founder.GenerateFounderWallet(balance)
	if err != nil {
		metrics.FounderSeals.WithLabelValues("error").Inc()
		return nil, apperrors.BadRequestError(err, "invalid initial balance")
	}
	record, err := founder.NewRecord(genesis, s.now())
	if err != nil {
		metrics.FounderSeals.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("seal founder record: %w", err)
	}

	if err := s.store.InsertFounder(ctx, record); err != nil {
		if errors.Is(err, userstore.ErrFounderExists) {
			metrics.FounderSeals.WithLabelValues("already_sealed").Inc()
			return nil, apperrors.ConflictError(founder.ErrAlreadySealed, founder.ErrAlreadySealed.Error())
		}
		metrics.FounderSeals.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("insert founder record: %w", err)
	}

	metrics.FounderSeals.WithLabelValues("sealed").Inc()
	s.logger.Info("founder wallet sealed",
		zap.String("address", record.Address),
		zap.String("initial_balance", record.InitialBalance.StringFixed(2)),
		zap.String("seal_hash", record.SealHash))
	return &Ceremony{Record: record, PrivateKeyHex: genesis.KeyPair.PrivateKeyHex()}, nil
}

func (s *sealService) Get(ctx context.Context) (*founder.Record, error) {
	record, err := s.store.GetVerifiedFounder(ctx)
	if err != nil {
		if errors.Is(err, userstore.ErrFounderNotFound) {
			return nil, apperrors.ResourceNotFoundError(err, "founder wallet not sealed")
		}
		return nil, fmt.Errorf("get founder record: %w", err)
	}
	return record, nil
}

func (s *sealService) Verify(ctx context.Context) (*Verification, error) {
	record, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	valid := founder.VerifyFounderSeal(record, record.SealHash)
	if !valid {
		s.logger.Error("founder seal does not match registry record",
			zap.String("address", record.Address),
			zap.String("seal_hash", record.SealHash))
	}
	return &Verification{Valid: valid, Record: record}, nil
}
