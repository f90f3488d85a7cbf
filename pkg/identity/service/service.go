// Package service appends to and verifies the per-user identity event chain.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/kaizencycle/mobius-browser-shell-sub002/internal/metrics"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/identity"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/userstore"
)

const defaultMaxAppendRetries = 5

// Store is the narrow data-access interface for the identity log.
//
//go:generate mockery --name Store --output mocks --outpkg mocks --filename mock_store.go --with-expecter
type Store interface {
	LatestEvent(ctx context.Context, userID string) (*identity.Event, error)
	AppendEvent(ctx context.Context, e *identity.Event) error
	ListEvents(ctx context.Context, userID string) ([]*identity.Event, error)
}

// Verification is the result of replaying a user's chain
type Verification struct {
	Valid      bool                   `json:"valid"`
	EventCount int                    `json:"eventCount"`
	Head       string                 `json:"head,omitempty"`
	Failures   []*identity.ChainError `json:"failures,omitempty"`
}

// Service defines the identity log operations
type Service interface {
	// Append links a new event to the user's current head
	Append(ctx context.Context, userID string, eventType identity.EventType, data map[string]any) (*identity.Event, error)
	List(ctx context.Context, userID string) ([]*identity.Event, error)
	Verify(ctx context.Context, userID string) (*Verification, error)
}

// Option configures the log
type Option func(*eventLog)

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(l *eventLog) {
		l.now = now
	}
}

// WithMaxRetries bounds how often Append retries after losing a race for the head
func WithMaxRetries(n uint64) Option {
	return func(l *eventLog) {
		l.maxRetries = n
	}
}

// WithBackOff replaces the exponential retry policy, mainly for tests
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(l *eventLog) {
		l.newBackOff = newBackOff
	}
}

type eventLog struct {
	store      Store
	logger     *zap.Logger
	now        func() time.Time
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

// NewService creates an identity log backed by store
func NewService(store Store, logger *zap.Logger, opts ...Option) Service {
	l := &eventLog{
		store:      store,
		logger:     logger,
		now:        time.Now,
		maxRetries: defaultMaxAppendRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 5 * time.Millisecond
			b.MaxInterval = 200 * time.Millisecond
			return b
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *eventLog) Append(
	ctx context.Context,
	userID string,
	eventType identity.EventType,
	data map[string]any,
) (*identity.Event, error) {
	var appended *identity.Event
	attempt := func() error {
		prev, err := l.store.LatestEvent(ctx, userID)
		switch {
		case errors.Is(err, userstore.ErrEventNotFound):
			prev = nil
		case err != nil:
			return backoff.Permanent(fmt.Errorf("load chain head: %w", err))
		}

		e, err := identity.NewEvent(userID, eventType, data, prev, l.now())
		if err != nil {
			return backoff.Permanent(err)
		}

		err = l.store.AppendEvent(ctx, e)
		if errors.Is(err, userstore.ErrChainConflict) {
			metrics.IdentityChainConflicts.Inc()
			l.logger.Debug("identity chain head moved, retrying",
				zap.String("user_id", userID),
				zap.String("event_type", string(eventType)))
			return err
		}
		if err != nil {
			return backoff.Permanent(fmt.Errorf("append event: %w", err))
		}
		appended = e
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(l.newBackOff(), l.maxRetries), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		return nil, err
	}

	metrics.IdentityEvents.WithLabelValues(string(eventType)).Inc()
	return appended, nil
}

func (l *eventLog) List(ctx context.Context, userID string) ([]*identity.Event, error) {
	events, err := l.store.ListEvents(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

func (l *eventLog) Verify(ctx context.Context, userID string) (*Verification, error) {
	events, err := l.List(ctx, userID)
	if err != nil {
		return nil, err
	}

	v := &Verification{EventCount: len(events)}
	v.Failures = identity.Audit(events)
	v.Valid = len(v.Failures) == 0
	if len(events) > 0 {
		v.Head = events[len(events)-1].Hash
	}
	if !v.Valid {
		l.logger.Warn("identity chain failed verification",
			zap.String("user_id", userID),
			zap.Int("failures", len(v.Failures)),
			zap.Int("first_index", v.Failures[0].Index))
	}
	return v, nil
}
