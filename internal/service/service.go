package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/atm-service/internal/config"
	"github.com/Dan9191/atm-service/internal/models"
	"github.com/Dan9191/atm-service/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Notifier delivers out-of-band notices to cardholders
type Notifier interface {
	SendLockoutAlert(to, name, cardLabel string, until time.Time) error
	SendTransactionNotification(to, name string, accountID int64, txnType models.TransactionType, amount, balance decimal.Decimal) error
}

// Throttler bounds login attempts per client origin
type Throttler interface {
	Allow(ctx context.Context, origin string) (bool, error)
}

// ClientInfo identifies where a request came from
type ClientInfo struct {
	Origin    string
	UserAgent string
}

// Service handles business logic
type Service struct {
	store      repository.Store
	log        *logrus.Logger
	lockout    LockoutPolicy
	sessionTTL time.Duration
	notifier   Notifier
	throttle   Throttler
	now        func() time.Time

	maxAttempts  int
	retryBackoff time.Duration
}

// Option customizes a Service
type Option func(*Service)

// WithNotifier enables email notifications.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithThrottler enables the per-origin login throttle.
func WithThrottler(t Throttler) Option {
	return func(s *Service) { s.throttle = t }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService initializes a new service
func NewService(store repository.Store, log *logrus.Logger, cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		store:        store,
		log:          log,
		lockout:      LockoutPolicy{Threshold: cfg.LockoutMaxAttempts, Window: cfg.LockoutWindow},
		sessionTTL:   cfg.SessionTTL,
		now:          func() time.Time { return time.Now().UTC() },
		maxAttempts:  3,
		retryBackoff: 20 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ready reports whether the backing store is reachable.
func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// storageErr translates repository failures into the domain taxonomy.
func storageErr(op string, err error) error {
	if errors.Is(err, repository.ErrRetryable) {
		return fmt.Errorf("%s: %w", op, models.ErrTransient)
	}
	return fmt.Errorf("%s: %w", op, err)
}
