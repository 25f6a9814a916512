package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/atm-service/internal/metrics"
	"github.com/Dan9191/atm-service/internal/models"
	"github.com/Dan9191/atm-service/internal/repository"
	"github.com/Dan9191/atm-service/internal/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTransactionLimit = 10
	MaxTransactionLimit     = 100
	maxIdempotencyKeyLength = 128
)

// owner is the account a session acts on, plus who to notify about it
type owner struct {
	card     *models.Card
	customer *models.Customer
	account  *models.Account
}

// resolveAccount follows session -> card -> customer -> account.
func (s *Service) resolveAccount(ctx context.Context, tx repository.Tx, session *models.Session) (*owner, error) {
	card, err := tx.GetCard(ctx, session.CardID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, models.ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	account, err := tx.GetAccountByCustomer(ctx, card.CustomerID)
	if errors.Is(err, repository.ErrNotFound) {
		s.log.WithFields(logrus.Fields{"card_id": card.ID, "customer_id": card.CustomerID}).
			Error("Authenticated card has no account")
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &owner{card: card, account: account}, nil
}

// GetBalance returns the latest committed balance of the session's account
func (s *Service) GetBalance(ctx context.Context, session *models.Session) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		o, err := s.resolveAccount(ctx, tx, session)
		if err != nil {
			return err
		}
		balance = o.account.Balance
		return nil
	})
	if err != nil {
		return decimal.Zero, storageErr("get balance", err)
	}
	return balance, nil
}

// Deposit credits amount once per idempotency key and returns the resulting balance
func (s *Service) Deposit(ctx context.Context, session *models.Session, amount decimal.Decimal, key string) (decimal.Decimal, error) {
	return s.mutate(ctx, session, models.TransactionDeposit, amount, key)
}

// Withdraw debits amount once per idempotency key and returns the resulting balance
func (s *Service) Withdraw(ctx context.Context, session *models.Session, amount decimal.Decimal, key string) (decimal.Decimal, error) {
	return s.mutate(ctx, session, models.TransactionWithdrawal, amount, key)
}

func (s *Service) mutate(ctx context.Context, session *models.Session, typ models.TransactionType, amount decimal.Decimal, key string) (decimal.Decimal, error) {
	log := s.log.WithFields(logrus.Fields{"card_id": session.CardID, "type": typ})

	if !utils.IsValidAmount(amount) {
		metrics.LedgerMutations.WithLabelValues(string(typ), metrics.OutcomeRejected).Inc()
		return decimal.Zero, models.ErrInvalidAmount
	}
	if key == "" || len(key) > maxIdempotencyKeyLength {
		metrics.LedgerMutations.WithLabelValues(string(typ), metrics.OutcomeRejected).Inc()
		return decimal.Zero, models.ErrInvalidIdempotencyKey
	}

	// optimistic replay check, outside the exclusive section
	var (
		o     *owner
		prior *models.Transaction
	)
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		if o, err = s.resolveAccount(ctx, tx, session); err != nil {
			return err
		}
		if s.notifier != nil {
			if o.customer, err = tx.GetCustomer(ctx, o.card.CustomerID); err != nil {
				return err
			}
		}
		prior, err = tx.GetTransactionByKey(ctx, key)
		if errors.Is(err, repository.ErrNotFound) {
			prior = nil
			return nil
		}
		return err
	})
	if err != nil {
		metrics.LedgerMutations.WithLabelValues(string(typ), metrics.OutcomeError).Inc()
		return decimal.Zero, storageErr(string(typ), err)
	}
	log = log.WithField("account_id", o.account.ID)
	if prior != nil {
		return s.replay(log, o.account, prior, typ, amount)
	}

	for attempt := 1; ; attempt++ {
		balance, err := s.apply(ctx, o, typ, amount, key)
		switch {
		case err == nil:
			metrics.LedgerMutations.WithLabelValues(string(typ), metrics.OutcomeApplied).Inc()
			log.WithField("amount", utils.FormatMoney(amount)).Info("Ledger mutation applied")
			s.notifyTransaction(o, typ, amount, balance)
			return balance, nil
		case errors.Is(err, models.ErrInsufficientFunds), errors.Is(err, models.ErrInvalidAmount):
			metrics.LedgerMutations.WithLabelValues(string(typ), metrics.OutcomeRejected).Inc()
			return decimal.Zero, err
		case errors.Is(err, repository.ErrConflict):
			// a concurrent request with the same key committed first
			return s.replayAfterConflict(ctx, log, o.account.ID, key, typ, amount)
		case errors.Is(err, repository.ErrRetryable) && attempt < s.maxAttempts:
			log.WithError(err).WithField("attempt", attempt).Warn("Ledger mutation contended, retrying")
			if err := sleepCtx(ctx, time.Duration(attempt)*s.retryBackoff); err != nil {
				return decimal.Zero, err
			}
		default:
			metrics.LedgerMutations.WithLabelValues(string(typ), metrics.OutcomeError).Inc()
			log.WithError(err).Error("Ledger mutation failed")
			return decimal.Zero, storageErr(string(typ), err)
		}
	}
}

// apply is the exclusive section: lock the account row, check, write balance and ledger entry together.
func (s *Service) apply(ctx context.Context, o *owner, typ models.TransactionType, amount decimal.Decimal, key string) (decimal.Decimal, error) {
	now := s.now()
	var balance decimal.Decimal
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		account, err := tx.GetAccountForUpdate(ctx, o.account.ID)
		if err != nil {
			return err
		}
		next := account.Balance.Add(amount)
		if typ == models.TransactionWithdrawal {
			next = account.Balance.Sub(amount)
			if next.IsNegative() {
				return models.ErrInsufficientFunds
			}
		}
		if !utils.IsStorableBalance(next) {
			return models.ErrInvalidAmount
		}
		if err := tx.UpdateAccountBalance(ctx, account.ID, next, now); err != nil {
			return err
		}
		txn := &models.Transaction{
			AccountID:      account.ID,
			Type:           typ,
			Amount:         amount,
			IdempotencyKey: key,
			CreatedAt:      now,
			Meta:           map[string]any{"card_id": o.card.ID},
		}
		if err := tx.CreateTransaction(ctx, txn); err != nil {
			return err
		}
		balance = next
		return nil
	})
	return balance, err
}

// replay answers a repeated key with the current balance and no side effects.
func (s *Service) replay(log *logrus.Entry, account *models.Account, prior *models.Transaction, typ models.TransactionType, amount decimal.Decimal) (decimal.Decimal, error) {
	if prior.AccountID != account.ID {
		metrics.LedgerMutations.WithLabelValues(string(typ), metrics.OutcomeRejected).Inc()
		log.WithField("owner_account_id", prior.AccountID).Warn("Idempotency key belongs to another account")
		return decimal.Zero, models.ErrIdempotencyKeyInUse
	}
	if prior.Type != typ || !prior.Amount.Equal(amount) {
		log.WithFields(logrus.Fields{
			"original_type":   prior.Type,
			"original_amount": utils.FormatMoney(prior.Amount),
			"amount":          utils.FormatMoney(amount),
		}).Warn("Idempotency key reused with different parameters")
	}
	metrics.LedgerMutations.WithLabelValues(string(typ), metrics.OutcomeReplayed).Inc()
	log.Info("Ledger mutation replayed")
	return account.Balance, nil
}

func (s *Service) replayAfterConflict(ctx context.Context, log *logrus.Entry, accountID int64, key string, typ models.TransactionType, amount decimal.Decimal) (decimal.Decimal, error) {
	var (
		account *models.Account
		prior   *models.Transaction
	)
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		if prior, err = tx.GetTransactionByKey(ctx, key); err != nil {
			return err
		}
		account, err = tx.GetAccountForUpdate(ctx, accountID)
		return err
	})
	if err != nil {
		metrics.LedgerMutations.WithLabelValues(string(typ), metrics.OutcomeError).Inc()
		return decimal.Zero, storageErr(string(typ), err)
	}
	return s.replay(log, account, prior, typ, amount)
}

// ListTransactions returns the account's most recent entries, newest first.
// limit is clamped to [1, MaxTransactionLimit]; zero or less means the default.
func (s *Service) ListTransactions(ctx context.Context, session *models.Session, limit int) ([]*models.Transaction, error) {
	switch {
	case limit <= 0:
		limit = DefaultTransactionLimit
	case limit > MaxTransactionLimit:
		limit = MaxTransactionLimit
	}

	var out []*models.Transaction
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		o, err := s.resolveAccount(ctx, tx, session)
		if err != nil {
			return err
		}
		out, err = tx.ListTransactions(ctx, o.account.ID, limit)
		return err
	})
	if err != nil {
		return nil, storageErr("list transactions", err)
	}
	if out == nil {
		out = []*models.Transaction{}
	}
	return out, nil
}

// Statement bundles what an account statement export needs
type Statement struct {
	Account      *models.Account
	HolderName   string
	CardLabel    string
	Transactions []*models.Transaction
	GeneratedAt  time.Time
}

// GetStatement returns the account snapshot with its latest transactions.
func (s *Service) GetStatement(ctx context.Context, session *models.Session, limit int) (*Statement, error) {
	if limit <= 0 || limit > MaxTransactionLimit {
		limit = MaxTransactionLimit
	}
	st := &Statement{GeneratedAt: s.now()}
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		o, err := s.resolveAccount(ctx, tx, session)
		if err != nil {
			return err
		}
		customer, err := tx.GetCustomer(ctx, o.card.CustomerID)
		if err != nil {
			return err
		}
		txns, err := tx.ListTransactions(ctx, o.account.ID, limit)
		if err != nil {
			return err
		}
		st.Account = o.account
		st.HolderName = customer.FullName
		st.CardLabel = utils.CardLabel(o.card.Network, o.card.Last4)
		st.Transactions = txns
		return nil
	})
	if err != nil {
		return nil, storageErr("statement", err)
	}
	return st, nil
}

func (s *Service) notifyTransaction(o *owner, typ models.TransactionType, amount, balance decimal.Decimal) {
	if s.notifier == nil || o.customer == nil || o.customer.Email == "" {
		return
	}
	go func() {
		if err := s.notifier.SendTransactionNotification(o.customer.Email, o.customer.FullName, o.account.ID, typ, amount, balance); err != nil {
			s.log.WithError(err).Warn("Failed to send transaction notification")
		}
	}()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry aborted: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}
