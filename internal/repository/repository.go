package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Dan9191/atm-service/internal/models"
	"github.com/jackc/pgconn"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is a unique constraint violation.
	ErrConflict = errors.New("conflict")
	// ErrRetryable marks lock-wait timeouts, serialization failures and deadlocks.
	// The unit of work was rolled back and may be run again.
	ErrRetryable = errors.New("retryable storage failure")
)

// Store is the unit-of-work boundary over persisted state.
type Store interface {
	// WithTx runs fn as one atomic, isolated unit. It commits when fn returns nil
	// and rolls back on any error or panic; the underlying resources are released exactly once.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	// TouchSession records session activity outside any unit of work. Lost updates are acceptable.
	TouchSession(ctx context.Context, sessionID int64, at time.Time) error
	// PurgeSessions deletes sessions that expired or were revoked before the cutoff.
	PurgeSessions(ctx context.Context, before time.Time) (int64, error)
	Ping(ctx context.Context) error
}

// Tx is the set of reads and writes available inside a unit of work
type Tx interface {
	CreateCustomer(ctx context.Context, customer *models.Customer) error
	GetCustomer(ctx context.Context, id int64) (*models.Customer, error)

	CreateCard(ctx context.Context, card *models.Card) error
	GetCard(ctx context.Context, id int64) (*models.Card, error)
	// GetCardByTokenForUpdate locks the card row until the unit of work ends.
	GetCardByTokenForUpdate(ctx context.Context, token string) (*models.Card, error)
	UpdateCardLockState(ctx context.Context, card *models.Card) error
	SetCardBlocked(ctx context.Context, cardID int64, blocked bool, at time.Time) error

	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccountByCustomer(ctx context.Context, customerID int64) (*models.Account, error)
	// GetAccountForUpdate locks the account row until the unit of work ends.
	GetAccountForUpdate(ctx context.Context, accountID int64) (*models.Account, error)
	UpdateAccountBalance(ctx context.Context, accountID int64, balance decimal.Decimal, at time.Time) error

	// GetTransactionByKey looks up a transaction by idempotency key regardless of account.
	GetTransactionByKey(ctx context.Context, key string) (*models.Transaction, error)
	// CreateTransaction returns ErrConflict when the idempotency key already exists.
	CreateTransaction(ctx context.Context, txn *models.Transaction) error
	ListTransactions(ctx context.Context, accountID int64, limit int) ([]*models.Transaction, error)

	CreateSession(ctx context.Context, session *models.Session) error
	// GetLiveSessionByTokenHash ignores revoked sessions; expiry is checked by the caller.
	GetLiveSessionByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error)
	// RevokeSession reports whether this call performed the revocation.
	RevokeSession(ctx context.Context, sessionID int64, at time.Time) (bool, error)
	RevokeCardSessions(ctx context.Context, cardID int64, at time.Time) (int64, error)

	CreateAuditLog(ctx context.Context, entry *models.AuditLog) error
	// ListAuditLogs returns newest first; a nil cardID lists all cards.
	ListAuditLogs(ctx context.Context, cardID *int64, limit int) ([]*models.AuditLog, error)
}

const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

func isUniqueViolation(err error) bool {
	return pgCode(err) == codeUniqueViolation
}

func isRetryable(err error) bool {
	switch pgCode(err) {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return true
	}
	return false
}

// pgCode extracts the SQLSTATE from either lib/pq or pgconn errors.
func pgCode(err error) string {
	var pe *pq.Error
	if errors.As(err, &pe) {
		return string(pe.Code)
	}
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) {
		return pgerr.Code
	}
	return ""
}
