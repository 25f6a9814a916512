package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/atm-service/internal/models"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schemaSQL string

// Repository is the Postgres-backed Store
type Repository struct {
	db *sql.DB
}

// NewRepository initializes a new repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Migrate applies the schema. Every statement is idempotent.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", classify(err))
	}
	defer tx.Rollback()

	// keep exclusive sections short; a lock wait past this surfaces as ErrRetryable
	if _, err := tx.ExecContext(ctx, `SET LOCAL lock_timeout = '3s'`); err != nil {
		return fmt.Errorf("failed to set lock timeout: %w", classify(err))
	}
	if _, err := tx.ExecContext(ctx, `SET LOCAL statement_timeout = '5s'`); err != nil {
		return fmt.Errorf("failed to set statement timeout: %w", classify(err))
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", classify(err))
	}
	return nil
}

func (r *Repository) TouchSession(ctx context.Context, sessionID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE atm.sessions SET last_activity_at = $2
		WHERE id = $1 AND last_activity_at < $2`, sessionID, at)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

func (r *Repository) PurgeSessions(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM atm.sessions
		WHERE expires_at < $1 OR (revoked_at IS NOT NULL AND revoked_at < $1)`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	return res.RowsAffected()
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// classify maps driver errors onto the repository sentinels, keeping the cause in the chain.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case isRetryable(err):
		return fmt.Errorf("%w: %v", ErrRetryable, err)
	}
	return err
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) CreateCustomer(ctx context.Context, c *models.Customer) error {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO atm.customers (full_name, email)
		VALUES ($1, $2)
		RETURNING id, created_at`, c.FullName, nullString(c.Email)).
		Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create customer: %w", classify(err))
	}
	return nil
}

func (t *pgTx) GetCustomer(ctx context.Context, id int64) (*models.Customer, error) {
	c := &models.Customer{}
	var email sql.NullString
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, full_name, email, created_at
		FROM atm.customers
		WHERE id = $1`, id).
		Scan(&c.ID, &c.FullName, &email, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", classify(err))
	}
	c.Email = email.String
	return c, nil
}

const cardColumns = `id, customer_id, token, bin, last4, network, pin_hash,
	failed_attempts, locked_until, is_blocked, created_at, updated_at`

func scanCard(row *sql.Row) (*models.Card, error) {
	c := &models.Card{}
	var lockedUntil sql.NullTime
	err := row.Scan(&c.ID, &c.CustomerID, &c.Token, &c.BIN, &c.Last4, &c.Network, &c.PINHash,
		&c.FailedAttempts, &lockedUntil, &c.Blocked, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lockedUntil.Valid {
		until := lockedUntil.Time
		c.LockedUntil = &until
	}
	return c, nil
}

func (t *pgTx) CreateCard(ctx context.Context, c *models.Card) error {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO atm.cards (customer_id, token, bin, last4, network, pin_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		c.CustomerID, c.Token, c.BIN, c.Last4, c.Network, c.PINHash).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create card: %w", classify(err))
	}
	return nil
}

func (t *pgTx) GetCard(ctx context.Context, id int64) (*models.Card, error) {
	c, err := scanCard(t.tx.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM atm.cards WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get card: %w", classify(err))
	}
	return c, nil
}

func (t *pgTx) GetCardByTokenForUpdate(ctx context.Context, token string) (*models.Card, error) {
	c, err := scanCard(t.tx.QueryRowContext(ctx, `
		SELECT `+cardColumns+`
		FROM atm.cards
		WHERE token = $1
		FOR UPDATE`, token))
	if err != nil {
		return nil, fmt.Errorf("failed to lock card: %w", classify(err))
	}
	return c, nil
}

func (t *pgTx) UpdateCardLockState(ctx context.Context, c *models.Card) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE atm.cards
		SET failed_attempts = $2, locked_until = $3, updated_at = now()
		WHERE id = $1`, c.ID, c.FailedAttempts, nullTime(c.LockedUntil))
	if err != nil {
		return fmt.Errorf("failed to update card lock state: %w", classify(err))
	}
	return expectOne(res)
}

func (t *pgTx) SetCardBlocked(ctx context.Context, cardID int64, blocked bool, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE atm.cards SET is_blocked = $2, updated_at = $3
		WHERE id = $1`, cardID, blocked, at)
	if err != nil {
		return fmt.Errorf("failed to set card blocked: %w", classify(err))
	}
	return expectOne(res)
}

func (t *pgTx) CreateAccount(ctx context.Context, a *models.Account) error {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO atm.accounts (customer_id, currency, balance)
		VALUES ($1, $2, $3)
		RETURNING id, updated_at`, a.CustomerID, a.Currency, a.Balance).
		Scan(&a.ID, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", classify(err))
	}
	return nil
}

func (t *pgTx) GetAccountByCustomer(ctx context.Context, customerID int64) (*models.Account, error) {
	a := &models.Account{}
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, customer_id, currency, balance, updated_at
		FROM atm.accounts
		WHERE customer_id = $1
		ORDER BY id
		LIMIT 1`, customerID).
		Scan(&a.ID, &a.CustomerID, &a.Currency, &a.Balance, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", classify(err))
	}
	return a, nil
}

func (t *pgTx) GetAccountForUpdate(ctx context.Context, accountID int64) (*models.Account, error) {
	a := &models.Account{}
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, customer_id, currency, balance, updated_at
		FROM atm.accounts
		WHERE id = $1
		FOR UPDATE`, accountID).
		Scan(&a.ID, &a.CustomerID, &a.Currency, &a.Balance, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to lock account: %w", classify(err))
	}
	return a, nil
}

func (t *pgTx) UpdateAccountBalance(ctx context.Context, accountID int64, balance decimal.Decimal, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE atm.accounts SET balance = $2, updated_at = $3
		WHERE id = $1`, accountID, balance, at)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", classify(err))
	}
	return expectOne(res)
}

const transactionColumns = `id, account_id, type, amount, idempotency_key, created_at, meta`

func scanTransaction(scan func(dest ...any) error) (*models.Transaction, error) {
	txn := &models.Transaction{}
	var typ string
	var meta []byte
	if err := scan(&txn.ID, &txn.AccountID, &typ, &txn.Amount, &txn.IdempotencyKey, &txn.CreatedAt, &meta); err != nil {
		return nil, err
	}
	txn.Type = models.TransactionType(typ)
	if err := decodeMeta(meta, &txn.Meta); err != nil {
		return nil, err
	}
	return txn, nil
}

func (t *pgTx) GetTransactionByKey(ctx context.Context, key string) (*models.Transaction, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM atm.transactions WHERE idempotency_key = $1`, key)
	txn, err := scanTransaction(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", classify(err))
	}
	return txn, nil
}

func (t *pgTx) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	meta, err := encodeMeta(txn.Meta)
	if err != nil {
		return err
	}
	err = t.tx.QueryRowContext(ctx, `
		INSERT INTO atm.transactions (account_id, type, amount, idempotency_key, created_at, meta)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		txn.AccountID, string(txn.Type), txn.Amount, txn.IdempotencyKey, txn.CreatedAt, meta).
		Scan(&txn.ID)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", classify(err))
	}
	return nil
}

func (t *pgTx) ListTransactions(ctx context.Context, accountID int64, limit int) ([]*models.Transaction, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM atm.transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", classify(err))
	}
	defer rows.Close()

	var out []*models.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, txn)
	}
	return out, rows.Err()
}

func (t *pgTx) CreateSession(ctx context.Context, s *models.Session) error {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO atm.sessions (card_id, token_hash, created_at, last_activity_at, expires_at, origin, user_agent_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		s.CardID, s.TokenHash, s.CreatedAt, s.LastActivityAt, s.ExpiresAt,
		nullString(s.Origin), nullString(s.UserAgentHash)).
		Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", classify(err))
	}
	return nil
}

func (t *pgTx) GetLiveSessionByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	s := &models.Session{}
	var revokedAt sql.NullTime
	var origin, uaHash sql.NullString
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, card_id, token_hash, created_at, last_activity_at, expires_at, revoked_at, origin, user_agent_hash
		FROM atm.sessions
		WHERE token_hash = $1 AND revoked_at IS NULL`, tokenHash).
		Scan(&s.ID, &s.CardID, &s.TokenHash, &s.CreatedAt, &s.LastActivityAt, &s.ExpiresAt, &revokedAt, &origin, &uaHash)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", classify(err))
	}
	if revokedAt.Valid {
		at := revokedAt.Time
		s.RevokedAt = &at
	}
	s.Origin = origin.String
	s.UserAgentHash = uaHash.String
	return s, nil
}

func (t *pgTx) RevokeSession(ctx context.Context, sessionID int64, at time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE atm.sessions SET revoked_at = $2
		WHERE id = $1 AND revoked_at IS NULL`, sessionID, at)
	if err != nil {
		return false, fmt.Errorf("failed to revoke session: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *pgTx) RevokeCardSessions(ctx context.Context, cardID int64, at time.Time) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE atm.sessions SET revoked_at = $2
		WHERE card_id = $1 AND revoked_at IS NULL`, cardID, at)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke card sessions: %w", classify(err))
	}
	return res.RowsAffected()
}

func (t *pgTx) CreateAuditLog(ctx context.Context, e *models.AuditLog) error {
	meta, err := encodeMeta(e.Meta)
	if err != nil {
		return err
	}
	var cardID sql.NullInt64
	if e.CardID != nil {
		cardID = sql.NullInt64{Int64: *e.CardID, Valid: true}
	}
	err = t.tx.QueryRowContext(ctx, `
		INSERT INTO atm.audit_log (card_id, action, result, origin, ts, meta)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		cardID, e.Action, e.Result, nullString(e.Origin), e.Timestamp, meta).
		Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", classify(err))
	}
	return nil
}

func (t *pgTx) ListAuditLogs(ctx context.Context, cardID *int64, limit int) ([]*models.AuditLog, error) {
	var filter sql.NullInt64
	if cardID != nil {
		filter = sql.NullInt64{Int64: *cardID, Valid: true}
	}
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, card_id, action, result, origin, ts, meta
		FROM atm.audit_log
		WHERE $1::BIGINT IS NULL OR card_id = $1
		ORDER BY ts DESC, id DESC
		LIMIT $2`, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", classify(err))
	}
	defer rows.Close()

	var out []*models.AuditLog
	for rows.Next() {
		e := &models.AuditLog{}
		var card sql.NullInt64
		var origin sql.NullString
		var meta []byte
		if err := rows.Scan(&e.ID, &card, &e.Action, &e.Result, &origin, &e.Timestamp, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if card.Valid {
			id := card.Int64
			e.CardID = &id
		}
		e.Origin = origin.String
		if err := decodeMeta(meta, &e.Meta); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func encodeMeta(meta map[string]any) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode meta: %w", err)
	}
	return b, nil
}

func decodeMeta(raw []byte, dst *map[string]any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to decode meta: %w", err)
	}
	return nil
}
