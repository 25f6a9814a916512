package repository

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/Dan9191/atm-service/internal/models"
	"github.com/shopspring/decimal"
)

// MemoryRepository is an in-process Store for tests and local runs.
// Units of work are serialized by a single mutex and roll back by restoring a snapshot.
type MemoryRepository struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	nextID       int64
	customers    map[int64]models.Customer
	cards        map[int64]models.Card
	accounts     map[int64]models.Account
	transactions []models.Transaction
	sessions     map[int64]models.Session
	audit        []models.AuditLog
}

// NewMemoryRepository returns an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{state: &memState{
		customers: map[int64]models.Customer{},
		cards:     map[int64]models.Card{},
		accounts:  map[int64]models.Account{},
		sessions:  map[int64]models.Session{},
	}}
}

func (r *MemoryRepository) WithTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.state.clone()
	defer func() {
		if p := recover(); p != nil {
			r.state = snapshot
			panic(p)
		}
		if err != nil {
			r.state = snapshot
		}
	}()
	return fn(&memTx{s: r.state})
}

func (r *MemoryRepository) TouchSession(ctx context.Context, sessionID int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.state.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.LastActivityAt.Before(at) {
		s.LastActivityAt = at
		r.state.sessions[sessionID] = s
	}
	return nil
}

func (r *MemoryRepository) PurgeSessions(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.state.sessions {
		if s.ExpiresAt.Before(before) || (s.RevokedAt != nil && s.RevokedAt.Before(before)) {
			delete(r.state.sessions, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *memState) clone() *memState {
	c := &memState{
		nextID:       s.nextID,
		customers:    maps.Clone(s.customers),
		cards:        maps.Clone(s.cards),
		accounts:     maps.Clone(s.accounts),
		transactions: append([]models.Transaction(nil), s.transactions...),
		sessions:     maps.Clone(s.sessions),
		audit:        append([]models.AuditLog(nil), s.audit...),
	}
	return c
}

func (s *memState) id() int64 {
	s.nextID++
	return s.nextID
}

type memTx struct {
	s *memState
}

func (t *memTx) CreateCustomer(_ context.Context, c *models.Customer) error {
	c.ID = t.s.id()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	t.s.customers[c.ID] = *c
	return nil
}

func (t *memTx) GetCustomer(_ context.Context, id int64) (*models.Customer, error) {
	c, ok := t.s.customers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (t *memTx) CreateCard(_ context.Context, c *models.Card) error {
	if _, ok := t.s.customers[c.CustomerID]; !ok {
		return fmt.Errorf("customer %d: %w", c.CustomerID, ErrNotFound)
	}
	for _, existing := range t.s.cards {
		if existing.Token == c.Token {
			return fmt.Errorf("%w: card token", ErrConflict)
		}
	}
	now := time.Now().UTC()
	c.ID = t.s.id()
	c.CreatedAt, c.UpdatedAt = now, now
	t.s.cards[c.ID] = copyCard(*c)
	return nil
}

func (t *memTx) GetCard(_ context.Context, id int64) (*models.Card, error) {
	c, ok := t.s.cards[id]
	if !ok {
		return nil, ErrNotFound
	}
	c = copyCard(c)
	return &c, nil
}

func (t *memTx) GetCardByTokenForUpdate(_ context.Context, token string) (*models.Card, error) {
	for _, c := range t.s.cards {
		if c.Token == token {
			c = copyCard(c)
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) UpdateCardLockState(_ context.Context, c *models.Card) error {
	stored, ok := t.s.cards[c.ID]
	if !ok {
		return ErrNotFound
	}
	if c.FailedAttempts < 0 {
		return fmt.Errorf("failed attempts must not be negative")
	}
	stored.FailedAttempts = c.FailedAttempts
	stored.LockedUntil = copyTime(c.LockedUntil)
	stored.UpdatedAt = time.Now().UTC()
	t.s.cards[c.ID] = stored
	return nil
}

func (t *memTx) SetCardBlocked(_ context.Context, cardID int64, blocked bool, at time.Time) error {
	stored, ok := t.s.cards[cardID]
	if !ok {
		return ErrNotFound
	}
	stored.Blocked = blocked
	stored.UpdatedAt = at
	t.s.cards[cardID] = stored
	return nil
}

func (t *memTx) CreateAccount(_ context.Context, a *models.Account) error {
	if _, ok := t.s.customers[a.CustomerID]; !ok {
		return fmt.Errorf("customer %d: %w", a.CustomerID, ErrNotFound)
	}
	if a.Balance.IsNegative() {
		return fmt.Errorf("balance must not be negative")
	}
	if a.Currency == "" {
		a.Currency = "USD"
	}
	a.ID = t.s.id()
	a.UpdatedAt = time.Now().UTC()
	t.s.accounts[a.ID] = *a
	return nil
}

func (t *memTx) GetAccountByCustomer(_ context.Context, customerID int64) (*models.Account, error) {
	var found *models.Account
	for _, a := range t.s.accounts {
		if a.CustomerID != customerID {
			continue
		}
		if found == nil || a.ID < found.ID {
			a := a
			found = &a
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (t *memTx) GetAccountForUpdate(_ context.Context, accountID int64) (*models.Account, error) {
	a, ok := t.s.accounts[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (t *memTx) UpdateAccountBalance(_ context.Context, accountID int64, balance decimal.Decimal, at time.Time) error {
	a, ok := t.s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	if balance.IsNegative() {
		return fmt.Errorf("balance must not be negative")
	}
	a.Balance = balance
	a.UpdatedAt = at
	t.s.accounts[accountID] = a
	return nil
}

func (t *memTx) GetTransactionByKey(_ context.Context, key string) (*models.Transaction, error) {
	for _, txn := range t.s.transactions {
		if txn.IdempotencyKey == key {
			txn.Meta = maps.Clone(txn.Meta)
			return &txn, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) CreateTransaction(_ context.Context, txn *models.Transaction) error {
	if _, ok := t.s.accounts[txn.AccountID]; !ok {
		return fmt.Errorf("account %d: %w", txn.AccountID, ErrNotFound)
	}
	if !txn.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}
	for _, existing := range t.s.transactions {
		if existing.IdempotencyKey == txn.IdempotencyKey {
			return fmt.Errorf("%w: idempotency key", ErrConflict)
		}
	}
	txn.ID = t.s.id()
	stored := *txn
	stored.Meta = maps.Clone(txn.Meta)
	t.s.transactions = append(t.s.transactions, stored)
	return nil
}

func (t *memTx) ListTransactions(_ context.Context, accountID int64, limit int) ([]*models.Transaction, error) {
	var out []*models.Transaction
	for _, txn := range t.s.transactions {
		if txn.AccountID != accountID {
			continue
		}
		txn.Meta = maps.Clone(txn.Meta)
		out = append(out, &txn)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) CreateSession(_ context.Context, s *models.Session) error {
	if _, ok := t.s.cards[s.CardID]; !ok {
		return fmt.Errorf("card %d: %w", s.CardID, ErrNotFound)
	}
	for _, existing := range t.s.sessions {
		if existing.TokenHash == s.TokenHash {
			return fmt.Errorf("%w: token hash", ErrConflict)
		}
	}
	s.ID = t.s.id()
	stored := *s
	stored.RevokedAt = copyTime(s.RevokedAt)
	t.s.sessions[s.ID] = stored
	return nil
}

func (t *memTx) GetLiveSessionByTokenHash(_ context.Context, tokenHash string) (*models.Session, error) {
	for _, s := range t.s.sessions {
		if s.TokenHash == tokenHash && s.RevokedAt == nil {
			return &s, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) RevokeSession(_ context.Context, sessionID int64, at time.Time) (bool, error) {
	s, ok := t.s.sessions[sessionID]
	if !ok || s.RevokedAt != nil {
		return false, nil
	}
	s.RevokedAt = &at
	t.s.sessions[sessionID] = s
	return true, nil
}

func (t *memTx) RevokeCardSessions(_ context.Context, cardID int64, at time.Time) (int64, error) {
	var n int64
	for id, s := range t.s.sessions {
		if s.CardID != cardID || s.RevokedAt != nil {
			continue
		}
		revokedAt := at
		s.RevokedAt = &revokedAt
		t.s.sessions[id] = s
		n++
	}
	return n, nil
}

func (t *memTx) CreateAuditLog(_ context.Context, e *models.AuditLog) error {
	e.ID = t.s.id()
	stored := *e
	if e.CardID != nil {
		id := *e.CardID
		stored.CardID = &id
	}
	stored.Meta = maps.Clone(e.Meta)
	t.s.audit = append(t.s.audit, stored)
	return nil
}

func (t *memTx) ListAuditLogs(_ context.Context, cardID *int64, limit int) ([]*models.AuditLog, error) {
	var out []*models.AuditLog
	for i := len(t.s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		e := t.s.audit[i]
		if cardID != nil && (e.CardID == nil || *e.CardID != *cardID) {
			continue
		}
		e.Meta = maps.Clone(e.Meta)
		out = append(out, &e)
	}
	return out, nil
}

func copyCard(c models.Card) models.Card {
	c.LockedUntil = copyTime(c.LockedUntil)
	return c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
