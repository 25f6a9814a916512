package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Dan9191/atm-service/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func plainHash(pin string) (string, error) { return "hash:" + pin, nil }

func seededMemory(t *testing.T) *MemoryRepository {
	t.Helper()
	repo := NewMemoryRepository()
	n, err := Seed(context.Background(), repo, DemoFixtures(), plainHash)
	require.NoError(t, err)
	require.Equal(t, len(DemoFixtures()), n)
	return repo
}

func TestSeed_Idempotent(t *testing.T) {
	repo := seededMemory(t)
	n, err := Seed(context.Background(), repo, DemoFixtures(), plainHash)
	require.NoError(t, err)
	require.Zero(t, n)

	err = repo.WithTx(context.Background(), func(tx Tx) error {
		card, err := tx.GetCardByTokenForUpdate(context.Background(), "TOK_VISA_1111")
		require.NoError(t, err)
		require.Equal(t, "hash:1234", card.PINHash)
		acct, err := tx.GetAccountByCustomer(context.Background(), card.CustomerID)
		require.NoError(t, err)
		require.True(t, acct.Balance.Equal(decimal.RequireFromString("1250.00")))
		return nil
	})
	require.NoError(t, err)
}

func TestMemory_RollbackOnError(t *testing.T) {
	repo := seededMemory(t)
	ctx := context.Background()
	boom := errors.New("boom")

	var accountID int64
	err := repo.WithTx(ctx, func(tx Tx) error {
		card, err := tx.GetCardByTokenForUpdate(ctx, "TOK_MC_2222")
		require.NoError(t, err)
		acct, err := tx.GetAccountByCustomer(ctx, card.CustomerID)
		require.NoError(t, err)
		accountID = acct.ID
		require.NoError(t, tx.UpdateAccountBalance(ctx, acct.ID, decimal.Zero, time.Now()))
		require.NoError(t, tx.CreateTransaction(ctx, &models.Transaction{
			AccountID: acct.ID, Type: models.TransactionWithdrawal,
			Amount: decimal.RequireFromString("890.00"), IdempotencyKey: "k-rollback", CreatedAt: time.Now(),
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = repo.WithTx(ctx, func(tx Tx) error {
		acct, err := tx.GetAccountForUpdate(ctx, accountID)
		require.NoError(t, err)
		require.True(t, acct.Balance.Equal(decimal.RequireFromString("890.00")))
		_, err = tx.GetTransactionByKey(ctx, "k-rollback")
		require.ErrorIs(t, err, ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestMemory_Constraints(t *testing.T) {
	repo := seededMemory(t)
	ctx := context.Background()

	err := repo.WithTx(ctx, func(tx Tx) error {
		card, err := tx.GetCardByTokenForUpdate(ctx, "TOK_VISA_1111")
		require.NoError(t, err)
		acct, err := tx.GetAccountByCustomer(ctx, card.CustomerID)
		require.NoError(t, err)

		require.Error(t, tx.UpdateAccountBalance(ctx, acct.ID, decimal.NewFromInt(-1), time.Now()))
		require.Error(t, tx.CreateTransaction(ctx, &models.Transaction{
			AccountID: acct.ID, Type: models.TransactionDeposit, Amount: decimal.Zero, IdempotencyKey: "zero",
		}))

		txn := &models.Transaction{AccountID: acct.ID, Type: models.TransactionDeposit, Amount: decimal.NewFromInt(1), IdempotencyKey: "dup"}
		require.NoError(t, tx.CreateTransaction(ctx, txn))
		dup := &models.Transaction{AccountID: acct.ID, Type: models.TransactionDeposit, Amount: decimal.NewFromInt(1), IdempotencyKey: "dup"}
		require.ErrorIs(t, tx.CreateTransaction(ctx, dup), ErrConflict)

		require.ErrorIs(t, tx.CreateCard(ctx, &models.Card{CustomerID: card.CustomerID, Token: "TOK_VISA_1111"}), ErrConflict)
		return nil
	})
	require.NoError(t, err)
}

func TestMemory_Sessions(t *testing.T) {
	repo := seededMemory(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	var session *models.Session
	err := repo.WithTx(ctx, func(tx Tx) error {
		card, err := tx.GetCardByTokenForUpdate(ctx, "TOK_PLUS_6666")
		require.NoError(t, err)
		session = &models.Session{CardID: card.ID, TokenHash: "h1", CreatedAt: now, LastActivityAt: now, ExpiresAt: now.Add(15 * time.Minute)}
		require.NoError(t, tx.CreateSession(ctx, session))
		require.ErrorIs(t, tx.CreateSession(ctx, &models.Session{CardID: card.ID, TokenHash: "h1"}), ErrConflict)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, repo.TouchSession(ctx, session.ID, now.Add(time.Minute)))

	err = repo.WithTx(ctx, func(tx Tx) error {
		s, err := tx.GetLiveSessionByTokenHash(ctx, "h1")
		require.NoError(t, err)
		require.Equal(t, now.Add(time.Minute), s.LastActivityAt)

		changed, err := tx.RevokeSession(ctx, s.ID, now.Add(2*time.Minute))
		require.NoError(t, err)
		require.True(t, changed)
		changed, err = tx.RevokeSession(ctx, s.ID, now.Add(3*time.Minute))
		require.NoError(t, err)
		require.False(t, changed)

		_, err = tx.GetLiveSessionByTokenHash(ctx, "h1")
		require.ErrorIs(t, err, ErrNotFound)
		return nil
	})
	require.NoError(t, err)

	purged, err := repo.PurgeSessions(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, purged)
}

func TestMemory_ListOrdering(t *testing.T) {
	repo := seededMemory(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	err := repo.WithTx(ctx, func(tx Tx) error {
		card, err := tx.GetCardByTokenForUpdate(ctx, "TOK_STAR_4444")
		require.NoError(t, err)
		acct, err := tx.GetAccountByCustomer(ctx, card.CustomerID)
		require.NoError(t, err)
		for i, key := range []string{"a", "b", "c"} {
			require.NoError(t, tx.CreateTransaction(ctx, &models.Transaction{
				AccountID: acct.ID, Type: models.TransactionDeposit, Amount: decimal.NewFromInt(1),
				IdempotencyKey: key, CreatedAt: base.Add(time.Duration(i) * time.Second),
			}))
			cardID := card.ID
			require.NoError(t, tx.CreateAuditLog(ctx, &models.AuditLog{CardID: &cardID, Action: key, Result: models.AuditResultOK, Timestamp: base}))
		}

		txns, err := tx.ListTransactions(ctx, acct.ID, 2)
		require.NoError(t, err)
		require.Len(t, txns, 2)
		require.Equal(t, "c", txns[0].IdempotencyKey)
		require.Equal(t, "b", txns[1].IdempotencyKey)

		entries, err := tx.ListAuditLogs(ctx, &card.ID, 10)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		require.Equal(t, "c", entries[0].Action)

		other := card.ID + 1000
		entries, err = tx.ListAuditLogs(ctx, &other, 10)
		require.NoError(t, err)
		require.Empty(t, entries)
		return nil
	})
	require.NoError(t, err)
}
