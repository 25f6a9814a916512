package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dan9191/atm-service/internal/models"
	"github.com/shopspring/decimal"
)

// Fixture describes one demo customer with a single card and account
type Fixture struct {
	FullName string
	Email    string
	Balance  decimal.Decimal
	Token    string
	BIN      string
	Last4    string
	Network  string
	PIN      string
}

// DemoFixtures are the cards available on a fresh local install.
func DemoFixtures() []Fixture {
	return []Fixture{
		{FullName: "Alex Rivera", Balance: decimal.RequireFromString("1250.00"), Token: "TOK_VISA_1111", BIN: "411111", Last4: "1111", Network: "visa", PIN: "1234"},
		{FullName: "Sam Lee", Balance: decimal.RequireFromString("890.00"), Token: "TOK_MC_2222", BIN: "555555", Last4: "2222", Network: "mastercard", PIN: "4321"},
		{FullName: "Tony Stark", Balance: decimal.RequireFromString("2000.00"), Token: "TOK_MAESTRO_3333", BIN: "353535", Last4: "3333", Network: "maestro", PIN: "3333"},
		{FullName: "Bruce Wayne", Balance: decimal.RequireFromString("1500.00"), Token: "TOK_STAR_4444", BIN: "444444", Last4: "4444", Network: "star", PIN: "4444"},
		{FullName: "Clark Kent", Balance: decimal.RequireFromString("950.00"), Token: "TOK_PULSE_5555", BIN: "555556", Last4: "5555", Network: "pulse", PIN: "5555"},
		{FullName: "Diana Prince", Balance: decimal.RequireFromString("1800.00"), Token: "TOK_PLUS_6666", BIN: "666666", Last4: "6666", Network: "plus", PIN: "6666"},
	}
}

// Seed inserts the fixtures, skipping any whose card token already exists.
// It returns the number of fixtures created.
func Seed(ctx context.Context, store Store, fixtures []Fixture, hashPIN func(string) (string, error)) (int, error) {
	created := 0
	for _, f := range fixtures {
		pinHash, err := hashPIN(f.PIN)
		if err != nil {
			return created, fmt.Errorf("failed to hash PIN for %s: %w", f.Token, err)
		}
		err = store.WithTx(ctx, func(tx Tx) error {
			_, err := tx.GetCardByTokenForUpdate(ctx, f.Token)
			if err == nil {
				return errSkip
			}
			if !errors.Is(err, ErrNotFound) {
				return err
			}

			customer := &models.Customer{FullName: f.FullName, Email: f.Email}
			if err := tx.CreateCustomer(ctx, customer); err != nil {
				return err
			}
			card := &models.Card{
				CustomerID: customer.ID,
				Token:      f.Token,
				BIN:        f.BIN,
				Last4:      f.Last4,
				Network:    f.Network,
				PINHash:    pinHash,
			}
			if err := tx.CreateCard(ctx, card); err != nil {
				return err
			}
			return tx.CreateAccount(ctx, &models.Account{
				CustomerID: customer.ID,
				Currency:   "USD",
				Balance:    f.Balance,
			})
		})
		switch {
		case errors.Is(err, errSkip):
			continue
		case err != nil:
			return created, fmt.Errorf("failed to seed %s: %w", f.Token, err)
		}
		created++
	}
	return created, nil
}

var errSkip = errors.New("skip")
