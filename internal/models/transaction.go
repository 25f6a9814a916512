package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the direction of a balance mutation
type TransactionType string

const (
	TransactionDeposit    TransactionType = "deposit"
	TransactionWithdrawal TransactionType = "withdrawal"
)

// Transaction is an immutable record of one balance mutation
type Transaction struct {
	ID             int64           `json:"id"`
	AccountID      int64           `json:"account_id"`
	Type           TransactionType `json:"type"`
	Amount         decimal.Decimal `json:"amount"` // Always positive; direction comes from Type
	IdempotencyKey string          `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
	Meta           map[string]any  `json:"meta,omitempty"`
}
