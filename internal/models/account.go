package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account represents a monetary balance owned by a customer
type Account struct {
	ID         int64           `json:"id"`
	CustomerID int64           `json:"customer_id"`
	Currency   string          `json:"currency"`
	Balance    decimal.Decimal `json:"balance"` // NUMERIC(12,2), never negative
	UpdatedAt  time.Time       `json:"updated_at"`
}
