package models

import "time"

// CardState is the lockout state of a card at a point in time
type CardState int

const (
	CardActive CardState = iota
	CardLocked
	CardBlocked
)

func (s CardState) String() string {
	switch s {
	case CardActive:
		return "active"
	case CardLocked:
		return "locked"
	case CardBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Card represents a payment card used to authenticate at the ATM
type Card struct {
	ID             int64      `json:"id"`
	CustomerID     int64      `json:"customer_id"`
	Token          string     `json:"-"` // Opaque card reference presented by the terminal
	BIN            string     `json:"bin"`
	Last4          string     `json:"last4"`
	Network        string     `json:"network"`
	PINHash        string     `json:"-"` // Not serialized
	FailedAttempts int        `json:"failed_attempts"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
	Blocked        bool       `json:"blocked"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// State derives the lockout state. An expired lock reads as active; nothing sweeps it.
func (c *Card) State(now time.Time) CardState {
	if c.Blocked {
		return CardBlocked
	}
	if c.LockedUntil != nil && c.LockedUntil.After(now) {
		return CardLocked
	}
	return CardActive
}
