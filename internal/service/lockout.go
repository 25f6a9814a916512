package service

import (
	"time"

	"github.com/Dan9191/atm-service/internal/models"
)

// Reasons a login was refused, recorded in audit metadata only
const (
	reasonUnknownCard = "unknown_card"
	reasonBlocked     = "blocked"
	reasonLocked      = "locked"
	reasonBadPIN      = "bad_pin"
)

// LockoutPolicy locks a card for Window after Threshold consecutive PIN failures
type LockoutPolicy struct {
	Threshold int
	Window    time.Duration
}

// denyReason returns why the card may not authenticate right now, or "" when it is active.
func (p LockoutPolicy) denyReason(card *models.Card, now time.Time) string {
	switch card.State(now) {
	case models.CardBlocked:
		return reasonBlocked
	case models.CardLocked:
		return reasonLocked
	}
	return ""
}

// registerFailure counts a PIN mismatch. Reaching the threshold locks the card
// and starts the counter over, so a full new cycle is needed after the lock expires.
func (p LockoutPolicy) registerFailure(card *models.Card, now time.Time) (attempts int, locked bool) {
	card.FailedAttempts++
	attempts = card.FailedAttempts
	if card.FailedAttempts >= p.Threshold {
		until := now.Add(p.Window)
		card.LockedUntil = &until
		card.FailedAttempts = 0
		return attempts, true
	}
	return attempts, false
}

func (p LockoutPolicy) registerSuccess(card *models.Card) {
	card.FailedAttempts = 0
	card.LockedUntil = nil
}
