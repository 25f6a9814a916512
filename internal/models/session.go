package models

import "time"

// Session is a live authentication grant bound to a card
type Session struct {
	ID             int64
	CardID         int64
	TokenHash      string
	CreatedAt      time.Time
	LastActivityAt time.Time
	ExpiresAt      time.Time
	RevokedAt      *time.Time
	Origin         string
	UserAgentHash  string
}

// Expired reports whether the absolute expiry has passed.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Revoked is terminal regardless of expiry.
func (s *Session) Revoked() bool {
	return s.RevokedAt != nil
}
