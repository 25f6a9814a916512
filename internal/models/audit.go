package models

import "time"

// Audit actions
const (
	AuditPINFail     = "pin_fail"
	AuditPINOK       = "pin_ok"
	AuditPINThrottle = "pin_throttle"
	AuditLogout      = "logout"
	AuditCardBlock   = "card_block"
	AuditCardUnblock = "card_unblock"
)

// Audit results
const (
	AuditResultOK   = "ok"
	AuditResultDeny = "deny"
)

// AuditLog is an append-only security event record
type AuditLog struct {
	ID        int64          `json:"id"`
	CardID    *int64         `json:"card_id,omitempty"`
	Action    string         `json:"action"`
	Result    string         `json:"result"`
	Origin    string         `json:"origin,omitempty"`
	Timestamp time.Time      `json:"ts"`
	Meta      map[string]any `json:"meta,omitempty"`
}
