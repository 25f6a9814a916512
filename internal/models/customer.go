package models

import "time"

// Customer represents the owner of cards and accounts
type Customer struct {
	ID        int64     `json:"id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email,omitempty"` // Optional, used for security notifications
	CreatedAt time.Time `json:"created_at"`
}
