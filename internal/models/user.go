package models

import "time"

// User holds the withdrawable balance for one identity. Records are created
// lazily with a zero balance on first reference.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username,omitempty"`
	Balance   float64   `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}
