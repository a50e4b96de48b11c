package device

import "time"

// Endpoint is one registered push destination. Unique per (user, token).
// Deactivation is irreversible without a fresh registration.
type Endpoint struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	Token      string    `json:"token"`
	Platform   string    `json:"platform"`
	Sandbox    bool      `json:"sandbox"`
	Active     bool      `json:"active"`
	LastUsedAt time.Time `json:"last_used_at"`
	CreatedAt  time.Time `json:"created_at"`
}
