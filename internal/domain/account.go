package domain

import "time"

// Account is one linked financial account owned by exactly one user.
type Account struct {
	ID        string     `json:"id"`
	OwnerID   string     `json:"owner_id"`
	Name      string     `json:"name,omitempty"`
	Currency  string     `json:"currency"`
	Status    LinkStatus `json:"status"`
	UpdatedAt time.Time  `json:"updated_at"`
}
