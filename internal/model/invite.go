package model

import "time"

// Invite lets one user join an existing household with a preset role.
type Invite struct {
	ID          int64      `json:"id"`
	Token       string     `json:"token"`
	HouseholdID int64      `json:"household_id"`
	Role        string     `json:"role"`
	CreatedBy   int64      `json:"created_by"`
	ExpiresAt   time.Time  `json:"expires_at"`
	UsedBy      *int64     `json:"used_by,omitempty"`
	UsedAt      *time.Time `json:"used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
