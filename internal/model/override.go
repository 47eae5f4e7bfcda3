package model

import "time"

const (
	OverrideScopeUser      = "user"
	OverrideScopeHousehold = "household"
)

// FeatureOverride grants or revokes one capability for a user or a whole
// household, regardless of role defaults.
type FeatureOverride struct {
	ID         int64     `json:"id"`
	Scope      string    `json:"scope"`
	TargetID   int64     `json:"target_id"`
	Capability string    `json:"capability"`
	Granted    bool      `json:"granted"`
	CreatedBy  *int64    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
