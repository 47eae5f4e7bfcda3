package model

import "time"

type NotificationPrefs struct {
	Email         bool `json:"email"`
	Push          bool `json:"push"`
	SMS           bool `json:"sms"`
	BackupContact bool `json:"backup_contact"`
}

// Any reports whether at least one channel is switched on.
func (n NotificationPrefs) Any() bool {
	return n.Email || n.Push || n.SMS || n.BackupContact
}

// Profile is one household member. Role is stored as raw text and is only
// trusted after it has been parsed against the role table.
type Profile struct {
	UserID               int64             `json:"user_id"`
	DisplayName          string            `json:"display_name"`
	PreferredName        *string           `json:"preferred_name"`
	Role                 string            `json:"role"`
	HouseholdID          *int64            `json:"household_id"`
	Phone                *string           `json:"phone"`
	DateOfBirth          *string           `json:"date_of_birth"`
	Bio                  *string           `json:"bio"`
	Timezone             *string           `json:"timezone"`
	Language             *string           `json:"language"`
	DietaryPreferences   []string          `json:"dietary_preferences"`
	Allergies            []string          `json:"allergies"`
	AvatarRef            *string           `json:"avatar_ref"`
	Notifications        NotificationPrefs `json:"notifications"`
	HasPIN               bool              `json:"has_pin"`
	CompletionPercentage int               `json:"profile_completion_percentage"`
	IsActive             bool              `json:"is_active"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}
