package model

// Access is the server-side view of what a user is: role, household and
// explicit overrides, read fresh for every guarded request.
type Access struct {
	UserID             int64
	Role               string
	IsActive           bool
	HouseholdID        *int64
	HouseholdMissing   bool
	UserOverrides      map[string]bool
	HouseholdOverrides map[string]bool
}

// HouseholdReady reports whether the user belongs to a household that exists.
func (a *Access) HouseholdReady() bool {
	return a.HouseholdID != nil && !a.HouseholdMissing
}
