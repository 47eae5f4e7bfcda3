package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/dayboard/internal/model"
)

// AccessStore reads everything the route guard needs to decide a request.
// Nothing is cached: every call hits the database.
type AccessStore struct {
	db *sql.DB
}

func NewAccessStore(db *sql.DB) *AccessStore {
	return &AccessStore{db: db}
}

// Lookup returns the access record for a user, or nil when the user has no
// profile.
func (s *AccessStore) Lookup(ctx context.Context, userID int64) (*model.Access, error) {
	var (
		a           model.Access
		householdID sql.NullInt64
		joinedID    sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT p.user_id, p.role, p.is_active, p.household_id, h.id
		 FROM profiles p
		 LEFT JOIN households h ON h.id = p.household_id
		 WHERE p.user_id = ?`,
		userID,
	).Scan(&a.UserID, &a.Role, &a.IsActive, &householdID, &joinedID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup access: %w", err)
	}
	a.HouseholdID = nullInt64(householdID)
	a.HouseholdMissing = householdID.Valid && !joinedID.Valid

	a.UserOverrides = map[string]bool{}
	a.HouseholdOverrides = map[string]bool{}

	var hid int64 = -1
	if householdID.Valid && joinedID.Valid {
		hid = householdID.Int64
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT scope, capability, granted FROM feature_overrides
		 WHERE (scope = 'user' AND target_id = ?) OR (scope = 'household' AND target_id = ?)`,
		userID, hid,
	)
	if err != nil {
		return nil, fmt.Errorf("lookup overrides: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var scope, capability string
		var granted bool
		if err := rows.Scan(&scope, &capability, &granted); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		if scope == model.OverrideScopeUser {
			a.UserOverrides[capability] = granted
		} else {
			a.HouseholdOverrides[capability] = granted
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate overrides: %w", err)
	}
	return &a, nil
}
